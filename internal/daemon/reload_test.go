package daemon

import (
	"path/filepath"
	"slices"
	"strconv"
	"testing"
	"time"

	"firestige.xyz/meshtel/internal/config"
)

func TestDaemon_ReloadLogLevel(t *testing.T) {
	tmpDir := t.TempDir()
	port := strconv.Itoa(freeUDPPort(t))

	configPath := filepath.Join(tmpDir, "config.yml")
	writeFile(t, configPath, `
meshtel:
  node:
    listen: 127.0.0.1
    port: `+port+`
  telemetry:
    stdout: false
    file:
      enabled: true
      path: `+filepath.Join(tmpDir, "telemetry.csv")+`
  log:
    level: info
    format: text
`)

	d, err := New(RoleReceiver, configPath, "")
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	if d.config.Log.Level != "info" {
		t.Fatalf("expected initial level info, got %s", d.config.Log.Level)
	}

	// Change the log level and a cold setting.
	writeFile(t, configPath, `
meshtel:
  node:
    listen: 127.0.0.1
    port: `+port+`
    table_capacity: 64
  telemetry:
    stdout: false
    file:
      enabled: true
      path: `+filepath.Join(tmpDir, "telemetry.csv")+`
  log:
    level: debug
    format: json
`)

	if err := d.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if d.config.Log.Level != "debug" || d.config.Log.Format != "json" {
		t.Fatalf("expected debug/json after reload, got %s/%s", d.config.Log.Level, d.config.Log.Format)
	}
	if d.config.Node.TableCapacity != 32 {
		t.Errorf("cold setting must not change without restart, got %d", d.config.Node.TableCapacity)
	}
}

func TestDaemon_ReloadInvalidConfigKeepsCurrent(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yml")
	writeFile(t, configPath, "meshtel:\n  log:\n    level: warn\n")

	d, err := New(RoleReceiver, configPath, "")
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}

	writeFile(t, configPath, "meshtel:\n  log:\n    level: loud\n")
	if err := d.Reload(); err == nil {
		t.Fatal("expected reload error for invalid level")
	}
	if d.config.Log.Level != "warn" {
		t.Errorf("config changed after failed reload: %s", d.config.Log.Level)
	}
}

func TestChangedSections(t *testing.T) {
	base := &config.GlobalConfig{}
	base.Telemetry.Kafka.Brokers = []string{"a:9092"}

	cur := *base
	cur.Mesh.PollInterval = time.Second
	cur.Telemetry.Kafka.Brokers = []string{"b:9092"}
	cur.Log.Level = "debug"

	got := changedSections(base, &cur)
	want := []string{"mesh", "telemetry"}
	if !slices.Equal(got, want) {
		t.Errorf("changedSections = %v, want %v", got, want)
	}
	if len(changedSections(base, base)) != 0 {
		t.Error("identical configs should report no changes")
	}
}
