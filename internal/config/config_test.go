package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/meshtel/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
meshtel:
  node:
    listen: "127.0.0.1"
    port: 9000
    table_capacity: 8
  clock:
    ticks_per_second: 1000
    epoch: unix
  mesh:
    mode: host
    prefix: "fd00::/64"
    root_addr: "fd00::1"
    poll_interval: 250ms
  sensor:
    sink_addr: "fd00::1"
    interval: 2s
  telemetry:
    stdout: false
    kafka:
      enabled: true
      brokers: ["localhost:9092"]
      topic: rows
      compression: gzip
  log:
    level: debug
    format: json
  metrics:
    enabled: true
    listen: "127.0.0.1:9100"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Node.Listen)
	assert.Equal(t, 9000, cfg.Node.Port)
	assert.Equal(t, 8, cfg.Node.TableCapacity)
	assert.Equal(t, uint32(1000), cfg.Clock.TicksPerSecond)
	assert.Equal(t, "unix", cfg.Clock.Epoch)
	assert.Equal(t, "host", cfg.Mesh.Mode)
	assert.Equal(t, 250*time.Millisecond, cfg.Mesh.PollInterval)
	assert.Equal(t, 2*time.Second, cfg.Sensor.Interval)
	assert.False(t, cfg.Telemetry.Stdout)
	assert.True(t, cfg.Telemetry.Kafka.Enabled)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Telemetry.Kafka.Brokers)
	assert.Equal(t, 100*time.Millisecond, cfg.Telemetry.Kafka.BatchTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, netip.MustParsePrefix("fd00::/64"), cfg.MeshPrefix())
	assert.Equal(t, netip.MustParseAddrPort("127.0.0.1:9000"), cfg.ListenAddrPort())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8765, cfg.Node.Port)
	assert.Equal(t, 32, cfg.Node.TableCapacity)
	assert.Equal(t, uint32(128), cfg.Clock.TicksPerSecond)
	assert.Equal(t, "process", cfg.Clock.Epoch)
	assert.Equal(t, "static", cfg.Mesh.Mode)
	assert.Equal(t, "aaaa::1", cfg.Sensor.SinkAddr)
	assert.Equal(t, 5*time.Second, cfg.Sensor.Interval)
	assert.Equal(t, time.Second, cfg.Mesh.PollInterval)
	assert.True(t, cfg.Telemetry.Stdout)
	assert.Equal(t, netip.MustParseAddrPort("[::]:8765"), cfg.ListenAddrPort())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MESHTEL_NODE_PORT", "9999")
	t.Setenv("MESHTEL_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Node.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"log level", "meshtel:\n  log:\n    level: loud\n", "invalid log level"},
		{"log format", "meshtel:\n  log:\n    format: xml\n", "invalid log format"},
		{"port", "meshtel:\n  node:\n    port: 70000\n", "invalid node.port"},
		{"capacity", "meshtel:\n  node:\n    table_capacity: 0\n", "table_capacity"},
		{"listen", "meshtel:\n  node:\n    listen: nowhere\n", "invalid node.listen"},
		{"epoch", "meshtel:\n  clock:\n    epoch: lunar\n", "invalid clock.epoch"},
		{"mesh mode", "meshtel:\n  mesh:\n    mode: rpl\n", "invalid mesh.mode"},
		{"prefix", "meshtel:\n  mesh:\n    prefix: \"aaaa::\"\n", "invalid mesh.prefix"},
		{"root", "meshtel:\n  mesh:\n    root_addr: root\n", "invalid mesh.root_addr"},
		{"interval", "meshtel:\n  sensor:\n    interval: 0s\n", "sensor.interval"},
		{"kafka brokers", "meshtel:\n  telemetry:\n    kafka:\n      enabled: true\n", "brokers is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrConfigInvalid)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadLeavesSinkAddrUnparsed(t *testing.T) {
	cfg, err := Load(writeConfig(t, "meshtel:\n  sensor:\n    sink_addr: not-an-address\n"))
	require.NoError(t, err)
	assert.Equal(t, "not-an-address", cfg.Sensor.SinkAddr)
}

func TestYAML(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	out, err := cfg.YAML()
	require.NoError(t, err)
	text := string(out)
	assert.True(t, strings.HasPrefix(text, "meshtel:"))
	assert.Contains(t, text, "port: 8765")
	assert.Contains(t, text, "interval: 5s")
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "meshtel:\n  log:\n    level: info\n")

	changed := make(chan *GlobalConfig, 4)
	require.NoError(t, Watch(path, func(cfg *GlobalConfig, err error) {
		if err != nil {
			return
		}
		select {
		case changed <- cfg:
		default:
		}
	}))

	require.NoError(t, os.WriteFile(path, []byte("meshtel:\n  log:\n    level: debug\n"), 0644))

	select {
	case cfg := <-changed:
		assert.Equal(t, "debug", cfg.Log.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not observed")
	}
}

func TestWatchRequiresPath(t *testing.T) {
	assert.Error(t, Watch("", func(*GlobalConfig, error) {}))
}
