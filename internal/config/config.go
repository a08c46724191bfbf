// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"firestige.xyz/meshtel/internal/core"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `meshtel:` root key in YAML.
type GlobalConfig struct {
	Node      NodeConfig      `mapstructure:"node" yaml:"node"`
	Clock     ClockConfig     `mapstructure:"clock" yaml:"clock"`
	Mesh      MeshConfig      `mapstructure:"mesh" yaml:"mesh"`
	Sensor    SensorConfig    `mapstructure:"sensor" yaml:"sensor"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Control   ControlConfig   `mapstructure:"control" yaml:"control"`
}

// ─── Node ───

// NodeConfig contains the datagram endpoint and ingest bounds.
type NodeConfig struct {
	Listen        string `mapstructure:"listen" yaml:"listen"` // Local bind address, "::" = all
	Port          int    `mapstructure:"port" yaml:"port"`     // Used as both source and destination port
	TableCapacity int    `mapstructure:"table_capacity" yaml:"table_capacity"`
}

// ClockConfig configures the tick clock.
type ClockConfig struct {
	TicksPerSecond uint32 `mapstructure:"ticks_per_second" yaml:"ticks_per_second"`
	Epoch          string `mapstructure:"epoch" yaml:"epoch"` // process | unix
}

// ─── Mesh ───

// MeshConfig configures the routing collaborator.
type MeshConfig struct {
	Mode         string        `mapstructure:"mode" yaml:"mode"`           // static | host
	Prefix       string        `mapstructure:"prefix" yaml:"prefix"`       // Mesh prefix advertised by the sink
	RootAddr     string        `mapstructure:"root_addr" yaml:"root_addr"` // Sink global address
	Interface    string        `mapstructure:"interface" yaml:"interface"` // Empty = any interface
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// SensorConfig configures the periodic sender role.
type SensorConfig struct {
	SinkAddr  string        `mapstructure:"sink_addr" yaml:"sink_addr"`   // Parsed at sensor start, not at load
	LocalPort int           `mapstructure:"local_port" yaml:"local_port"` // Source port, 0 = ephemeral
	Interval  time.Duration `mapstructure:"interval" yaml:"interval"`
}

// ─── Telemetry ───

// TelemetryConfig selects where CSV rows are written.
type TelemetryConfig struct {
	Stdout bool             `mapstructure:"stdout" yaml:"stdout"`
	File   FileOutputConfig `mapstructure:"file" yaml:"file"`
	Kafka  KafkaSinkConfig  `mapstructure:"kafka" yaml:"kafka"`
}

// KafkaSinkConfig configures the Kafka telemetry sink.
type KafkaSinkConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Brokers      []string      `mapstructure:"brokers" yaml:"brokers"`
	Topic        string        `mapstructure:"topic" yaml:"topic"`
	BatchSize    int           `mapstructure:"batch_size" yaml:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout" yaml:"batch_timeout"`
	Compression  string        `mapstructure:"compression" yaml:"compression"` // none | gzip | snappy | lz4 | zstd
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format  string           `mapstructure:"format" yaml:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures a rotated file output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Metrics & Control ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ControlConfig contains process control settings.
type ControlConfig struct {
	PIDFile string `mapstructure:"pid_file" yaml:"pid_file"`
	Socket  string `mapstructure:"socket" yaml:"socket"` // JSON-RPC control socket, empty = disabled
	Watch   bool   `mapstructure:"watch" yaml:"watch"`   // Reload on config file change
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `meshtel: ...`.
type configRoot struct {
	Meshtel GlobalConfig `mapstructure:"meshtel"`
}

// Load loads configuration from file. An empty path yields defaults plus
// environment overrides. Env vars map from keys, e.g. meshtel.node.port → MESHTEL_NODE_PORT.
func Load(path string) (*GlobalConfig, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func decode(v *viper.Viper) (*GlobalConfig, error) {
	var root configRoot
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&root, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Meshtel

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrConfigInvalid, err)
	}
	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "meshtel." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Node defaults
	v.SetDefault("meshtel.node.listen", "::")
	v.SetDefault("meshtel.node.port", 8765)
	v.SetDefault("meshtel.node.table_capacity", 32)

	// Clock defaults (Contiki-NG CLOCK_SECOND)
	v.SetDefault("meshtel.clock.ticks_per_second", 128)
	v.SetDefault("meshtel.clock.epoch", "process")

	// Mesh defaults
	v.SetDefault("meshtel.mesh.mode", "static")
	v.SetDefault("meshtel.mesh.prefix", "aaaa::/64")
	v.SetDefault("meshtel.mesh.root_addr", "aaaa::1")
	v.SetDefault("meshtel.mesh.interface", "")
	v.SetDefault("meshtel.mesh.poll_interval", "1s")

	// Sensor defaults
	v.SetDefault("meshtel.sensor.sink_addr", "aaaa::1")
	v.SetDefault("meshtel.sensor.local_port", 8765)
	v.SetDefault("meshtel.sensor.interval", "5s")

	// Telemetry defaults
	v.SetDefault("meshtel.telemetry.stdout", true)
	v.SetDefault("meshtel.telemetry.file.enabled", false)
	v.SetDefault("meshtel.telemetry.file.path", "/var/lib/meshtel/telemetry.csv")
	v.SetDefault("meshtel.telemetry.file.rotation.max_size_mb", 100)
	v.SetDefault("meshtel.telemetry.file.rotation.max_age_days", 30)
	v.SetDefault("meshtel.telemetry.file.rotation.max_backups", 5)
	v.SetDefault("meshtel.telemetry.file.rotation.compress", false)
	v.SetDefault("meshtel.telemetry.kafka.enabled", false)
	v.SetDefault("meshtel.telemetry.kafka.brokers", []string{})
	v.SetDefault("meshtel.telemetry.kafka.topic", "meshtel-telemetry")
	v.SetDefault("meshtel.telemetry.kafka.batch_size", 100)
	v.SetDefault("meshtel.telemetry.kafka.batch_timeout", "100ms")
	v.SetDefault("meshtel.telemetry.kafka.compression", "snappy")

	// Log defaults
	v.SetDefault("meshtel.log.level", "info")
	v.SetDefault("meshtel.log.format", "text")
	v.SetDefault("meshtel.log.outputs.file.enabled", false)
	v.SetDefault("meshtel.log.outputs.file.path", "/var/log/meshtel/meshtel.log")
	v.SetDefault("meshtel.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("meshtel.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("meshtel.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("meshtel.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("meshtel.metrics.enabled", false)
	v.SetDefault("meshtel.metrics.listen", ":9465")
	v.SetDefault("meshtel.metrics.path", "/metrics")

	// Control defaults
	v.SetDefault("meshtel.control.pid_file", "")
	v.SetDefault("meshtel.control.socket", "")
	v.SetDefault("meshtel.control.watch", false)
}

// ValidateAndApplyDefaults validates configuration values.
// sensor.sink_addr is not parsed here; the sensor resolves it at start.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	// ── Node ──
	if cfg.Node.Port <= 0 || cfg.Node.Port > 65535 {
		return fmt.Errorf("invalid node.port: %d", cfg.Node.Port)
	}
	if cfg.Node.TableCapacity <= 0 {
		return fmt.Errorf("node.table_capacity must be positive, got %d", cfg.Node.TableCapacity)
	}
	if cfg.Node.Listen != "" {
		if _, err := netip.ParseAddr(cfg.Node.Listen); err != nil {
			return fmt.Errorf("invalid node.listen: %w", err)
		}
	}

	// ── Clock ──
	if cfg.Clock.TicksPerSecond == 0 {
		return fmt.Errorf("clock.ticks_per_second must be positive")
	}
	if cfg.Clock.Epoch != "process" && cfg.Clock.Epoch != "unix" {
		return fmt.Errorf("invalid clock.epoch: %s (must be process/unix)", cfg.Clock.Epoch)
	}

	// ── Mesh ──
	if cfg.Mesh.Mode != "static" && cfg.Mesh.Mode != "host" {
		return fmt.Errorf("invalid mesh.mode: %s (must be static/host)", cfg.Mesh.Mode)
	}
	if _, err := netip.ParsePrefix(cfg.Mesh.Prefix); err != nil {
		return fmt.Errorf("invalid mesh.prefix: %w", err)
	}
	if _, err := netip.ParseAddr(cfg.Mesh.RootAddr); err != nil {
		return fmt.Errorf("invalid mesh.root_addr: %w", err)
	}
	if cfg.Mesh.PollInterval <= 0 {
		return fmt.Errorf("mesh.poll_interval must be positive")
	}

	// ── Sensor ──
	if cfg.Sensor.LocalPort < 0 || cfg.Sensor.LocalPort > 65535 {
		return fmt.Errorf("invalid sensor.local_port: %d", cfg.Sensor.LocalPort)
	}
	if cfg.Sensor.Interval <= 0 {
		return fmt.Errorf("sensor.interval must be positive")
	}

	// ── Telemetry ──
	if cfg.Telemetry.Kafka.Enabled {
		if len(cfg.Telemetry.Kafka.Brokers) == 0 {
			return fmt.Errorf("telemetry.kafka.brokers is required when telemetry.kafka.enabled=true")
		}
		if cfg.Telemetry.Kafka.Topic == "" {
			return fmt.Errorf("telemetry.kafka.topic is required when telemetry.kafka.enabled=true")
		}
	}

	return nil
}

// MeshPrefix returns the parsed mesh prefix. Valid after ValidateAndApplyDefaults.
func (cfg *GlobalConfig) MeshPrefix() netip.Prefix {
	p, _ := netip.ParsePrefix(cfg.Mesh.Prefix)
	return p
}

// ListenAddrPort returns the local datagram endpoint.
func (cfg *GlobalConfig) ListenAddrPort() netip.AddrPort {
	addr := netip.IPv6Unspecified()
	if cfg.Node.Listen != "" {
		addr, _ = netip.ParseAddr(cfg.Node.Listen)
	}
	return netip.AddrPortFrom(addr, uint16(cfg.Node.Port))
}

// YAML renders the effective configuration under the `meshtel:` root key.
func (cfg *GlobalConfig) YAML() ([]byte, error) {
	return yaml.Marshal(map[string]*GlobalConfig{"meshtel": cfg})
}
