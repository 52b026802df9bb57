// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/l2sw/internal/core"
)

// GlobalConfig represents the top-level static configuration.
// Maps to the `l2sw:` root key in YAML.
type GlobalConfig struct {
	Node    NodeConfig    `mapstructure:"node"`
	Switch  SwitchConfig  `mapstructure:"switch"`
	Capture CaptureConfig `mapstructure:"capture"`
	Control ControlConfig `mapstructure:"control"`
	Events  EventsConfig  `mapstructure:"events"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
}

// ─── Node Identity ───

// NodeConfig identifies this switch in exported events.
type NodeConfig struct {
	Hostname string `mapstructure:"hostname"` // Empty = os.Hostname()
}

// ─── Switch ───

// SwitchConfig is fixed for the lifetime of the running switch; reload
// reports changes here as requiring a restart.
type SwitchConfig struct {
	Interfaces      []string      `mapstructure:"interfaces"` // ordered member list
	HubMode         bool          `mapstructure:"hub_mode"`   // never learn, always flood
	MaxAge          time.Duration `mapstructure:"max_age"`
	FDBCapacity     int           `mapstructure:"fdb_capacity"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	Netns           string        `mapstructure:"netns"` // empty = the daemon's own namespace
	FlushOnShutdown bool          `mapstructure:"flush_on_shutdown"`
}

// ─── Capture ───

// CaptureConfig selects and tunes the port backend.
type CaptureConfig struct {
	Type            string        `mapstructure:"type"` // afpacket | rawsock | pcap
	SnapLen         int           `mapstructure:"snap_len"`
	BlockSize       int           `mapstructure:"block_size"` // afpacket ring block bytes
	NumBlocks       int           `mapstructure:"num_blocks"`
	PollTimeout     time.Duration `mapstructure:"poll_timeout"`
	BufferPoolSize  int           `mapstructure:"buffer_pool_size"` // max in-flight frames, 0 = unbounded
	BPFFilter       string        `mapstructure:"bpf_filter"`
	DisableOffloads bool          `mapstructure:"disable_offloads"` // GRO/LRO/TSO off while attached
}

// ─── Control Plane ───

// ControlConfig contains control plane settings.
type ControlConfig struct {
	Socket  string               `mapstructure:"socket"`
	PIDFile string               `mapstructure:"pid_file"`
	Kafka   CommandChannelConfig `mapstructure:"kafka"` // remote command channel
}

// CommandChannelConfig configures the Kafka command consumer.
type CommandChannelConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Brokers         []string      `mapstructure:"brokers"`
	Topic           string        `mapstructure:"topic"`
	GroupID         string        `mapstructure:"group_id"`
	AutoOffsetReset string        `mapstructure:"auto_offset_reset"` // earliest | latest
	CommandTTL      time.Duration `mapstructure:"command_ttl"`       // older commands are skipped
}

// ─── FDB Events ───

// EventsConfig controls the FDB event stream.
type EventsConfig struct {
	Enabled    bool              `mapstructure:"enabled"`
	Partitions int               `mapstructure:"partitions"`
	QueueSize  int               `mapstructure:"queue_size"`
	Log        bool              `mapstructure:"log"` // also write events to the log
	Kafka      EventsKafkaConfig `mapstructure:"kafka"`
}

// EventsKafkaConfig configures the Kafka event sink.
type EventsKafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	Compression  string        `mapstructure:"compression"` // none | gzip | snappy | lz4
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`  // MB
	MaxAgeDays int  `mapstructure:"max_age_days"` // Days
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `l2sw: ...`.
type configRoot struct {
	L2SW GlobalConfig `mapstructure:"l2sw"`
}

// Load loads configuration from file.
// The YAML file uses `l2sw:` as root key; env vars use the L2SW_ prefix
// (e.g., L2SW_SWITCH_HUB_MODE, L2SW_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// The `l2sw.` key prefix maps to `L2SW_` through the key replacer.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.L2SW

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "l2sw." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Switch defaults
	v.SetDefault("l2sw.switch.interfaces", []string{})
	v.SetDefault("l2sw.switch.hub_mode", false)
	v.SetDefault("l2sw.switch.max_age", "180s")
	v.SetDefault("l2sw.switch.fdb_capacity", 2048)
	v.SetDefault("l2sw.switch.sweep_interval", "1s")
	v.SetDefault("l2sw.switch.netns", "")
	v.SetDefault("l2sw.switch.flush_on_shutdown", false)

	// Capture defaults
	v.SetDefault("l2sw.capture.type", "afpacket")
	v.SetDefault("l2sw.capture.snap_len", 9216)
	v.SetDefault("l2sw.capture.block_size", 1048576)
	v.SetDefault("l2sw.capture.num_blocks", 8)
	v.SetDefault("l2sw.capture.poll_timeout", "100ms")
	v.SetDefault("l2sw.capture.buffer_pool_size", 4096)
	v.SetDefault("l2sw.capture.bpf_filter", "")
	v.SetDefault("l2sw.capture.disable_offloads", true)

	// Control defaults
	v.SetDefault("l2sw.control.pid_file", "/var/run/l2sw.pid")
	v.SetDefault("l2sw.control.socket", "/var/run/l2sw.sock")
	v.SetDefault("l2sw.control.kafka.enabled", false)
	v.SetDefault("l2sw.control.kafka.topic", "l2sw-commands")
	v.SetDefault("l2sw.control.kafka.auto_offset_reset", "latest")
	v.SetDefault("l2sw.control.kafka.command_ttl", "5m")

	// Events defaults
	v.SetDefault("l2sw.events.enabled", false)
	v.SetDefault("l2sw.events.partitions", 4)
	v.SetDefault("l2sw.events.queue_size", 1024)
	v.SetDefault("l2sw.events.log", true)
	v.SetDefault("l2sw.events.kafka.enabled", false)
	v.SetDefault("l2sw.events.kafka.topic", "l2sw-fdb-events")
	v.SetDefault("l2sw.events.kafka.compression", "snappy")
	v.SetDefault("l2sw.events.kafka.batch_size", 100)
	v.SetDefault("l2sw.events.kafka.batch_timeout", "100ms")

	// Metrics defaults
	v.SetDefault("l2sw.metrics.enabled", true)
	v.SetDefault("l2sw.metrics.listen", ":9092")
	v.SetDefault("l2sw.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("l2sw.log.level", "info")
	v.SetDefault("l2sw.log.format", "json")
	v.SetDefault("l2sw.log.outputs.file.enabled", false)
	v.SetDefault("l2sw.log.outputs.file.path", "/var/log/l2sw/l2sw.log")
	v.SetDefault("l2sw.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("l2sw.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("l2sw.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("l2sw.log.outputs.file.rotation.compress", true)
}

var captureTypes = map[string]bool{"afpacket": true, "rawsock": true, "pcap": true}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
// Every failure wraps core.ErrConfigInvalid.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("%w: %w", core.ErrConfigInvalid, err)
	}

	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}
	return nil
}

func (cfg *GlobalConfig) validate() error {
	// ── Log ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	// ── Switch ──
	sw := &cfg.Switch
	if len(sw.Interfaces) == 0 {
		return fmt.Errorf("switch.interfaces must name at least one interface")
	}
	seen := make(map[string]bool, len(sw.Interfaces))
	for _, name := range sw.Interfaces {
		if name == "" {
			return fmt.Errorf("switch.interfaces contains an empty name")
		}
		if seen[name] {
			return fmt.Errorf("switch.interfaces lists %s twice", name)
		}
		seen[name] = true
	}
	if sw.MaxAge <= 0 {
		return fmt.Errorf("switch.max_age must be positive, got %s", sw.MaxAge)
	}
	if sw.SweepInterval <= 0 {
		return fmt.Errorf("switch.sweep_interval must be positive, got %s", sw.SweepInterval)
	}
	if sw.MaxAge < sw.SweepInterval {
		return fmt.Errorf("switch.max_age (%s) must not be shorter than switch.sweep_interval (%s)", sw.MaxAge, sw.SweepInterval)
	}
	if sw.FDBCapacity <= 0 {
		return fmt.Errorf("switch.fdb_capacity must be positive, got %d", sw.FDBCapacity)
	}

	// ── Capture ──
	if !captureTypes[cfg.Capture.Type] {
		return fmt.Errorf("unsupported capture.type: %s (must be afpacket/rawsock/pcap)", cfg.Capture.Type)
	}
	if cfg.Capture.SnapLen < core.EthHeaderLen {
		return fmt.Errorf("capture.snap_len must be at least %d, got %d", core.EthHeaderLen, cfg.Capture.SnapLen)
	}
	if cfg.Capture.BufferPoolSize < 0 {
		return fmt.Errorf("capture.buffer_pool_size must not be negative")
	}

	// ── Control ──
	if cc := cfg.Control.Kafka; cc.Enabled {
		if len(cc.Brokers) == 0 || cc.Topic == "" || cc.GroupID == "" {
			return fmt.Errorf("control.kafka requires brokers, topic and group_id when enabled")
		}
		if cc.AutoOffsetReset != "earliest" && cc.AutoOffsetReset != "latest" {
			return fmt.Errorf("invalid control.kafka.auto_offset_reset: %s (must be earliest/latest)", cc.AutoOffsetReset)
		}
	}

	// ── Events ──
	ev := &cfg.Events
	if ev.Enabled {
		if ev.Partitions <= 0 || ev.QueueSize <= 0 {
			return fmt.Errorf("events.partitions and events.queue_size must be positive")
		}
		if ev.Kafka.Enabled {
			if len(ev.Kafka.Brokers) == 0 {
				return fmt.Errorf("events.kafka.brokers is required when events.kafka.enabled=true")
			}
			if ev.Kafka.Topic == "" {
				return fmt.Errorf("events.kafka.topic is required when events.kafka.enabled=true")
			}
		}
	}
	return nil
}
