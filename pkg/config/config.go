// Package config loads server configuration from an optional YAML file,
// QUILL_* environment variables, and built-in defaults, in that
// ascending order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration shared by both server roles.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	NameServer NameServerConfig `mapstructure:"nameserver"`
	Storage    StorageConfig    `mapstructure:"storage"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// NameServerConfig configures the coordinator.
type NameServerConfig struct {
	ListenAddr  string `mapstructure:"listen_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	DataDir     string `mapstructure:"data_dir"`

	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`

	// ReplicationWorkers sizes the fire-and-forget replication pool.
	ReplicationWorkers int `mapstructure:"replication_workers"`

	// ExecEnabled gates the EXEC op. It runs file content through the
	// platform shell, so it is off unless explicitly requested.
	ExecEnabled bool `mapstructure:"exec_enabled"`
}

// StorageConfig configures one storage server.
type StorageConfig struct {
	ID          string `mapstructure:"id"`
	Host        string `mapstructure:"host"`
	ListenAddr  string `mapstructure:"listen_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	NMAddr      string `mapstructure:"nm_addr"`
	DataDir     string `mapstructure:"data_dir"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	RegisterRetries   int           `mapstructure:"register_retries"`
	RegisterBackoff   time.Duration `mapstructure:"register_backoff"`

	// StreamDelay paces STREAM token emission.
	StreamDelay time.Duration `mapstructure:"stream_delay"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("nameserver.listen_addr", ":5050")
	v.SetDefault("nameserver.metrics_addr", "")
	v.SetDefault("nameserver.data_dir", "data/nameserver")
	v.SetDefault("nameserver.heartbeat_timeout", 15*time.Second)
	v.SetDefault("nameserver.sweep_interval", 5*time.Second)
	v.SetDefault("nameserver.replication_workers", 4)
	v.SetDefault("nameserver.exec_enabled", false)

	v.SetDefault("storage.id", "")
	v.SetDefault("storage.host", "127.0.0.1")
	v.SetDefault("storage.listen_addr", ":6001")
	v.SetDefault("storage.metrics_addr", "")
	v.SetDefault("storage.nm_addr", "127.0.0.1:5050")
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.heartbeat_interval", 5*time.Second)
	v.SetDefault("storage.register_retries", 10)
	v.SetDefault("storage.register_backoff", time.Second)
	v.SetDefault("storage.stream_delay", 10*time.Millisecond)
}

// Load reads configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("QUILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
