package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration.
type Config struct {
	// Server configures the network surface.
	Server ServerConfig `yaml:"server"`

	// Session configures authentication and session handling.
	Session SessionConfig `yaml:"session"`

	// Storage configures the chunk store and data directory.
	Storage StorageConfig `yaml:"storage"`

	// Compute configures the operation executor.
	Compute ComputeConfig `yaml:"compute"`

	// Metastore configures the optional DuckDB operation log.
	Metastore MetastoreConfig `yaml:"metastore"`

	// Log configures logging output.
	Log LogConfig `yaml:"log"`
}

// ServerConfig configures the network surface.
type ServerConfig struct {
	// Listen is the TCP listen address for the wire protocol.
	Listen string `yaml:"listen"`

	// HTTPListen is the listen address for the read-side HTTP gateway.
	// Empty disables the gateway.
	HTTPListen string `yaml:"http_listen"`

	// MaxHeaderSize limits a request header frame in bytes.
	MaxHeaderSize int `yaml:"max_header_size"`

	// MaxPayloadSize limits a bulk data payload in bytes.
	MaxPayloadSize int64 `yaml:"max_payload_size"`

	// DrainTimeoutSec is the graceful shutdown drain window.
	DrainTimeoutSec int `yaml:"drain_timeout_sec"`
}

// SessionConfig configures authentication.
type SessionConfig struct {
	// APIKey is the shared API key clients must present.
	// Overridable via CUBED_API_KEY.
	APIKey string `yaml:"api_key"`

	// AuthTimeoutSec is the window for the first (auth) message.
	AuthTimeoutSec int `yaml:"auth_timeout_sec"`

	// RateLimitPerMinute is the max failed auth attempts per IP per minute.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

// StorageConfig configures the chunk store.
type StorageConfig struct {
	// DataDir is the root directory for persisted cubes.
	// Overridable via CUBED_DATA_DIR.
	DataDir string `yaml:"data_dir"`

	// ChunkTargetBytes is the target chunk size for derived chunk shapes.
	ChunkTargetBytes int `yaml:"chunk_target_bytes"`

	// ChunkCacheBytes is the LRU chunk cache capacity.
	ChunkCacheBytes int64 `yaml:"chunk_cache_bytes"`
}

// ComputeConfig configures the operation executor.
type ComputeConfig struct {
	// Workers is the chunk fan-out limit per request.
	Workers int `yaml:"workers"`

	// SandboxBudgetMs is the per-chunk time budget for hosted functions.
	SandboxBudgetMs int `yaml:"sandbox_budget_ms"`

	// QuantileAccuracy is the DDSketch relative accuracy.
	QuantileAccuracy float64 `yaml:"quantile_accuracy"`
}

// MetastoreConfig configures the optional DuckDB operation log.
type MetastoreConfig struct {
	// Path is the DuckDB database file. Empty disables the metastore.
	Path string `yaml:"path"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON selects JSON output instead of text.
	JSON bool `yaml:"json"`
}

// Default returns a Config populated with documented defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          DefaultListenAddress,
			HTTPListen:      DefaultHTTPListenAddress,
			MaxHeaderSize:   DefaultMaxHeaderSize,
			MaxPayloadSize:  DefaultMaxPayloadSize,
			DrainTimeoutSec: DefaultDrainTimeoutSec,
		},
		Session: SessionConfig{
			AuthTimeoutSec:     DefaultAuthTimeoutSec,
			RateLimitPerMinute: DefaultAuthRateLimitPerMinute,
		},
		Storage: StorageConfig{
			DataDir:          DefaultDataDir,
			ChunkTargetBytes: DefaultChunkTargetBytes,
			ChunkCacheBytes:  DefaultChunkCacheBytes,
		},
		Compute: ComputeConfig{
			Workers:          DefaultComputeWorkers,
			SandboxBudgetMs:  int(DefaultSandboxBudget / time.Millisecond),
			QuantileAccuracy: DefaultQuantileAccuracy,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a yaml config file and fills unset fields with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// ApplyEnv applies environment variable overrides.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("CUBED_API_KEY"); v != "" {
		c.Session.APIKey = v
	}
	if v := os.Getenv("CUBED_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
}

// Validate checks the configuration for usability.
func (c *Config) Validate() error {
	if c.Session.APIKey == "" {
		return fmt.Errorf("api key required (config session.api_key, -api-key, or CUBED_API_KEY)")
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("data directory required")
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("listen address required")
	}
	return nil
}

// SandboxBudget returns the sandbox budget as a duration.
func (c *Config) SandboxBudget() time.Duration {
	if c.Compute.SandboxBudgetMs <= 0 {
		return DefaultSandboxBudget
	}
	return time.Duration(c.Compute.SandboxBudgetMs) * time.Millisecond
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListenAddress
	}
	if c.Server.MaxHeaderSize <= 0 {
		c.Server.MaxHeaderSize = DefaultMaxHeaderSize
	}
	if c.Server.MaxPayloadSize <= 0 {
		c.Server.MaxPayloadSize = DefaultMaxPayloadSize
	}
	if c.Server.DrainTimeoutSec <= 0 {
		c.Server.DrainTimeoutSec = DefaultDrainTimeoutSec
	}
	if c.Session.AuthTimeoutSec <= 0 {
		c.Session.AuthTimeoutSec = DefaultAuthTimeoutSec
	}
	if c.Session.RateLimitPerMinute <= 0 {
		c.Session.RateLimitPerMinute = DefaultAuthRateLimitPerMinute
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = DefaultDataDir
	}
	if c.Storage.ChunkTargetBytes <= 0 {
		c.Storage.ChunkTargetBytes = DefaultChunkTargetBytes
	}
	if c.Storage.ChunkCacheBytes <= 0 {
		c.Storage.ChunkCacheBytes = DefaultChunkCacheBytes
	}
	if c.Compute.Workers <= 0 {
		c.Compute.Workers = DefaultComputeWorkers
	}
	if c.Compute.QuantileAccuracy <= 0 {
		c.Compute.QuantileAccuracy = DefaultQuantileAccuracy
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
