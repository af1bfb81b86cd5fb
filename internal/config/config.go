// Package config loads the creditd configuration from defaults, an
// optional TOML file and CREDITD_-prefixed environment variables, in
// that priority order.
package config

import (
	"time"
)

// Config is the complete creditd configuration.
type Config struct {
	Node      NodeConfig      `toml:"node" mapstructure:"node"`
	Storage   StorageConfig   `toml:"storage" mapstructure:"storage"`
	Redis     RedisConfig     `toml:"redis" mapstructure:"redis"`
	Payment   PaymentConfig   `toml:"payment" mapstructure:"payment"`
	Clearing  ClearingConfig  `toml:"clearing" mapstructure:"clearing"`
	Recovery  RecoveryConfig  `toml:"recovery" mapstructure:"recovery"`
	Integrity IntegrityConfig `toml:"integrity" mapstructure:"integrity"`
	RateLimit RateLimitConfig `toml:"rate_limit" mapstructure:"rate_limit"`
	Features  FeatureFlags    `toml:"features" mapstructure:"features"`
	Log       LogConfig       `toml:"log" mapstructure:"log"`

	configPath string `toml:"-" mapstructure:"-"`
}

// NodeConfig identifies this process.
type NodeConfig struct {
	Name string `toml:"name" mapstructure:"name"`
	// Standalone runs the in-memory store, the no-op distributed lock
	// and the no-op signature verifier.
	Standalone bool `toml:"standalone" mapstructure:"standalone"`
}

// StorageConfig selects and tunes the backing store.
type StorageConfig struct {
	// Backend is "postgres" or "memory".
	Backend       string        `toml:"backend" mapstructure:"backend"`
	URL           string        `toml:"url" mapstructure:"url"`
	MaxConns      int32         `toml:"max_conns" mapstructure:"max_conns"`
	RetryAttempts int           `toml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBase     time.Duration `toml:"retry_base" mapstructure:"retry_base"`
	RetryMax      time.Duration `toml:"retry_max" mapstructure:"retry_max"`
}

// RedisConfig locates the coordination service for distributed locks.
// An empty address degrades to the process-local no-op lock.
type RedisConfig struct {
	Addr     string `toml:"addr" mapstructure:"addr"`
	Password string `toml:"password" mapstructure:"password"`
	DB       int    `toml:"db" mapstructure:"db"`
}

// PaymentConfig tunes the 2PC engine.
type PaymentConfig struct {
	PrepareLockTTL time.Duration `toml:"prepare_lock_ttl" mapstructure:"prepare_lock_ttl"`
	MaxHops        int           `toml:"max_hops" mapstructure:"max_hops"`
	MaxPaths       int           `toml:"max_paths" mapstructure:"max_paths"`
}

// ClearingConfig tunes cycle discovery and execution.
type ClearingConfig struct {
	MaxDepth     int           `toml:"max_depth" mapstructure:"max_depth"`
	AutoInterval time.Duration `toml:"auto_interval" mapstructure:"auto_interval"`
	LockTTL      time.Duration `toml:"lock_ttl" mapstructure:"lock_ttl"`
	LockWait     time.Duration `toml:"lock_wait" mapstructure:"lock_wait"`
}

// RecoveryConfig tunes the liveness loop.
type RecoveryConfig struct {
	Interval     time.Duration `toml:"interval" mapstructure:"interval"`
	StuckTimeout time.Duration `toml:"stuck_timeout" mapstructure:"stuck_timeout"`
}

// IntegrityConfig tunes checkpointing.
type IntegrityConfig struct {
	CheckpointInterval time.Duration `toml:"checkpoint_interval" mapstructure:"checkpoint_interval"`
}

// RateLimitConfig bounds request admission at the boundary.
type RateLimitConfig struct {
	Enabled bool          `toml:"enabled" mapstructure:"enabled"`
	Window  time.Duration `toml:"window" mapstructure:"window"`
	Max     int           `toml:"max" mapstructure:"max"`
}

// FeatureFlags gate optional behavior at runtime.
type FeatureFlags struct {
	MultipathEnabled     bool `toml:"multipath_enabled" mapstructure:"multipath_enabled"`
	FullMultipathEnabled bool `toml:"full_multipath_enabled" mapstructure:"full_multipath_enabled"`
	ClearingEnabled      bool `toml:"clearing_enabled" mapstructure:"clearing_enabled"`
}

// LogConfig tunes the zap logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" mapstructure:"level"`
	// Encoding is "json" or "console".
	Encoding string `toml:"encoding" mapstructure:"encoding"`
}

// Path returns the file this configuration was loaded from, empty when
// defaults and environment only.
func (c *Config) Path() string {
	return c.configPath
}
