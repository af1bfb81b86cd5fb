package config

import (
	"errors"
	"fmt"
)

// ValidateConfig checks the assembled configuration for values the
// engines cannot run with.
func ValidateConfig(c *Config) error {
	var errs []error

	switch c.Storage.Backend {
	case "postgres":
		if !c.Node.Standalone && c.Storage.URL == "" {
			errs = append(errs, fmt.Errorf("storage.url is required for the postgres backend"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q (postgres, memory)", c.Storage.Backend))
	}
	if c.Storage.MaxConns <= 0 {
		errs = append(errs, fmt.Errorf("storage.max_conns must be positive"))
	}
	if c.Storage.RetryAttempts < 1 || c.Storage.RetryAttempts > 10 {
		errs = append(errs, fmt.Errorf("storage.retry_attempts must be in [1, 10]"))
	}
	if c.Storage.RetryBase <= 0 || c.Storage.RetryMax < c.Storage.RetryBase {
		errs = append(errs, fmt.Errorf("storage retry delays must satisfy 0 < retry_base <= retry_max"))
	}

	if c.Payment.PrepareLockTTL <= 0 {
		errs = append(errs, fmt.Errorf("payment.prepare_lock_ttl must be positive"))
	}
	if c.Payment.MaxHops < 1 || c.Payment.MaxHops > 16 {
		errs = append(errs, fmt.Errorf("payment.max_hops must be in [1, 16]"))
	}
	if c.Payment.MaxPaths < 1 || c.Payment.MaxPaths > 16 {
		errs = append(errs, fmt.Errorf("payment.max_paths must be in [1, 16]"))
	}

	if c.Clearing.MaxDepth < 3 || c.Clearing.MaxDepth > 10 {
		errs = append(errs, fmt.Errorf("clearing.max_depth must be in [3, 10]"))
	}
	if c.Clearing.AutoInterval <= 0 {
		errs = append(errs, fmt.Errorf("clearing.auto_interval must be positive"))
	}

	if c.Recovery.Interval <= 0 {
		errs = append(errs, fmt.Errorf("recovery.interval must be positive"))
	}
	if c.Recovery.StuckTimeout <= c.Payment.PrepareLockTTL {
		errs = append(errs, fmt.Errorf("recovery.stuck_timeout must exceed payment.prepare_lock_ttl"))
	}

	if c.Integrity.CheckpointInterval <= 0 {
		errs = append(errs, fmt.Errorf("integrity.checkpoint_interval must be positive"))
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Window <= 0 {
			errs = append(errs, fmt.Errorf("rate_limit.window must be positive"))
		}
		if c.RateLimit.Max <= 0 {
			errs = append(errs, fmt.Errorf("rate_limit.max must be positive"))
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log.level %q (debug, info, warn, error)", c.Log.Level))
	}
	switch c.Log.Encoding {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log.encoding %q (json, console)", c.Log.Encoding))
	}

	return errors.Join(errs...)
}
