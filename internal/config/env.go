package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Environment variables that override the file.
const (
	EnvLogLevel       = "LSPMUX_LOG_LEVEL"
	EnvLogFile        = "LSPMUX_LOG_FILE"
	EnvTheme          = "LSPMUX_THEME"
	EnvMaxConcurrency = "LSPMUX_MAX_CONCURRENCY"
	EnvRequestTimeout = "LSPMUX_REQUEST_TIMEOUT"
	EnvLocal          = "LSPMUX_LOCAL"
)

// ApplyEnv overrides cfg from LSPMUX_* variables. Empty values are
// treated as set.
func ApplyEnv(cfg *Config) error {
	return applyEnv(cfg, os.LookupEnv)
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvLogLevel); ok {
		cfg.Log.Level = v
	}
	if v, ok := lookup(EnvLogFile); ok {
		cfg.Log.File = v
	}
	if v, ok := lookup(EnvTheme); ok {
		cfg.Theme.Path = v
	}
	if v, ok := lookup(EnvMaxConcurrency); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidEnv, EnvMaxConcurrency, v, err)
		}
		cfg.Executor.MaxConcurrency = n
	}
	if v, ok := lookup(EnvRequestTimeout); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidEnv, EnvRequestTimeout, v, err)
		}
		cfg.Executor.RequestTimeout = Duration{d}
	}
	if v, ok := lookup(EnvLocal); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidEnv, EnvLocal, v, err)
		}
		cfg.Local.Enabled = b
	}
	return nil
}
