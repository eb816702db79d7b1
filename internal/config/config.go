// Package config loads the lspmux configuration file.
//
// Configuration is TOML. Built-in defaults are overridden by the file, and
// the file by LSPMUX_* environment variables:
//
//	[log]
//	level = "info"
//
//	[executor]
//	request_timeout = "5s"
//	max_concurrency = 8
//
//	[theme]
//	path = "~/.config/lspmux/theme.yaml"
//
//	[local]
//	enabled = true
//
//	[[servers]]
//	name = "gopls"
//	command = "gopls"
//	languages = ["go"]
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/lspmux/internal/logging"
	"github.com/dshills/lspmux/internal/lsp"
)

// Duration is a time.Duration written as a Go duration string ("1.5s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the complete lspmux configuration.
type Config struct {
	Log        LogConfig        `toml:"log"`
	Executor   ExecutorConfig   `toml:"executor"`
	Theme      ThemeConfig      `toml:"theme"`
	Local      LocalConfig      `toml:"local"`
	Supervisor SupervisorConfig `toml:"supervisor"`
	Servers    []ServerConfig   `toml:"servers"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `toml:"level"`

	// File receives log output; empty means stderr.
	File string `toml:"file"`
}

// ExecutorConfig bounds fan-out requests.
type ExecutorConfig struct {
	// RequestTimeout bounds each backend task; zero disables it.
	RequestTimeout Duration `toml:"request_timeout"`

	// MaxConcurrency bounds in-flight backend tasks across all requests;
	// zero means unbounded.
	MaxConcurrency int64 `toml:"max_concurrency"`
}

// ThemeConfig selects the token theme.
type ThemeConfig struct {
	// Path is a .yaml, .yml or .lua theme file; empty selects the built-in theme.
	Path string `toml:"path"`
}

// LocalConfig configures the in-process syntax backend.
type LocalConfig struct {
	Enabled bool `toml:"enabled"`
}

// SupervisorConfig configures restarts of crashed servers.
type SupervisorConfig struct {
	MaxRestarts    int      `toml:"max_restarts"`
	InitialBackoff Duration `toml:"initial_backoff"`
	MaxBackoff     Duration `toml:"max_backoff"`
}

// ServerConfig describes one language server process.
type ServerConfig struct {
	Name      string            `toml:"name"`
	Command   string            `toml:"command"`
	Args      []string          `toml:"args"`
	Env       map[string]string `toml:"env"`
	Languages []string          `toml:"languages"`
	Timeout   Duration          `toml:"timeout"`

	// Disabled servers stay in the file but are not started.
	Disabled bool `toml:"disabled"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Executor: ExecutorConfig{
			RequestTimeout: Duration{5 * time.Second},
			MaxConcurrency: 16,
		},
		Local: LocalConfig{Enabled: true},
		Supervisor: SupervisorConfig{
			MaxRestarts:    5,
			InitialBackoff: Duration{time.Second},
			MaxBackoff:     Duration{time.Minute},
		},
	}
}

// DefaultPath returns the per-user configuration file path.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "lspmux", "config.toml")
	}
	return filepath.Join(".lspmux", "config.toml")
}

// Load reads the file at path over the defaults, applies environment
// overrides and validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		data = nil
	}

	cfg, err := parse(path, data)
	if err != nil {
		return nil, err
	}
	cfg.resolvePaths(filepath.Dir(path))
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse reads configuration from r over the defaults. Environment overrides
// are not applied and the result is not validated.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse("<reader>", data)
}

func parse(source string, data []byte) (*Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		pe := &ParseError{Path: source, Message: err.Error(), Err: err}
		var de *toml.DecodeError
		if errors.As(err, &de) {
			pe.Line, pe.Column = de.Position()
		}
		var se *toml.StrictMissingError
		if errors.As(err, &se) {
			pe.Message = strings.TrimSpace(se.String())
		}
		return nil, pe
	}
	return cfg, nil
}

// resolvePaths makes a relative theme path relative to the config file.
func (c *Config) resolvePaths(dir string) {
	p := c.Theme.Path
	if p == "" {
		return
	}
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			c.Theme.Path = filepath.Join(home, p[2:])
		}
		return
	}
	if !filepath.IsAbs(p) {
		c.Theme.Path = filepath.Join(dir, p)
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs ValidationErrors

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs.AddWithValue("log.level", "must be debug, info, warn or error", c.Log.Level)
	}

	if c.Executor.RequestTimeout.Duration < 0 {
		errs.AddWithValue("executor.request_timeout", "must not be negative", c.Executor.RequestTimeout.String())
	}
	if c.Executor.MaxConcurrency < 0 {
		errs.AddWithValue("executor.max_concurrency", "must not be negative", c.Executor.MaxConcurrency)
	}

	if c.Theme.Path != "" {
		switch strings.ToLower(filepath.Ext(c.Theme.Path)) {
		case ".yaml", ".yml", ".lua":
		default:
			errs.AddWithValue("theme.path", "must be a .yaml, .yml or .lua file", c.Theme.Path)
		}
	}

	if c.Supervisor.MaxRestarts < 0 {
		errs.AddWithValue("supervisor.max_restarts", "must not be negative", c.Supervisor.MaxRestarts)
	}
	if c.Supervisor.MaxBackoff.Duration < c.Supervisor.InitialBackoff.Duration {
		errs.Add("supervisor.max_backoff", "must not be less than initial_backoff")
	}

	seen := make(map[string]bool, len(c.Servers))
	for i, s := range c.Servers {
		path := fmt.Sprintf("servers[%d]", i)
		switch {
		case s.Name == "":
			errs.Add(path+".name", "is required")
		case seen[s.Name]:
			errs.AddWithValue(path+".name", "is not unique", s.Name)
		}
		seen[s.Name] = true
		if s.Command == "" {
			errs.Add(path+".command", "is required")
		}
		if s.Timeout.Duration < 0 {
			errs.AddWithValue(path+".timeout", "must not be negative", s.Timeout.String())
		}
	}

	if errs.HasErrors() {
		return &errs
	}
	return nil
}

// Enabled returns the servers that are not disabled.
func (c *Config) Enabled() []ServerConfig {
	var out []ServerConfig
	for _, s := range c.Servers {
		if !s.Disabled {
			out = append(out, s)
		}
	}
	return out
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() logging.Level {
	return logging.ParseLevel(c.Log.Level)
}

// LSP converts the server entry to the form lsp.NewServer takes.
func (s ServerConfig) LSP() lsp.ServerConfig {
	return lsp.ServerConfig{
		Name:        s.Name,
		Command:     s.Command,
		Args:        append([]string(nil), s.Args...),
		Env:         s.Env,
		LanguageIDs: append([]string(nil), s.Languages...),
		Timeout:     s.Timeout.Duration,
	}
}

// Equal reports whether two server entries start the same process.
func (s ServerConfig) Equal(other ServerConfig) bool {
	if s.Name != other.Name || s.Command != other.Command ||
		s.Timeout != other.Timeout || s.Disabled != other.Disabled ||
		!equalStrings(s.Args, other.Args) || !equalStrings(s.Languages, other.Languages) ||
		len(s.Env) != len(other.Env) {
		return false
	}
	for k, v := range s.Env {
		if ov, ok := other.Env[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// LSP converts the restart policy to the form lsp.NewSupervisor takes.
func (s SupervisorConfig) LSP() lsp.SupervisorConfig {
	cfg := lsp.DefaultSupervisorConfig()
	cfg.MaxRestarts = s.MaxRestarts
	if s.InitialBackoff.Duration > 0 {
		cfg.InitialBackoff = s.InitialBackoff.Duration
	}
	if s.MaxBackoff.Duration > 0 {
		cfg.MaxBackoff = s.MaxBackoff.Duration
	}
	return cfg
}
