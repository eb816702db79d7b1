package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/lspmux/internal/logging"
)

const sample = `
[log]
level = "debug"

[executor]
request_timeout = "750ms"
max_concurrency = 4

[theme]
path = "themes/dark.yaml"

[local]
enabled = false

[supervisor]
max_restarts = 2
initial_backoff = "250ms"
max_backoff = "2s"

[[servers]]
name = "gopls"
command = "gopls"
args = ["serve"]
languages = ["go"]
timeout = "10s"

[servers.env]
GOFLAGS = "-mod=mod"

[[servers]]
name = "pylsp"
command = "pylsp"
languages = ["python"]
disabled = true
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 5*time.Second, cfg.Executor.RequestTimeout.Duration)
	assert.True(t, cfg.Local.Enabled)
	assert.Empty(t, cfg.Servers)
	assert.NoError(t, cfg.Validate())
}

func TestParse(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, logging.LevelDebug, cfg.LogLevel())
	assert.Equal(t, 750*time.Millisecond, cfg.Executor.RequestTimeout.Duration)
	assert.Equal(t, int64(4), cfg.Executor.MaxConcurrency)
	assert.Equal(t, "themes/dark.yaml", cfg.Theme.Path)
	assert.False(t, cfg.Local.Enabled)
	assert.Equal(t, 2, cfg.Supervisor.MaxRestarts)

	require.Len(t, cfg.Servers, 2)
	gopls := cfg.Servers[0]
	assert.Equal(t, "gopls", gopls.Name)
	assert.Equal(t, []string{"serve"}, gopls.Args)
	assert.Equal(t, map[string]string{"GOFLAGS": "-mod=mod"}, gopls.Env)
	assert.Equal(t, 10*time.Second, gopls.Timeout.Duration)

	enabled := cfg.Enabled()
	require.Len(t, enabled, 1)
	assert.Equal(t, "gopls", enabled[0].Name)
}

func TestParse_KeepsDefaultsForMissingSections(t *testing.T) {
	cfg, err := Parse(strings.NewReader("[log]\nlevel = \"warn\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, Default().Executor, cfg.Executor)
	assert.Equal(t, Default().Supervisor, cfg.Supervisor)
}

func TestParse_Errors(t *testing.T) {
	t.Run("syntax", func(t *testing.T) {
		_, err := Parse(strings.NewReader("[log]\nlevel = \n"))
		var pe *ParseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, 2, pe.Line)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := Parse(strings.NewReader("[log]\nlevl = \"debug\"\n"))
		var pe *ParseError
		require.ErrorAs(t, err, &pe)
		assert.Contains(t, pe.Message, "levl")
	})

	t.Run("bad duration", func(t *testing.T) {
		_, err := Parse(strings.NewReader("[executor]\nrequest_timeout = \"soon\"\n"))
		assert.Error(t, err)
	})
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.toml", sample)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "themes", "dark.yaml"), cfg.Theme.Path)
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Executor, cfg.Executor)
}

func TestLoad_Invalid(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.toml", "[[servers]]\nname = \"x\"\n")
	_, err := Load(path)

	var verrs *ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs.ForPath("servers[0].command"), 1)
}

func TestLoad_Env(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.toml", sample)
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvMaxConcurrency, "32")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, logging.LevelError, cfg.LogLevel())
	assert.Equal(t, int64(32), cfg.Executor.MaxConcurrency)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvLogFile:        "/tmp/lspmux.log",
		EnvTheme:          "",
		EnvRequestTimeout: "2s",
		EnvLocal:          "false",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	cfg.Theme.Path = "theme.lua"
	require.NoError(t, applyEnv(cfg, lookup))
	assert.Equal(t, "/tmp/lspmux.log", cfg.Log.File)
	assert.Empty(t, cfg.Theme.Path, "empty values count as set")
	assert.Equal(t, 2*time.Second, cfg.Executor.RequestTimeout.Duration)
	assert.False(t, cfg.Local.Enabled)

	env = map[string]string{EnvMaxConcurrency: "many"}
	assert.ErrorIs(t, applyEnv(Default(), lookup), ErrInvalidEnv)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
	}{
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"negative timeout", func(c *Config) { c.Executor.RequestTimeout = Duration{-time.Second} }, "executor.request_timeout"},
		{"negative concurrency", func(c *Config) { c.Executor.MaxConcurrency = -1 }, "executor.max_concurrency"},
		{"theme extension", func(c *Config) { c.Theme.Path = "theme.json" }, "theme.path"},
		{"restarts", func(c *Config) { c.Supervisor.MaxRestarts = -1 }, "supervisor.max_restarts"},
		{"backoff order", func(c *Config) { c.Supervisor.MaxBackoff = Duration{time.Millisecond} }, "supervisor.max_backoff"},
		{"server name", func(c *Config) { c.Servers = []ServerConfig{{Command: "x"}} }, "servers[0].name"},
		{"duplicate name", func(c *Config) {
			c.Servers = []ServerConfig{{Name: "a", Command: "x"}, {Name: "a", Command: "y"}}
		}, "servers[1].name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			var verrs *ValidationErrors
			require.ErrorAs(t, err, &verrs)
			assert.Len(t, verrs.ForPath(tt.path), 1, err.Error())
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	var errs ValidationErrors
	errs.Add("a", "is required")
	assert.Equal(t, "a: is required", errs.Error())
	errs.AddWithValue("b", "is bad", 3)
	assert.Equal(t, "2 validation errors:\n  - a: is required\n  - b: is bad (got 3)", errs.Error())
}

func TestServerConfig_LSP(t *testing.T) {
	s := ServerConfig{
		Name:      "gopls",
		Command:   "gopls",
		Args:      []string{"serve"},
		Languages: []string{"go"},
		Timeout:   Duration{time.Second},
	}
	got := s.LSP()
	assert.Equal(t, "gopls", got.Name)
	assert.Equal(t, []string{"go"}, got.LanguageIDs)
	assert.Equal(t, time.Second, got.Timeout)
	assert.True(t, got.Handles("go"))
	assert.False(t, got.Handles("python"))
}

func TestServerConfig_Equal(t *testing.T) {
	a := ServerConfig{Name: "a", Command: "x", Env: map[string]string{"K": "1"}}
	b := a
	b.Env = map[string]string{"K": "1"}
	assert.True(t, a.Equal(b))

	b.Env = map[string]string{"K": "2"}
	assert.False(t, a.Equal(b))

	c := a
	c.Args = []string{"-v"}
	assert.False(t, a.Equal(c))
}

func TestSupervisorConfig_LSP(t *testing.T) {
	cfg := SupervisorConfig{MaxRestarts: 1, InitialBackoff: Duration{time.Millisecond}}.LSP()
	assert.Equal(t, 1, cfg.MaxRestarts)
	assert.Equal(t, time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, time.Minute, cfg.MaxBackoff)
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration)
	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))
}
