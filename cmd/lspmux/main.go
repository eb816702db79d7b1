// Package main is the lspmux command: it multiplexes language servers for a
// file and prints or previews what they return.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/lspmux/internal/app"
	"github.com/dshills/lspmux/internal/config"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

var (
	flagConfig   string
	flagLogLevel string
	flagTimeout  time.Duration
	flagColor    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "lspmux",
	Short:         "Fan requests out to every language server for a file",
	Long:          "lspmux attaches the configured language servers and the built-in syntax backend, sends each request to every eligible backend and combines the answers.",
	Version:       version + " (" + commit + ")",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch flagLogLevel {
		case "", "debug", "info", "warn", "error":
			return nil
		default:
			return fmt.Errorf("invalid log level %q (must be debug, info, warn, or error)", flagLogLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", config.DefaultPath(), "configuration file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "log level: debug|info|warn|error")
	rootCmd.PersistentFlags().StringVar(&flagColor, "color", "auto", "color output: auto|always|never")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 30*time.Second, "overall deadline for a command")

	rootCmd.AddCommand(tokensCmd)
	rootCmd.AddCommand(viewCmd)
	rootCmd.AddCommand(rankCmd)
	rootCmd.AddCommand(capsCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// startApp creates and starts the application with its workspace at dir.
// The returned stop function shuts it down.
func startApp(ctx context.Context, dir string) (*app.Application, func(), error) {
	a, err := app.New(app.Options{
		ConfigPath:    flagConfig,
		LogLevel:      flagLogLevel,
		WorkspacePath: dir,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		return nil, nil, err
	}
	stop := func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Shutdown(sctx); err != nil {
			a.Logger().Warn("shutdown: %v", err)
		}
	}
	return a, stop, nil
}

// resolveFilePath converts a file argument to an absolute path.
func resolveFilePath(file string) (string, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", fmt.Errorf("resolving file path %q: %w", file, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", err
	}
	return abs, nil
}
