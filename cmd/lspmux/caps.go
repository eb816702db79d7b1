package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/lspmux/internal/app"
	"github.com/dshills/lspmux/internal/lsp"
)

var capsCmd = &cobra.Command{
	Use:   "caps",
	Short: "Start every configured backend and list what it supports",
	Args:  cobra.NoArgs,
	RunE:  runCaps,
}

func runCaps(cmd *cobra.Command, args []string) error {
	dir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting cwd: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, flagTimeout)
	defer cancelTimeout()

	a, stop, err := startApp(ctx, dir)
	if err != nil {
		return err
	}
	defer stop()

	return formatBackends(cmd.OutOrStdout(), a.Backends())
}

func formatBackends(w io.Writer, backends []app.BackendInfo) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tSTATE\tRESTARTS\tFEATURES")
	for _, b := range backends {
		features := "-"
		if b.Attached {
			features = strings.Join(supportedFeatures(b.Capabilities), ",")
		}
		name := b.Name
		if b.Local {
			name += " (local)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", name, orDash(b.Version), b.State, b.Restarts, features)
	}
	return tw.Flush()
}

// supportedFeatures lists the features caps supports, trimmed of the
// "Provider" suffix.
func supportedFeatures(caps lsp.CapabilitySnapshot) []string {
	var out []string
	for _, f := range lsp.Features() {
		if caps.Get(f).Supported() {
			out = append(out, strings.TrimSuffix(string(f), "Provider"))
		}
	}
	return out
}
