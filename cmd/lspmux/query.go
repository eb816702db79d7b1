package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/lspmux/internal/app"
	"github.com/dshills/lspmux/internal/lsp"
	"github.com/dshills/lspmux/internal/style"
)

var hoverCmd = &cobra.Command{
	Use:   "hover <file> <line:col>",
	Short: "Print the first hover any backend returns at a position",
	Long:  "Line and column are 0-based; the column counts UTF-16 units.",
	Args:  cobra.ExactArgs(2),
	RunE:  runHover,
}

var colorsCmd = &cobra.Command{
	Use:   "colors <file>",
	Short: "List the color literals every backend reports for a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runColors,
}

func init() {
	rootCmd.AddCommand(hoverCmd)
	rootCmd.AddCommand(colorsCmd)
}

// parsePosition parses "line:col".
func parsePosition(s string) (lsp.Position, error) {
	line, col, ok := strings.Cut(s, ":")
	if !ok {
		return lsp.Position{}, fmt.Errorf("invalid position %q (want line:col)", s)
	}
	l, err := strconv.Atoi(line)
	if err != nil || l < 0 {
		return lsp.Position{}, fmt.Errorf("invalid line in %q", s)
	}
	c, err := strconv.Atoi(col)
	if err != nil || c < 0 {
		return lsp.Position{}, fmt.Errorf("invalid column in %q", s)
	}
	return lsp.Position{Line: l, Character: c}, nil
}

// withFile starts the application, opens path and calls fn with an
// executor for it.
func withFile(path string, fn func(ctx context.Context, a *app.Application, ex *lsp.Executor) error) error {
	ctx, cancel := signalContext()
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, flagTimeout)
	defer cancelTimeout()

	a, stop, err := startApp(ctx, filepath.Dir(path))
	if err != nil {
		return err
	}
	defer stop()

	uri, _, err := a.OpenFile(ctx, path)
	if err != nil {
		return err
	}
	return fn(ctx, a, a.Executor(uri))
}

func runHover(cmd *cobra.Command, args []string) error {
	path, err := resolveFilePath(args[0])
	if err != nil {
		return err
	}
	pos, err := parsePosition(args[1])
	if err != nil {
		return err
	}
	return withFile(path, func(ctx context.Context, a *app.Application, ex *lsp.Executor) error {
		got, err := lsp.HoverAt(ctx, ex, pos).Await(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if !got.Found {
			fmt.Fprintln(out, "no hover")
			return nil
		}
		fmt.Fprintf(out, "# backend: %s\n%s\n", got.Backend.Name(), got.Value.Contents.Value)
		return nil
	})
}

func runColors(cmd *cobra.Command, args []string) error {
	path, err := resolveFilePath(args[0])
	if err != nil {
		return err
	}
	return withFile(path, func(ctx context.Context, a *app.Application, ex *lsp.Executor) error {
		colors, err := lsp.DocumentColors(ctx, ex).Await(ctx)
		if err != nil {
			return err
		}
		color, err := useColor(flagColor, os.Stdout)
		if err != nil {
			return err
		}
		return formatColors(cmd.OutOrStdout(), a.Colors(), colors, color)
	})
}

// formatColors prints one row per color with its rendered swatch.
func formatColors(w io.Writer, table *style.ColorTable, colors []lsp.ColorInformation, color bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LINE\tCOL\tHEX\tSWATCH")
	for _, c := range colors {
		sw := table.Swatch(style.RGBA{Red: c.Color.Red, Green: c.Color.Green, Blue: c.Color.Blue, Alpha: c.Color.Alpha})
		swatch := "  "
		if color {
			swatch = style.Style{Background: sw.Color}.ANSI(swatch)
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", c.Range.Start.Line, c.Range.Start.Character, sw.Hex, swatch)
	}
	return tw.Flush()
}
