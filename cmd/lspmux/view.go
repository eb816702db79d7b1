package main

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dshills/lspmux/internal/style"
	"github.com/dshills/lspmux/internal/view"
)

var viewCmd = &cobra.Command{
	Use:   "view <file>",
	Short: "Preview a file with semantic highlighting",
	Long:  "Opens a full-screen, read-only preview of the file styled by its semantic tokens. q or Esc quits.",
	Args:  cobra.ExactArgs(1),
	RunE:  runView,
}

func runView(cmd *cobra.Command, args []string) error {
	path, err := resolveFilePath(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, stop, err := startApp(ctx, filepath.Dir(path))
	if err != nil {
		return err
	}
	defer stop()

	hctx, cancelTimeout := context.WithTimeout(ctx, flagTimeout)
	h, err := highlight(hctx, a, path)
	cancelTimeout()
	if err != nil {
		return err
	}

	screen, err := view.NewTerminal()
	if err != nil {
		return err
	}
	gutter := style.NewStyle(style.ColorFromRGB(0x60, 0x60, 0x60))
	v := view.NewViewer(screen, view.NewDocument(h.text, h.ranges),
		view.WithTitle(filepath.Base(path)+" ["+h.backend+"]"),
		view.WithGutterStyle(gutter))
	return v.Run(ctx)
}
