package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dshills/lspmux/internal/app"
	"github.com/dshills/lspmux/internal/lsp"
	"github.com/dshills/lspmux/internal/view"
)

var flagRender bool

var errNoTokens = errors.New("no backend returned semantic tokens")

var tokensCmd = &cobra.Command{
	Use:   "tokens <file>",
	Short: "Print the semantic tokens of a file",
	Long:  "Requests full-document semantic tokens from the first backend that answers and prints the decoded ranges. Lines and columns are 0-based; columns are UTF-16 units.",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokens,
}

func init() {
	tokensCmd.Flags().BoolVar(&flagRender, "render", false, "print the file with token styles instead of the range list")
}

// highlighted is a decoded file.
type highlighted struct {
	text    string
	backend string
	ranges  []lsp.StyleRange
}

// highlight opens path and decodes the tokens of the first backend that
// answers, resolving styles with the application theme.
func highlight(ctx context.Context, a *app.Application, path string) (*highlighted, error) {
	uri, text, err := a.OpenFile(ctx, path)
	if err != nil {
		return nil, err
	}
	got, err := lsp.FetchSemanticTokens(ctx, a.Executor(uri)).Await(ctx)
	if err != nil {
		return nil, err
	}
	if !got.Found {
		return nil, fmt.Errorf("%s: %w", path, errNoTokens)
	}
	conv := lsp.NewPositionConverter(text)
	ranges := lsp.DecodeSemanticTokens(got.Value.Data, got.Value.Legend, conv, a.Theme(),
		lsp.WithDecodeLogger(a.Logger()))
	return &highlighted{text: text, backend: got.Backend.Name(), ranges: ranges}, nil
}

func runTokens(cmd *cobra.Command, args []string) error {
	path, err := resolveFilePath(args[0])
	if err != nil {
		return err
	}
	color, err := useColor(flagColor, os.Stdout)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, flagTimeout)
	defer cancelTimeout()

	a, stop, err := startApp(ctx, filepath.Dir(path))
	if err != nil {
		return err
	}
	defer stop()

	h, err := highlight(ctx, a, path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if flagRender {
		doc := view.NewDocument(h.text, h.ranges)
		if color {
			return view.WriteANSI(out, doc)
		}
		return view.WritePlain(out, doc)
	}
	return formatRanges(out, h, color)
}

// useColor resolves the --color flag against the output file.
func useColor(mode string, f *os.File) (bool, error) {
	switch mode {
	case "always":
		return true, nil
	case "never":
		return false, nil
	case "auto":
		return term.IsTerminal(int(f.Fd())), nil
	default:
		return false, fmt.Errorf("invalid color mode %q (must be auto, always, or never)", mode)
	}
}

// formatRanges prints one row per range; the text column is styled when
// color is set.
func formatRanges(w io.Writer, h *highlighted, color bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "# backend: %s\n", h.backend)
	fmt.Fprintln(tw, "LINE\tCOL\tLEN\tTYPE\tMODIFIERS\tTEXT")
	conv := lsp.NewPositionConverter(h.text)
	for _, r := range h.ranges {
		text := rangeText(conv, r)
		if color && r.Styled {
			text = r.Style.ANSI(text)
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\t%s\n",
			r.Line, r.Character, r.Length, orDash(r.TokenType), orDash(strings.Join(r.Modifiers, ",")), text)
	}
	return tw.Flush()
}

// rangeText returns the source text a range covers.
func rangeText(conv *lsp.PositionConverter, r lsp.StyleRange) string {
	start := lsp.Position{Line: r.Line, Character: r.Character}
	end := lsp.Position{Line: r.Line, Character: r.Character + r.Length}
	text, err := conv.Text(start, end)
	if err != nil {
		return ""
	}
	return strings.TrimRight(text, "\r\n")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
