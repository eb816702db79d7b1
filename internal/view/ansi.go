package view

import (
	"bufio"
	"io"
	"strings"

	"github.com/dshills/lspmux/internal/style"
)

// WriteANSI writes the document with 24-bit color escape sequences. Runs
// of equally styled glyphs share one sequence.
func WriteANSI(w io.Writer, doc *Document) error {
	bw := bufio.NewWriter(w)
	for i := 0; i < doc.LineCount(); i++ {
		if i > 0 {
			if err := bw.WriteByte('\n'); err != nil {
				return err
			}
		}
		if _, err := bw.WriteString(renderLine(doc.Line(i))); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func renderLine(glyphs []Glyph) string {
	var sb strings.Builder
	var run strings.Builder
	var cur style.Style

	flush := func() {
		if run.Len() > 0 {
			sb.WriteString(cur.ANSI(run.String()))
			run.Reset()
		}
	}
	for _, g := range glyphs {
		if g.Style != cur {
			flush()
			cur = g.Style
		}
		run.WriteRune(g.Rune)
	}
	flush()
	return sb.String()
}

// WritePlain writes the document text without styling.
func WritePlain(w io.Writer, doc *Document) error {
	bw := bufio.NewWriter(w)
	for i := 0; i < doc.LineCount(); i++ {
		if i > 0 {
			if err := bw.WriteByte('\n'); err != nil {
				return err
			}
		}
		for _, g := range doc.Line(i) {
			if _, err := bw.WriteRune(g.Rune); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}
