// Package output formats CLI output: status lines, collection and result
// tables, and ingestion progress.
package output

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/XuanZiK/V-knowledge/internal/store"
)

// previewLen is how much of a hit's text the result table shows.
const previewLen = 100

// Writer writes formatted output. Write errors are ignored.
type Writer struct {
	out io.Writer
}

// New creates a Writer.
func New(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Status prints a message with an icon.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
		return
	}
	_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
}

// Statusf is Status with formatting.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

func (w *Writer) Successf(format string, args ...any) { w.Statusf("✅", format, args...) }
func (w *Writer) Warningf(format string, args ...any) { w.Statusf("⚠️ ", format, args...) }
func (w *Writer) Errorf(format string, args ...any)   { w.Statusf("❌", format, args...) }

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Collections prints one row per collection.
func (w *Writer) Collections(infos []store.CollectionInfo) {
	if len(infos) == 0 {
		w.Status("", "No collections. Create one with: vkb collection create <name>")
		return
	}
	tw := tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tDOCUMENTS\tCREATED\tSTATUS")
	for _, c := range infos {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", c.Name, c.DocCount, c.CreatedAt, c.Status)
	}
	_ = tw.Flush()
}

// Hits prints search results, best first as given.
func (w *Writer) Hits(hits []store.Hit) {
	if len(hits) == 0 {
		w.Status("", "No results.")
		return
	}
	tw := tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "#\tSIMILARITY\tDOCUMENT\tCONTENT")
	for i, h := range hits {
		_, _ = fmt.Fprintf(tw, "%d\t%.4f\t%s\t%s\n", i+1, h.Score, h.Document, Preview(h.Text, previewLen))
	}
	_ = tw.Flush()
}

// Timing prints search latency.
func (w *Writer) Timing(search, rerank, total time.Duration) {
	_, _ = fmt.Fprintf(w.out, "\nsearch %s, rerank %s, total %s\n", ms(search), ms(rerank), ms(total))
}

func ms(d time.Duration) string {
	return fmt.Sprintf("%.2fms", float64(d.Microseconds())/1000)
}

// Preview flattens whitespace and cuts s to at most n runes.
func Preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
