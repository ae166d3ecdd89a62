package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/XuanZiK/V-knowledge/internal/ingest"
)

// Reporter renders ingestion events.
type Reporter interface {
	Handle(ev ingest.Event)
	Finish(res ingest.Result)
}

// NewReporter returns a progress bar on a terminal and line output
// otherwise, e.g. in CI logs or when piped.
func NewReporter(out io.Writer) Reporter {
	if f, ok := out.(*os.File); ok && isTerminal(f.Fd()) && os.Getenv("CI") == "" {
		return NewBarReporter(out)
	}
	return NewLineReporter(out)
}

func isTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// LineReporter prints one line per file outcome.
type LineReporter struct {
	out io.Writer
}

// NewLineReporter creates a LineReporter.
func NewLineReporter(out io.Writer) *LineReporter {
	return &LineReporter{out: out}
}

func (r *LineReporter) Handle(ev ingest.Event) {
	name := filepath.Base(ev.File)
	switch ev.Kind {
	case ingest.EventFileStarted:
		_, _ = fmt.Fprintf(r.out, "[%d/%d] %s\n", ev.Index+1, ev.Total, name)
	case ingest.EventFileCompleted:
		_, _ = fmt.Fprintf(r.out, "      done %s\n", name)
	case ingest.EventFileSkipped:
		_, _ = fmt.Fprintf(r.out, "      skipped %s (already ingested)\n", name)
	case ingest.EventFileFailed:
		_, _ = fmt.Fprintf(r.out, "ERROR: %s: %v\n", name, ev.Err)
	case ingest.EventError:
		_, _ = fmt.Fprintf(r.out, "ERROR: %v\n", ev.Err)
	}
}

func (r *LineReporter) Finish(res ingest.Result) {
	_, _ = fmt.Fprintln(r.out, Summary(res))
}

// BarReporter shows a progress bar over the batch percentage.
type BarReporter struct {
	out io.Writer
	bar *progressbar.ProgressBar
}

// NewBarReporter creates a BarReporter.
func NewBarReporter(out io.Writer) *BarReporter {
	return &BarReporter{
		out: out,
		bar: progressbar.NewOptions(100,
			progressbar.OptionSetWriter(out),
			progressbar.OptionSetDescription("Ingesting"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		),
	}
}

func (r *BarReporter) Handle(ev ingest.Event) {
	switch ev.Kind {
	case ingest.EventFileStarted:
		r.bar.Describe(fmt.Sprintf("[%d/%d] %s", ev.Index+1, ev.Total, filepath.Base(ev.File)))
		_ = r.bar.Set(ev.Percent)
	case ingest.EventFileProgress:
		if ev.Total > 0 {
			_ = r.bar.Set((ev.Index*100 + ev.Percent) / ev.Total)
		}
	case ingest.EventFileFailed:
		_ = r.bar.Clear()
		_, _ = fmt.Fprintf(r.out, "ERROR: %s: %v\n", filepath.Base(ev.File), ev.Err)
	case ingest.EventFinished:
		_ = r.bar.Set(100)
	}
}

func (r *BarReporter) Finish(res ingest.Result) {
	_ = r.bar.Finish()
	_, _ = fmt.Fprintln(r.out, Summary(res))
}

// Summary is the one-line result of a batch.
func Summary(res ingest.Result) string {
	if res.Cancelled {
		return fmt.Sprintf("Cancelled: %d of %d files ingested into %s (%d chunks)",
			len(res.Succeeded), res.Files, res.Collection, res.Chunks)
	}
	s := fmt.Sprintf("Complete: %d of %d files ingested into %s (%d chunks)",
		len(res.Succeeded), res.Files, res.Collection, res.Chunks)
	if n := len(res.Skipped); n > 0 {
		s += fmt.Sprintf(", %d skipped", n)
	}
	if n := len(res.Failed); n > 0 {
		s += fmt.Sprintf(", %d failed", n)
	}
	return s
}

// PullProgress renders model download progress: a byte bar per layer on a
// terminal, status changes only otherwise.
type PullProgress struct {
	out        io.Writer
	tty        bool
	lastStatus string
	digest     string
	bar        *progressbar.ProgressBar
}

// NewPullProgress creates a PullProgress writing to out.
func NewPullProgress(out io.Writer) *PullProgress {
	f, ok := out.(*os.File)
	return &PullProgress{out: out, tty: ok && isTerminal(f.Fd()) && os.Getenv("CI") == ""}
}

// Update handles one progress line.
func (p *PullProgress) Update(status, digest string, total, completed int64) {
	if p.tty && total > 0 && digest != "" {
		if digest != p.digest {
			p.finishBar()
			p.digest = digest
			p.bar = progressbar.NewOptions64(total,
				progressbar.OptionSetWriter(p.out),
				progressbar.OptionSetDescription(status),
				progressbar.OptionShowBytes(true),
				progressbar.OptionSetWidth(40),
				progressbar.OptionThrottle(100*time.Millisecond),
			)
		}
		_ = p.bar.Set64(completed)
		return
	}
	if status == p.lastStatus {
		return
	}
	p.finishBar()
	p.lastStatus = status
	_, _ = fmt.Fprintln(p.out, status)
}

// Done closes any open bar.
func (p *PullProgress) Done() {
	p.finishBar()
}

func (p *PullProgress) finishBar() {
	if p.bar != nil {
		_ = p.bar.Finish()
		_, _ = fmt.Fprintln(p.out)
		p.bar = nil
	}
}
