// Package preflight runs environment checks before ingesting or serving:
// the data directory must be writable with room to grow, and the vector
// backend and embedding model should answer.
//
//	checker := preflight.New(preflight.WithProbe("backend", true, probeBackend))
//	results := checker.RunAll(ctx, dataDir)
//	if checker.HasCriticalFailures(results) {
//	    // refuse to continue
//	}
package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CheckStatus is the outcome of a check.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText writes the status as its name in JSON output.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(s.String())), nil
}

// CheckResult holds the result of a single check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical reports a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// ProbeFunc reaches an external dependency and returns a short description
// of what answered.
type ProbeFunc func(ctx context.Context) (string, error)

type probe struct {
	name     string
	required bool
	fn       ProbeFunc
}

// Checker performs preflight checks.
type Checker struct {
	verbose      bool
	output       io.Writer
	probes       []probe
	probeTimeout time.Duration
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerbose prints check details.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) { c.verbose = verbose }
}

// WithOutput sets the writer PrintResults uses.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) { c.output = w }
}

// WithProbe adds a named dependency probe. A failing required probe is
// critical; an optional one only warns.
func WithProbe(name string, required bool, fn ProbeFunc) Option {
	return func(c *Checker) {
		c.probes = append(c.probes, probe{name: name, required: required, fn: fn})
	}
}

// WithProbeTimeout bounds each probe. Default 10s.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Checker) { c.probeTimeout = d }
}

// New creates a Checker.
func New(opts ...Option) *Checker {
	c := &Checker{
		output:       os.Stdout,
		probeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs the local checks against dataDir, then every probe in the
// order it was added.
func (c *Checker) RunAll(ctx context.Context, dataDir string) []CheckResult {
	results := []CheckResult{
		c.CheckWritePermissions(dataDir),
		c.CheckDiskSpace(dataDir),
		c.CheckFileDescriptors(),
	}
	for _, p := range c.probes {
		results = append(results, c.runProbe(ctx, p))
	}
	return results
}

func (c *Checker) runProbe(ctx context.Context, p probe) CheckResult {
	result := CheckResult{Name: p.name, Required: p.required}

	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	start := time.Now()
	desc, err := p.fn(ctx)
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		result.Status = StatusWarn
		if p.required {
			result.Status = StatusFail
		}
		result.Message = err.Error()
		return result
	}
	result.Status = StatusPass
	result.Message = desc
	result.Details = fmt.Sprintf("answered in %s", elapsed)
	return result
}

// HasCriticalFailures reports whether any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus is "failed", "ready_with_warnings" or "ready".
func (c *Checker) SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status != StatusPass {
			hasWarnings = true
		}
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults writes a report to the configured output.
func (c *Checker) PrintResults(results []CheckResult) {
	_, _ = fmt.Fprintln(c.output, "vkb system check")
	_, _ = fmt.Fprintln(c.output, "================")
	_, _ = fmt.Fprintln(c.output)

	for _, r := range results {
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			_, _ = fmt.Fprintf(c.output, "       %s\n", r.Details)
		}
	}

	_, _ = fmt.Fprintln(c.output)
	_, _ = fmt.Fprintf(c.output, "Status: %s\n", strings.ToUpper(c.SummaryStatus(results)))

	var warnings, errors []string
	for _, r := range results {
		switch {
		case r.IsCritical():
			errors = append(errors, r.Name+": "+r.Message)
		case r.Status != StatusPass:
			warnings = append(warnings, r.Name+": "+r.Message)
		}
	}
	printList(c.output, "error(s)", errors)
	printList(c.output, "warning(s)", warnings)
}

func printList(w io.Writer, label string, items []string) {
	if len(items) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "%d %s:\n", len(items), label)
	for _, item := range items {
		_, _ = fmt.Fprintf(w, "  - %s\n", item)
	}
}

// CheckWritePermissions creates dataDir if needed and writes a probe file.
func (c *Checker) CheckWritePermissions(dataDir string) CheckResult {
	result := CheckResult{Name: "data_dir", Required: true}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create %s: %v", dataDir, err)
		return result
	}
	f, err := os.CreateTemp(dataDir, ".vkb-preflight-*")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)

	result.Status = StatusPass
	result.Message = "writable"
	result.Details = filepath.Clean(dataDir)
	return result
}
