package preflight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(desc string) ProbeFunc {
	return func(context.Context) (string, error) { return desc, nil }
}

func failing(msg string) ProbeFunc {
	return func(context.Context) (string, error) { return "", errors.New(msg) }
}

func TestRunAll_LocalChecksAndProbes(t *testing.T) {
	// Given: a data dir that does not exist yet and two passing probes
	dataDir := filepath.Join(t.TempDir(), "data")
	c := New(
		WithProbe("backend", true, ok("local storage, 2 collections")),
		WithProbe("embedding", false, ok("static-64 (64 dims)")),
	)

	// When: running all checks
	results := c.RunAll(context.Background(), dataDir)

	// Then: local checks run first, probes follow in order
	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.Name
	}
	assert.Equal(t, []string{"data_dir", "disk_space", "file_descriptors", "backend", "embedding"}, names)
	assert.Equal(t, StatusPass, results[0].Status)
	assert.DirExists(t, dataDir)
	assert.Equal(t, "local storage, 2 collections", results[3].Message)
	assert.False(t, c.HasCriticalFailures(results))
}

func TestRunAll_ProbeFailures(t *testing.T) {
	tests := []struct {
		name     string
		required bool
		wantStat CheckStatus
		critical bool
		summary  string
	}{
		{"required probe fails", true, StatusFail, true, "failed"},
		{"optional probe warns", false, StatusWarn, false, "ready_with_warnings"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(WithProbe("backend", tt.required, failing("connection refused")))

			results := c.RunAll(context.Background(), t.TempDir())
			last := results[len(results)-1]

			assert.Equal(t, tt.wantStat, last.Status)
			assert.Equal(t, "connection refused", last.Message)
			assert.Equal(t, tt.critical, c.HasCriticalFailures(results))
			if tt.critical {
				assert.Equal(t, tt.summary, c.SummaryStatus(results))
			}
		})
	}
}

func TestRunAll_ProbeTimeout(t *testing.T) {
	// Given: a probe that waits for its context
	slow := func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	c := New(WithProbe("embedding", false, slow), WithProbeTimeout(20*time.Millisecond))

	// When: running checks
	results := c.RunAll(context.Background(), t.TempDir())

	// Then: the probe is cut off and reported as a warning
	last := results[len(results)-1]
	assert.Equal(t, StatusWarn, last.Status)
	assert.Contains(t, last.Message, "deadline exceeded")
}

func TestCheckWritePermissions_ReadOnly(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	r := New().CheckWritePermissions(dir)

	assert.Equal(t, StatusFail, r.Status)
	assert.True(t, r.IsCritical())
}

func TestPrintResults(t *testing.T) {
	var buf bytes.Buffer
	c := New(WithOutput(&buf), WithVerbose(true))
	results := []CheckResult{
		{Name: "data_dir", Status: StatusPass, Message: "writable", Details: "/tmp/kb", Required: true},
		{Name: "embedding", Status: StatusWarn, Message: "ollama not reachable"},
	}

	c.PrintResults(results)

	out := buf.String()
	assert.Contains(t, out, "[PASS] data_dir: writable")
	assert.Contains(t, out, "/tmp/kb")
	assert.Contains(t, out, "Status: READY_WITH_WARNINGS")
	assert.Contains(t, out, "1 warning(s):\n  - embedding: ollama not reachable")
	assert.NotContains(t, out, "error(s)")
}

func TestCheckResult_JSON(t *testing.T) {
	data, err := json.Marshal(CheckResult{Name: "disk_space", Status: StatusFail, Required: true})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"fail"`)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 bytes", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "100.0 MB", formatBytes(MinDiskSpaceBytes))
	assert.Equal(t, "2.0 GB", formatBytes(2*1024*1024*1024))
}
