package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
)

func txtOnly(path string) bool { return strings.HasSuffix(path, ".txt") }

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// waitForPaths collects batches until every wanted path was seen.
func waitForPaths(t *testing.T, ch <-chan []FileEvent, want ...string) map[string]FileEvent {
	t.Helper()
	seen := make(map[string]FileEvent)
	deadline := time.After(5 * time.Second)
	for {
		done := true
		for _, w := range want {
			if _, ok := seen[w]; !ok {
				done = false
			}
		}
		if done {
			return seen
		}
		select {
		case batch, ok := <-ch:
			require.True(t, ok)
			for _, ev := range batch {
				seen[ev.Path] = ev
			}
		case <-deadline:
			t.Fatalf("timed out; saw %v", seen)
		}
	}
}

func TestFolderWatcher_Notify(t *testing.T) {
	// Given: a watcher on a folder that only accepts .txt files
	root := t.TempDir()
	w := NewFolderWatcher(Options{DebounceWindow: 50 * time.Millisecond, Recursive: true, Filter: txtOnly})
	require.NoError(t, w.Start(context.Background(), root))
	defer func() { _ = w.Stop() }()

	// When: files are written, including one in a new subfolder
	writeFile(t, filepath.Join(root, "a.txt"), "alpha")
	writeFile(t, filepath.Join(root, "skip.bin"), "binary")
	writeFile(t, filepath.Join(root, ".hidden.txt"), "hidden")
	writeFile(t, filepath.Join(root, "sub", "b.txt"), "beta")

	// Then: only accepted files are reported
	seen := waitForPaths(t, w.Batches(), filepath.Join(root, "a.txt"), filepath.Join(root, "sub", "b.txt"))
	assert.NotContains(t, seen, filepath.Join(root, "skip.bin"))
	assert.NotContains(t, seen, filepath.Join(root, ".hidden.txt"))
}

func TestFolderWatcher_Polling(t *testing.T) {
	// Given: a polling watcher with an existing file
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "old.txt"), "old")
	w := NewFolderWatcher(Options{
		DebounceWindow: 20 * time.Millisecond,
		PollInterval:   20 * time.Millisecond,
		Recursive:      true,
		ForcePolling:   true,
		Filter:         txtOnly,
	})
	require.NoError(t, w.Start(context.Background(), root))
	defer func() { _ = w.Stop() }()

	// When: a new file appears
	writeFile(t, filepath.Join(root, "new.txt"), "new")

	// Then: it is reported as created and the baseline file is not
	seen := waitForPaths(t, w.Batches(), filepath.Join(root, "new.txt"))
	assert.Equal(t, OpCreate, seen[filepath.Join(root, "new.txt")].Operation)
	assert.NotContains(t, seen, filepath.Join(root, "old.txt"))
}

func TestFolderWatcher_StartErrors(t *testing.T) {
	// Given: a missing folder and a plain file
	root := t.TempDir()
	file := filepath.Join(root, "f.txt")
	writeFile(t, file, "x")

	// When/Then: starting on a missing folder is NotFound
	err := NewFolderWatcher(Options{}).Start(context.Background(), filepath.Join(root, "missing"))
	assert.ErrorIs(t, err, vkberrors.ErrNotFound)

	// When/Then: starting on a file is a validation error
	err = NewFolderWatcher(Options{}).Start(context.Background(), file)
	assert.Equal(t, vkberrors.CategoryValidation, vkberrors.GetCategory(err))
}

func TestFolderWatcher_StopIsIdempotent(t *testing.T) {
	// Given: a started watcher
	w := NewFolderWatcher(Options{})
	require.NoError(t, w.Start(context.Background(), t.TempDir()))

	// When: stopping twice
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	// Then: batches are closed and restarting fails
	_, ok := <-w.Batches()
	assert.False(t, ok)
	assert.Error(t, w.Start(context.Background(), t.TempDir()))
}
