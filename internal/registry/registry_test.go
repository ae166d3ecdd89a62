package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kb_config.json")
	return New(path, WithClock(func() time.Time { return fixedNow }))
}

func TestLoad_MissingFileCreatesEmptyRegistry(t *testing.T) {
	// Given: no registry file
	r := newTestRegistry(t)

	// When: loading
	cfg := r.Load()

	// Then: the registry is empty and persisted
	assert.Empty(t, cfg.Collections)
	raw, err := os.ReadFile(r.Path())
	require.NoError(t, err)
	assert.JSONEq(t, `{"collections": {}}`, string(raw))
}

func TestLoad_CorruptFileIsReplaced(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, os.WriteFile(r.Path(), []byte("{not json"), 0o644))

	cfg := r.Load()

	assert.Empty(t, cfg.Collections)
	raw, err := os.ReadFile(r.Path())
	require.NoError(t, err)
	assert.JSONEq(t, `{"collections": {}}`, string(raw))
}

func TestLoad_NullCollectionsNormalized(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, os.WriteFile(r.Path(), []byte(`{"collections": null}`), 0o644))

	cfg := r.Load()

	assert.NotNil(t, cfg.Collections)
	assert.Empty(t, cfg.Collections)
}

func TestSave_DeterministicFormat(t *testing.T) {
	// Given: two collections
	r := newTestRegistry(t)
	cfg := Config{Collections: map[string]Entry{
		"zeta":  {CreatedAt: "2024-01-02 03:04:05", DocCount: 2, VectorSize: 384},
		"alpha": {CreatedAt: "2024-01-01 00:00:00", DocCount: 0, VectorSize: 768},
	}}

	// When: saving
	require.NoError(t, r.Save(cfg))

	// Then: keys are sorted with two-space indentation
	raw, err := os.ReadFile(r.Path())
	require.NoError(t, err)
	want := `{
  "collections": {
    "alpha": {
      "created_at": "2024-01-01 00:00:00",
      "doc_count": 0,
      "vector_size": 768
    },
    "zeta": {
      "created_at": "2024-01-02 03:04:05",
      "doc_count": 2,
      "vector_size": 384
    }
  }
}
`
	assert.Equal(t, want, string(raw))

	// And: a reload round-trips
	assert.Equal(t, cfg, New(r.Path()).Load())
}

func TestReconcile_DropsStaleAndAdoptsNew(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	require.NoError(t, r.Save(Config{Collections: map[string]Entry{
		"kept":  {CreatedAt: "2023-05-05 05:05:05", DocCount: 3, VectorSize: 384},
		"stale": {CreatedAt: "2023-05-05 05:05:05", DocCount: 1, VectorSize: 384},
	}}))

	lookup := func(_ context.Context, name string) (int, int, error) {
		if name == "broken" {
			return 0, 0, errors.New("lookup failed")
		}
		return 12, 768, nil
	}

	// When: reconciling against a backend with kept, fresh and broken
	require.NoError(t, r.Reconcile(ctx, []string{"kept", "fresh", "broken"}, lookup))

	// Then: stale is gone, fresh is adopted, broken is skipped, kept is untouched
	cfg := r.Snapshot()
	assert.NotContains(t, cfg.Collections, "stale")
	assert.NotContains(t, cfg.Collections, "broken")
	assert.Equal(t, Entry{CreatedAt: "2023-05-05 05:05:05", DocCount: 3, VectorSize: 384}, cfg.Collections["kept"])
	assert.Equal(t, Entry{CreatedAt: "2024-03-01 09:30:00", DocCount: 12, VectorSize: 768}, cfg.Collections["fresh"])

	// And: the file matches memory
	assert.Equal(t, cfg, New(r.Path()).Load())
}

func TestReconcile_Idempotent(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	r.Load()
	lookup := func(context.Context, string) (int, int, error) { return 5, 384, nil }
	names := []string{"a", "b", "c", "d", "e", "f"}

	// Given: a first reconciliation
	require.NoError(t, r.Reconcile(ctx, names, lookup))
	first, err := os.ReadFile(r.Path())
	require.NoError(t, err)

	// When: reconciling again with a later clock
	r.now = func() time.Time { return fixedNow.Add(time.Hour) }
	require.NoError(t, r.Reconcile(ctx, names, lookup))

	// Then: the file is byte-identical
	second, err := os.ReadFile(r.Path())
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestReconcile_CancelledContext(t *testing.T) {
	r := newTestRegistry(t)
	r.Load()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Reconcile(ctx, []string{"x"}, func(ctx context.Context, _ string) (int, int, error) {
		return 0, 0, ctx.Err()
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestMutations(t *testing.T) {
	r := newTestRegistry(t)
	r.Load()

	// Given: a registered collection
	require.NoError(t, r.Register("docs", 384))
	e, ok := r.Get("docs")
	require.True(t, ok)
	assert.Equal(t, Entry{CreatedAt: "2024-03-01 09:30:00", DocCount: 0, VectorSize: 384}, e)

	// When: documents are counted
	ok, err := r.IncrementDocCount("docs")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.IncrementDocCount("unknown")
	require.NoError(t, err)
	assert.False(t, ok)

	// Then: the count is persisted
	reloaded := New(r.Path()).Load()
	assert.Equal(t, 1, reloaded.Collections["docs"].DocCount)

	// When: removed
	require.NoError(t, r.Remove("docs"))
	require.NoError(t, r.Remove("docs"))
	assert.Empty(t, r.Names())
}

func TestIncrementDocCount_Concurrent(t *testing.T) {
	r := newTestRegistry(t)
	r.Load()
	require.NoError(t, r.Register("docs", 384))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.IncrementDocCount("docs")
		}()
	}
	wg.Wait()

	e, _ := r.Get("docs")
	assert.Equal(t, 20, e.DocCount)
}

func TestNames_Sorted(t *testing.T) {
	r := newTestRegistry(t)
	r.Load()
	require.NoError(t, r.Register("b", 1))
	require.NoError(t, r.Register("a", 1))
	assert.Equal(t, []string{"a", "b"}, r.Names())
}
