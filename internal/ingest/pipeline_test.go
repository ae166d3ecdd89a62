package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XuanZiK/V-knowledge/internal/backend/backendtest"
	"github.com/XuanZiK/V-knowledge/internal/chunk"
	"github.com/XuanZiK/V-knowledge/internal/embed"
	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
	"github.com/XuanZiK/V-knowledge/internal/registry"
	"github.com/XuanZiK/V-knowledge/internal/store"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newStore(t *testing.T) (*store.VectorStore, *backendtest.Memory) {
	t.Helper()
	mem := backendtest.NewMemory()
	reg := registry.New(filepath.Join(t.TempDir(), "kb_config.json"))
	s, err := store.New(context.Background(), store.Options{
		Backend:  mem,
		Registry: reg,
		Embedder: embed.NewHashEmbedder(32),
	})
	require.NoError(t, err)
	require.NoError(t, s.CreateCollection(context.Background(), "kb", 32))
	return s, mem
}

func collect(events <-chan Event) []Event {
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestPipeline_Run(t *testing.T) {
	// Given: one good text file, one unsupported file and one more text file
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "first paragraph\n\nsecond paragraph")
	bad := writeFile(t, dir, "b.xyz", "ignored")
	c := writeFile(t, dir, "c.txt", "only paragraph")
	s, mem := newStore(t)
	p := NewPipeline(chunk.New(), s, nil)

	// When: running the batch
	events := make(chan Event, 100)
	res := p.Run(context.Background(), Batch{Collection: "kb", Files: []string{a, bad, c}}, events)
	close(events)
	got := collect(events)

	// Then: good files are stored and the bad one is reported
	assert.Equal(t, []string{a, c}, res.Succeeded)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, bad, res.Failed[0].Path)
	assert.True(t, errors.Is(res.Failed[0].Err, vkberrors.ErrUnsupportedType))
	assert.Equal(t, 3, res.Chunks)
	assert.False(t, res.Cancelled)
	assert.Len(t, mem.Points("kb"), 3)

	// And: doc_count counts documents, not chunks
	e, _ := s.Registry().Get("kb")
	assert.Equal(t, 2, e.DocCount)

	// And: events follow the batch
	assert.Equal(t, []EventKind{
		EventFileStarted, EventFileProgress, EventFileProgress, EventChunkIngested, EventChunkIngested, EventFileCompleted,
		EventFileStarted, EventFileFailed,
		EventFileStarted, EventFileProgress, EventChunkIngested, EventFileCompleted,
		EventFinished,
	}, kinds(got))
	assert.Equal(t, 0, got[0].Percent)
	assert.Equal(t, 33, got[6].Percent)
	assert.Equal(t, 66, got[8].Percent)
	assert.Equal(t, 100, got[len(got)-1].Percent)
}

func TestPipeline_RequiresCollection(t *testing.T) {
	s, _ := newStore(t)
	p := NewPipeline(chunk.New(), s, nil)

	events := make(chan Event, 4)
	res := p.Run(context.Background(), Batch{Files: []string{"x.txt"}}, events)
	close(events)

	require.Len(t, res.Failed, 1)
	assert.Equal(t, []EventKind{EventError}, kinds(collect(events)))
}

// gatedStore blocks each AddTexts until released.
type gatedStore struct {
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	release chan struct{}
	err     error
}

func newGatedStore() *gatedStore {
	return &gatedStore{entered: make(chan struct{}, 100), release: make(chan struct{})}
}

func (g *gatedStore) AddTexts(ctx context.Context, _ string, _ []chunk.Chunk, _ bool) error {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	g.entered <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return g.err
}

func (g *gatedStore) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func TestPipeline_CancelStopsBeforeNextChunk(t *testing.T) {
	// Given: a file with three chunks and a store that blocks
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "one\n\ntwo\n\nthree")
	gs := newGatedStore()
	p := NewPipeline(chunk.New(), gs, nil)
	ctx, cancel := context.WithCancel(context.Background())

	events := make(chan Event, 100)
	done := make(chan Result)
	go func() { done <- p.Run(ctx, Batch{Collection: "kb", Files: []string{path}}, events) }()

	// When: cancelled during the first chunk
	<-gs.entered
	cancel()
	res := <-done
	close(events)

	// Then: no further chunks and no finished event
	assert.True(t, res.Cancelled)
	assert.Equal(t, 1, gs.Calls())
	assert.NotContains(t, kinds(collect(events)), EventFinished)
}

func TestPipeline_StoreFailureSkipsRestOfFile(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "one\n\ntwo")
	gs := newGatedStore()
	gs.err = errors.New("upsert failed")
	close(gs.release)
	p := NewPipeline(chunk.New(), gs, nil)

	res := p.Run(context.Background(), Batch{Collection: "kb", Files: []string{a}}, nil)

	require.Len(t, res.Failed, 1)
	assert.Equal(t, 1, gs.Calls())
	assert.Empty(t, res.Succeeded)
}
