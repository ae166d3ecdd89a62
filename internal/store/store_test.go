package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XuanZiK/V-knowledge/internal/backend/backendtest"
	"github.com/XuanZiK/V-knowledge/internal/chunk"
	"github.com/XuanZiK/V-knowledge/internal/embed"
	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
	"github.com/XuanZiK/V-knowledge/internal/registry"
)

const testDims = 256

type failingEmbedder struct{ embed.Embedder }

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("model offline")
}

func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("model offline")
}

type fixture struct {
	store   *VectorStore
	backend *backendtest.Memory
	reg     *registry.Registry
}

func newFixture(t *testing.T, mem *backendtest.Memory, e embed.Embedder) fixture {
	t.Helper()
	if mem == nil {
		mem = backendtest.NewMemory()
	}
	if e == nil {
		e = embed.NewHashEmbedder(testDims)
	}
	reg := registry.New(filepath.Join(t.TempDir(), "kb_config.json"))
	s, err := New(context.Background(), Options{Backend: mem, Registry: reg, Embedder: e})
	require.NoError(t, err)
	return fixture{store: s, backend: mem, reg: reg}
}

func textChunk(content string, index int) chunk.Chunk {
	return chunk.Chunk{
		Content: content,
		Type:    chunk.ChunkTypeParagraph,
		Index:   index,
		Source: chunk.Source{
			Path:      "/docs/notes.txt",
			Filename:  "notes.txt",
			FileType:  "TXT",
			CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	}
}

func TestNew_AdoptsBackendCollections(t *testing.T) {
	// Given: a backend that already holds a collection with points
	ctx := context.Background()
	mem := backendtest.NewMemory()
	require.NoError(t, mem.CreateCollection(ctx, "legacy", testDims, ""))
	f := newFixture(t, mem, nil)
	require.NoError(t, f.store.AddTextStrings(ctx, "legacy", []string{"a", "b"}, false))

	// When: a new store starts over the same registry file
	s2, err := New(ctx, Options{Backend: mem, Registry: registry.New(f.reg.Path()), Embedder: embed.NewHashEmbedder(testDims)})
	require.NoError(t, err)

	// Then: the registry knows the collection
	e, ok := s2.Registry().Get("legacy")
	require.True(t, ok)
	assert.Equal(t, testDims, e.VectorSize)
}

func TestNew_BackendUnavailable(t *testing.T) {
	mem := backendtest.NewMemory()
	mem.FailList = errors.New("connection refused")
	reg := registry.New(filepath.Join(t.TempDir(), "kb_config.json"))

	_, err := New(context.Background(), Options{Backend: mem, Registry: reg, Embedder: embed.NewHashEmbedder(testDims)})

	assert.True(t, errors.Is(err, vkberrors.ErrBackendUnavailable))
}

func TestCreateCollection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)

	// When: creating without a size
	require.NoError(t, f.store.CreateCollection(ctx, "docs", 0))

	// Then: the default size is used, it is registered and current
	info, err := f.backend.GetCollection(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, DefaultVectorSize, info.VectorSize)
	e, ok := f.reg.Get("docs")
	require.True(t, ok)
	assert.Equal(t, 0, e.DocCount)
	assert.Equal(t, "docs", f.store.Current())

	// Then: a duplicate fails and leaves state unchanged
	err = f.store.CreateCollection(ctx, "docs", 16)
	assert.True(t, errors.Is(err, vkberrors.ErrAlreadyExists))
	info, _ = f.backend.GetCollection(ctx, "docs")
	assert.Equal(t, DefaultVectorSize, info.VectorSize)
}

func TestCreateCollection_InvalidName(t *testing.T) {
	f := newFixture(t, nil, nil)
	for _, name := range []string{"", "  ", "a/b"} {
		err := f.store.CreateCollection(context.Background(), name, 8)
		assert.Equal(t, vkberrors.CategoryValidation, vkberrors.GetCategory(err), name)
	}
}

func TestAddTexts_ContiguousIDsAndPayload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	require.NoError(t, f.store.CreateCollection(ctx, "docs", testDims))

	// Given: two batches
	require.NoError(t, f.store.AddTexts(ctx, "docs", []chunk.Chunk{textChunk("one", 1), textChunk("two", 2)}, true))
	require.NoError(t, f.store.AddTexts(ctx, "docs", []chunk.Chunk{textChunk("three", 3)}, false))

	// Then: ids are 0..2 in insertion order
	points := f.backend.Points("docs")
	require.Len(t, points, 3)
	for i, p := range points {
		assert.Equal(t, uint64(i), p.ID)
	}
	assert.Equal(t, "three", points[2].Payload[PayloadContent])

	// Then: the text field is a JSON record of the chunk
	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(points[0].Payload[PayloadText].(string)), &record))
	assert.Equal(t, "notes.txt", record["filename"])
	assert.Equal(t, "TXT", record["file_type"])
	assert.Equal(t, "paragraph", record["chunk_type"])
	assert.EqualValues(t, 1, record["chunk_index"])
	assert.Equal(t, "2024-01-02T03:04:05Z", record["created_at"])
	assert.NotContains(t, record, "page_number")
}

func TestAddTexts_DocCountOnlyOnFirstChunk(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	require.NoError(t, f.store.CreateCollection(ctx, "docs", testDims))

	require.NoError(t, f.store.AddTexts(ctx, "docs", []chunk.Chunk{textChunk("a", 1)}, true))
	require.NoError(t, f.store.AddTexts(ctx, "docs", []chunk.Chunk{textChunk("b", 2)}, false))
	require.NoError(t, f.store.AddTexts(ctx, "docs", []chunk.Chunk{textChunk("c", 1)}, true))

	e, _ := f.reg.Get("docs")
	assert.Equal(t, 2, e.DocCount)

	// Persisted too
	cfg := registry.New(f.reg.Path()).Load()
	assert.Equal(t, 2, cfg.Collections["docs"].DocCount)
}

func TestAddTexts_EmptyIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	require.NoError(t, f.store.CreateCollection(ctx, "docs", testDims))

	require.NoError(t, f.store.AddTexts(ctx, "docs", nil, true))

	assert.Equal(t, 0, f.backend.Upserts())
	e, _ := f.reg.Get("docs")
	assert.Equal(t, 0, e.DocCount)
}

func TestAddTexts_ErrorsPropagate(t *testing.T) {
	ctx := context.Background()

	t.Run("missing collection", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		err := f.store.AddTexts(ctx, "nope", []chunk.Chunk{textChunk("a", 1)}, true)
		assert.True(t, errors.Is(err, vkberrors.ErrCollectionNotFound))
	})

	t.Run("embedding failure", func(t *testing.T) {
		f := newFixture(t, nil, failingEmbedder{})
		require.NoError(t, f.store.CreateCollection(ctx, "docs", testDims))
		err := f.store.AddTexts(ctx, "docs", []chunk.Chunk{textChunk("a", 1)}, true)
		assert.Error(t, err)
		e, _ := f.reg.Get("docs")
		assert.Equal(t, 0, e.DocCount)
	})
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	require.NoError(t, f.store.CreateCollection(ctx, "docs", testDims))
	require.NoError(t, f.store.AddTexts(ctx, "docs", []chunk.Chunk{
		textChunk("the quick brown fox", 1),
		textChunk("lazy dogs sleep all day", 2),
	}, true))

	// When: searching the current collection
	hits, err := f.store.Search(ctx, "quick brown fox", "", 0)

	// Then: the matching chunk ranks first with its label
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "the quick brown fox", hits[0].Text)
	assert.Equal(t, "notes.txt", hits[0].Document)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
}

func TestSearch_PicksFirstCollectionWhenNoneCurrent(t *testing.T) {
	ctx := context.Background()
	mem := backendtest.NewMemory()
	require.NoError(t, mem.CreateCollection(ctx, "first", testDims, ""))
	require.NoError(t, mem.CreateCollection(ctx, "second", testDims, ""))
	f := newFixture(t, mem, nil)
	require.Equal(t, "", f.store.Current())

	_, err := f.store.Search(ctx, "anything", "", 3)

	require.NoError(t, err)
	assert.Equal(t, "first", f.store.Current())
}

func TestSearch_NoCollections(t *testing.T) {
	f := newFixture(t, nil, nil)

	hits, err := f.store.Search(context.Background(), "q", "", 5)

	assert.Nil(t, hits)
	assert.True(t, errors.Is(err, vkberrors.ErrNoCollections))
}

func TestSearch_DegradesToEmpty(t *testing.T) {
	ctx := context.Background()

	t.Run("embedding failure", func(t *testing.T) {
		f := newFixture(t, nil, failingEmbedder{})
		require.NoError(t, f.store.CreateCollection(ctx, "docs", testDims))
		hits, err := f.store.Search(ctx, "q", "", 5)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("backend failure", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		require.NoError(t, f.store.CreateCollection(ctx, "docs", testDims))
		f.backend.FailSearch = errors.New("timeout")
		hits, err := f.store.Search(ctx, "q", "docs", 5)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}

func TestDocumentLabel(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    string
	}{
		{"record filename", map[string]any{"text": `{"filename":"a.pdf"}`, "filename": "b.pdf"}, "a.pdf"},
		{"plain text falls back", map[string]any{"text": "just words", "filename": "b.pdf"}, "b.pdf"},
		{"record without filename", map[string]any{"text": `{"content":"x"}`}, UnknownDocument},
		{"nothing", map[string]any{}, UnknownDocument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, documentLabel(tt.payload))
		})
	}
}

func TestCollectionInfo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	require.NoError(t, f.store.CreateCollection(ctx, "docs", testDims))

	info := f.store.CollectionInfo(ctx, "docs")
	assert.Equal(t, "docs", info.Name)
	assert.Equal(t, "green", info.Status)
	assert.NotEqual(t, "unknown", info.CreatedAt)

	// Missing collections degrade to the unknown record
	assert.Equal(t, CollectionInfo{Name: "nope", DocCount: 0, CreatedAt: "unknown", Status: "unknown"},
		f.store.CollectionInfo(ctx, "nope"))
}

func TestDeleteCollection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	require.NoError(t, f.store.CreateCollection(ctx, "docs", testDims))

	require.NoError(t, f.store.DeleteCollection(ctx, "docs"))

	assert.Equal(t, "", f.store.Current())
	_, ok := f.reg.Get("docs")
	assert.False(t, ok)

	// Backend errors propagate
	err := f.store.DeleteCollection(ctx, "docs")
	assert.True(t, errors.Is(err, vkberrors.ErrCollectionNotFound))
}

func TestSetCurrent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	require.NoError(t, f.store.CreateCollection(ctx, "a", testDims))
	require.NoError(t, f.store.CreateCollection(ctx, "b", testDims))

	require.NoError(t, f.store.SetCurrent("a"))
	assert.Equal(t, "a", f.store.Current())

	err := f.store.SetCurrent("zzz")
	assert.True(t, errors.Is(err, vkberrors.ErrCollectionNotFound))
}
