package validation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
	"github.com/XuanZiK/V-knowledge/internal/search"
	"github.com/XuanZiK/V-knowledge/internal/store"
)

// fakeSearcher answers by query text.
type fakeSearcher struct {
	hits  map[string][]store.Hit
	err   error
	calls []search.Request
}

func (f *fakeSearcher) Search(_ context.Context, req search.Request) (*search.Response, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return &search.Response{Hits: f.hits[req.Query]}, nil
}

const queryFile = `
collection: manuals
limit: 3
rerank: true
queries:
  - id: reset
    query: reset the device
    expected: [Reset.PDF]
  - query: warranty length
    expected: [warranty]
negative:
  - query: cake recipe
    max_score: 0.5
`

func TestParseQueries(t *testing.T) {
	set, err := ParseQueries([]byte(queryFile))
	require.NoError(t, err)

	assert.Equal(t, "manuals", set.Collection)
	assert.Equal(t, 3, set.Limit)
	assert.True(t, set.Rerank)
	require.Len(t, set.Queries, 2)
	assert.Equal(t, "reset", set.Queries[0].ID)
	assert.Equal(t, "Q2", set.Queries[1].ID)
	assert.Equal(t, "N1", set.Negative[0].ID)
}

func TestParseQueries_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad yaml", "queries: [unclosed"},
		{"empty", "collection: kb\n"},
		{"no text", "queries:\n  - expected: [a]\n"},
		{"no expected", "queries:\n  - query: q\n"},
		{"negative without text", "negative:\n  - max_score: 0.2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseQueries([]byte(tt.data))
			assert.Equal(t, vkberrors.CategoryValidation, vkberrors.GetCategory(err))
		})
	}
}

func TestParseQueries_DefaultLimit(t *testing.T) {
	set, err := ParseQueries([]byte("negative:\n  - query: q\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, set.Limit)
}

func TestLoadQueries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.yaml")
	require.NoError(t, os.WriteFile(path, []byte(queryFile), 0o644))

	set, err := LoadQueries(path)
	require.NoError(t, err)
	assert.Len(t, set.Negative, 1)

	_, err = LoadQueries(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, vkberrors.ErrNotFound)
}

func TestRunAll(t *testing.T) {
	// Given: a searcher where the reset query finds its document at rank 2,
	// the warranty query misses, and the negative query scores high
	set, err := ParseQueries([]byte(queryFile))
	require.NoError(t, err)
	fs := &fakeSearcher{hits: map[string][]store.Hit{
		"reset the device": {
			{Score: 0.8, Document: "faq.txt"},
			{Score: 0.7, Document: "reset.pdf"},
		},
		"warranty length": {{Score: 0.6, Document: "faq.txt"}},
		"cake recipe":     {{Score: 0.9, Document: "faq.txt"}},
	}}

	// When: running the set
	res := NewValidator(fs).RunAll(context.Background(), set)

	// Then: only the reset query passes, ranked second
	require.Len(t, res.Queries, 2)
	assert.True(t, res.Queries[0].Passed)
	assert.Equal(t, 1, res.Queries[0].MatchedAt)
	assert.False(t, res.Queries[1].Passed)
	assert.Equal(t, -1, res.Queries[1].MatchedAt)
	require.Len(t, res.Negative, 1)
	assert.False(t, res.Negative[0].Passed)
	assert.InDelta(t, 0.9, res.Negative[0].TopScore, 1e-6)

	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 1, res.Passed)
	assert.Equal(t, 2, res.Failed())
	assert.InDelta(t, 0.25, res.MRR, 1e-9)

	// And: the set's collection, limit and rerank flag reach the searcher
	require.Len(t, fs.calls, 3)
	assert.Equal(t, search.Request{Query: "reset the device", Collection: "manuals", Limit: 3, Rerank: true}, fs.calls[0])
}

func TestRunQuery_Errors(t *testing.T) {
	set := &QuerySet{Limit: 5}
	v := NewValidator(&fakeSearcher{err: errors.New("backend down")})

	got := v.RunQuery(context.Background(), set, QuerySpec{ID: "Q1", Query: "q", Expected: []string{"a"}}, false)
	assert.False(t, got.Passed)
	assert.Equal(t, "backend down", got.Error)

	neg := v.RunQuery(context.Background(), set, QuerySpec{ID: "N1", Query: "q"}, true)
	assert.False(t, neg.Passed)
}

func TestRunQuery_NegativeWithoutThreshold(t *testing.T) {
	v := NewValidator(&fakeSearcher{hits: map[string][]store.Hit{"q": {{Score: 0.99, Document: "a"}}}})

	got := v.RunQuery(context.Background(), &QuerySet{Limit: 5}, QuerySpec{Query: "q"}, true)
	assert.True(t, got.Passed)
}

func TestRunAll_Cancelled(t *testing.T) {
	set, err := ParseQueries([]byte(queryFile))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := NewValidator(&fakeSearcher{}).RunAll(ctx, set)

	assert.Zero(t, res.Total)
	assert.Zero(t, res.MRR)
}
