package mcp

import (
	"context"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
	"github.com/XuanZiK/V-knowledge/internal/search"
	"github.com/XuanZiK/V-knowledge/internal/store"
)

type fakeSearcher struct {
	last search.Request
	resp *search.Response
	err  error
}

func (f *fakeSearcher) Search(_ context.Context, req search.Request) (*search.Response, error) {
	f.last = req
	return f.resp, f.err
}

type fakeCollections struct {
	names   []string
	infos   map[string]store.CollectionInfo
	current string
	err     error
}

func (f *fakeCollections) ListCollections(context.Context) ([]string, error) { return f.names, f.err }

func (f *fakeCollections) CollectionInfo(_ context.Context, name string) store.CollectionInfo {
	if info, ok := f.infos[name]; ok {
		return info
	}
	return store.CollectionInfo{Name: name, CreatedAt: "unknown", Status: "unknown"}
}

func (f *fakeCollections) Current() string { return f.current }

func newTestServer(t *testing.T) (*Server, *fakeSearcher, *fakeCollections) {
	t.Helper()
	fs := &fakeSearcher{resp: &search.Response{Hits: []store.Hit{
		{Score: 0.9, Document: "guide.pdf", Text: "install steps"},
		{Score: 0.4, Document: "notes.txt", Text: "misc"},
	}}}
	fc := &fakeCollections{
		names:   []string{"manuals"},
		current: "manuals",
		infos: map[string]store.CollectionInfo{
			"manuals": {Name: "manuals", DocCount: 2, CreatedAt: "2024-05-01 10:00:00", Status: "green"},
		},
	}
	srv, err := NewServer(fs, fc, nil)
	require.NoError(t, err)
	return srv, fs, fc
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(nil, &fakeCollections{}, nil)
	assert.Error(t, err)
	_, err = NewServer(&fakeSearcher{}, nil, nil)
	assert.Error(t, err)
}

func TestServer_ListTools(t *testing.T) {
	srv, _, _ := newTestServer(t)
	names := make([]string, 0, 3)
	for _, tool := range srv.ListTools() {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"search", "list_collections", "collection_info"}, names)
}

func TestServer_Search(t *testing.T) {
	// Given: a server over a searcher with two hits
	srv, fs, _ := newTestServer(t)

	// When: calling search with JSON-style arguments
	res, err := srv.CallTool(context.Background(), "search", map[string]any{
		"query":      "how to install",
		"collection": "manuals",
		"limit":      float64(500),
		"rerank":     true,
	})

	// Then: the request is forwarded with a clamped limit and hits are mapped
	require.NoError(t, err)
	assert.Equal(t, search.Request{Query: "how to install", Collection: "manuals", Limit: maxLimit, Rerank: true}, fs.last)
	out := res.(SearchOutput)
	require.Len(t, out.Results, 2)
	assert.Equal(t, "guide.pdf", out.Results[0].Document)
	assert.Equal(t, "install steps", out.Results[0].Content)
	assert.InDelta(t, 0.9, out.Results[0].Score, 1e-6)
}

func TestServer_SearchErrors(t *testing.T) {
	srv, fs, _ := newTestServer(t)

	// Given/When: a whitespace query
	_, err := srv.CallTool(context.Background(), "search", map[string]any{"query": "  "})
	// Then: invalid params
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr))
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)

	// Given/When: a knowledge base with no collections
	fs.err = vkberrors.NoCollectionsError()
	_, err = srv.CallTool(context.Background(), "search", map[string]any{"query": "x"})
	// Then: the no-collections code
	require.True(t, errors.As(err, &mcpErr))
	assert.Equal(t, ErrCodeNoCollections, mcpErr.Code)

	// Given/When: an unknown tool
	_, err = srv.CallTool(context.Background(), "index_status", nil)
	// Then: method not found
	require.True(t, errors.As(err, &mcpErr))
	assert.Equal(t, ErrCodeMethodNotFound, mcpErr.Code)
}

func TestServer_Collections(t *testing.T) {
	// Given: one registered collection
	srv, _, _ := newTestServer(t)

	// When: listing and describing collections
	listed, err := srv.CallTool(context.Background(), "list_collections", nil)
	require.NoError(t, err)
	info, err := srv.CallTool(context.Background(), "collection_info", map[string]any{"name": "ghost"})
	require.NoError(t, err)

	// Then: registry data is returned and unknown names degrade to "unknown"
	list := listed.(ListCollectionsOutput)
	assert.Equal(t, "manuals", list.Current)
	require.Len(t, list.Collections, 1)
	assert.Equal(t, 2, list.Collections[0].DocCount)
	assert.Equal(t, CollectionInfo{Name: "ghost", CreatedAt: "unknown", Status: "unknown"}, info)
}

func TestServer_OverTransport(t *testing.T) {
	// Given: a client connected to the server in memory
	srv, _, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clientT, serverT := mcp.NewInMemoryTransports()
	_, err := srv.MCPServer().Connect(ctx, serverT, nil)
	require.NoError(t, err)
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0"}, nil)
	session, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	// When: the client calls search
	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "search",
		Arguments: map[string]any{"query": "install"},
	})

	// Then: the call succeeds with content
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.NotEmpty(t, res.Content)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"backend down", vkberrors.BackendUnavailableError("down", nil), ErrCodeBackendUnavailable},
		{"missing collection", vkberrors.CollectionNotFoundError("kb"), ErrCodeNotFound},
		{"validation", vkberrors.ValidationError("bad", nil), ErrCodeInvalidParams},
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout},
		{"plain", errors.New("boom"), ErrCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MapError(tt.err).Code)
		})
	}
	assert.Nil(t, MapError(nil))
}
