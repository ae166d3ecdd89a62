package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
	"github.com/XuanZiK/V-knowledge/internal/logging"
	"github.com/XuanZiK/V-knowledge/internal/search"
	"github.com/XuanZiK/V-knowledge/internal/store"
	"github.com/XuanZiK/V-knowledge/pkg/version"
)

const (
	defaultLimit = 5
	maxLimit     = 50
)

// Searcher runs retrieval queries. *search.Engine implements it.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
}

// Collections exposes collection metadata. *store.VectorStore implements it.
type Collections interface {
	ListCollections(ctx context.Context) ([]string, error)
	CollectionInfo(ctx context.Context, name string) store.CollectionInfo
	Current() string
}

// ToolInfo names a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        "search",
		Description: "Semantic search over an ingested document collection. Returns the most similar chunks with their source document and score. Set rerank to reorder results with the active rerank model.",
	},
	{
		Name:        "list_collections",
		Description: "List knowledge base collections with document counts and creation times.",
	},
	{
		Name:        "collection_info",
		Description: "Show document count, creation time and backend status for one collection.",
	},
}

// Server is the MCP server.
type Server struct {
	mcp         *mcp.Server
	searcher    Searcher
	collections Collections
	logger      *slog.Logger
}

// NewServer creates a server and registers its tools.
func NewServer(searcher Searcher, collections Collections, logger *slog.Logger) (*Server, error) {
	if searcher == nil {
		return nil, errors.New("searcher is required")
	}
	if collections == nil {
		return nil, errors.New("collections are required")
	}

	s := &Server{
		searcher:    searcher,
		collections: collections,
		logger:      logging.OrDiscard(logger),
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: version.Name, Version: version.Version}, nil)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server { return s.mcp }

// ListTools returns the registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(tools))
	copy(out, tools)
	return out
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[0].Name, Description: tools[0].Description}, s.mcpSearchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[1].Name, Description: tools[1].Description}, s.mcpListCollectionsHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[2].Name, Description: tools[2].Description}, s.mcpCollectionInfoHandler)
	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(tools)))
}

// CallTool invokes a tool with JSON-style arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "search":
		var in SearchInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.search(ctx, in)
	case "list_collections":
		return s.listCollections(ctx)
	case "collection_info":
		var in CollectionInfoInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.collectionInfo(ctx, in)
	default:
		return nil, &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Tool '%s' not found.", name)}
	}
}

func decodeArgs(args map[string]any, v any) error {
	if args == nil {
		return nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return NewInvalidParamsError(err.Error())
	}
	return nil
}

func (s *Server) search(ctx context.Context, in SearchInput) (SearchOutput, error) {
	if strings.TrimSpace(in.Query) == "" {
		return SearchOutput{}, NewInvalidParamsError("query is required and cannot be whitespace only")
	}
	limit := clampLimit(in.Limit)
	requestID := generateRequestID()
	start := time.Now()

	resp, err := s.searcher.Search(ctx, search.Request{
		Query:      in.Query,
		Collection: in.Collection,
		Limit:      limit,
		Rerank:     in.Rerank,
	})
	if err != nil {
		s.logger.Warn("mcp_search_failed",
			slog.String("request_id", requestID),
			vkberrors.LogAttr(err))
		return SearchOutput{}, MapError(err)
	}

	out := SearchOutput{Results: make([]SearchResultOutput, 0, len(resp.Hits)), Reranked: resp.Reranked}
	for _, h := range resp.Hits {
		out.Results = append(out.Results, SearchResultOutput{Document: h.Document, Content: h.Text, Score: float64(h.Score)})
	}

	s.logger.Info("mcp_search_complete",
		slog.String("request_id", requestID),
		slog.Int("limit", limit),
		slog.Int("result_count", len(out.Results)),
		slog.Duration("duration", time.Since(start)))
	return out, nil
}

func (s *Server) listCollections(ctx context.Context) (ListCollectionsOutput, error) {
	names, err := s.collections.ListCollections(ctx)
	if err != nil {
		return ListCollectionsOutput{}, MapError(err)
	}
	out := ListCollectionsOutput{Current: s.collections.Current(), Collections: make([]CollectionInfo, 0, len(names))}
	for _, name := range names {
		out.Collections = append(out.Collections, toInfo(s.collections.CollectionInfo(ctx, name)))
	}
	return out, nil
}

func (s *Server) collectionInfo(ctx context.Context, in CollectionInfoInput) (CollectionInfo, error) {
	if strings.TrimSpace(in.Name) == "" {
		return CollectionInfo{}, NewInvalidParamsError("name is required")
	}
	return toInfo(s.collections.CollectionInfo(ctx, in.Name)), nil
}

func toInfo(c store.CollectionInfo) CollectionInfo {
	return CollectionInfo{Name: c.Name, DocCount: c.DocCount, CreatedAt: c.CreatedAt, Status: c.Status}
}

func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	out, err := s.search(ctx, in)
	return nil, out, err
}

func (s *Server) mcpListCollectionsHandler(ctx context.Context, _ *mcp.CallToolRequest, _ ListCollectionsInput) (*mcp.CallToolResult, ListCollectionsOutput, error) {
	out, err := s.listCollections(ctx)
	return nil, out, err
}

func (s *Server) mcpCollectionInfoHandler(ctx context.Context, _ *mcp.CallToolRequest, in CollectionInfoInput) (*mcp.CallToolResult, CollectionInfo, error) {
	out, err := s.collectionInfo(ctx, in)
	return nil, out, err
}

// Serve runs the server on stdio until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp_server_started", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultLimit
	case limit > maxLimit:
		return maxLimit
	default:
		return limit
	}
}

// generateRequestID creates a short ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
