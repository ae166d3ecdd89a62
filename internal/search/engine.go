package search

import (
	"context"
	"log/slog"
	"time"

	"github.com/XuanZiK/V-knowledge/internal/logging"
	"github.com/XuanZiK/V-knowledge/internal/store"
)

// Searcher is the store-side search used by Engine.
type Searcher interface {
	Search(ctx context.Context, query, collection string, limit int) ([]store.Hit, error)
}

// Request is one retrieval query.
type Request struct {
	Query      string
	Collection string // "" selects the current collection
	Limit      int
	Rerank     bool
}

// Response carries hits and timing for the retrieval test view.
type Response struct {
	Hits         []store.Hit
	Reranked     bool
	SearchTime   time.Duration
	RerankTime   time.Duration
	TotalElapsed time.Duration
}

// Engine runs vector search and optional reranking.
type Engine struct {
	store    Searcher
	reranker *RerankProvider
	logger   *slog.Logger
}

// NewEngine creates an engine. reranker may be nil to disable reranking.
func NewEngine(s Searcher, reranker *RerankProvider, logger *slog.Logger) *Engine {
	return &Engine{store: s, reranker: reranker, logger: logging.OrDiscard(logger)}
}

// Search runs req. Errors are only those of the store (NoCollections).
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	hits, err := e.store.Search(ctx, req.Query, req.Collection, req.Limit)
	if err != nil {
		return nil, err
	}
	resp := &Response{Hits: hits, SearchTime: time.Since(start)}

	if req.Rerank && e.reranker != nil && len(hits) > 0 {
		rerankStart := time.Now()
		resp.Hits, resp.Reranked = e.rerank(ctx, req.Query, hits)
		resp.RerankTime = time.Since(rerankStart)
	}
	resp.TotalElapsed = time.Since(start)

	e.logger.Info("search_complete",
		slog.String("collection", req.Collection),
		slog.Int("results", len(resp.Hits)),
		slog.Bool("reranked", resp.Reranked),
		slog.Duration("elapsed", resp.TotalElapsed))
	return resp, nil
}

// rerank reorders hits by the reranker, carrying labels over by text.
func (e *Engine) rerank(ctx context.Context, query string, hits []store.Hit) ([]store.Hit, bool) {
	docs := make([]string, len(hits))
	priors := make([]float64, len(hits))
	byText := make(map[string][]string, len(hits))
	for i, h := range hits {
		docs[i] = h.Text
		priors[i] = float64(h.Score)
		byText[h.Text] = append(byText[h.Text], h.Document)
	}

	scored, reranked := e.reranker.TryRerank(ctx, query, docs, priors)
	out := make([]store.Hit, 0, len(scored))
	for _, s := range scored {
		label := store.UnknownDocument
		if labels := byText[s.Text]; len(labels) > 0 {
			label = labels[0]
			byText[s.Text] = labels[1:]
		}
		out = append(out, store.Hit{Score: float32(s.Score), Document: label, Text: s.Text})
	}
	return out, reranked
}

// Store exposes the underlying searcher.
func (e *Engine) Store() Searcher { return e.store }
