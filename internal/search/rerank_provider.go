package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/XuanZiK/V-knowledge/internal/embed"
	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
	"github.com/XuanZiK/V-knowledge/internal/logging"
)

// Scored is a document with its relevance score.
type Scored struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// RerankerFactory builds a Reranker for a rerank registry entry.
type RerankerFactory func(entry embed.ModelEntry) (Reranker, error)

// DefaultRerankerFactory treats the entry path as an HTTP rerank server.
func DefaultRerankerFactory(logger *slog.Logger) RerankerFactory {
	return func(entry embed.ModelEntry) (Reranker, error) {
		cfg, err := ConfigFromLocator(entry.Path)
		if err != nil {
			return nil, err
		}
		cfg.Logger = logger
		return NewCrossEncoderReranker(cfg), nil
	}
}

// RerankProvider reranks with the registry's active rerank model. It never
// fails: without a usable model, documents come back in their original
// order paired with their prior scores.
type RerankProvider struct {
	registry *embed.ModelRegistry
	factory  RerankerFactory
	logger   *slog.Logger

	mu     sync.Mutex
	loaded Reranker
	entry  embed.ModelEntry
}

// NewRerankProvider creates a provider. factory may be nil.
func NewRerankProvider(registry *embed.ModelRegistry, factory RerankerFactory, logger *slog.Logger) *RerankProvider {
	logger = logging.OrDiscard(logger)
	if factory == nil {
		factory = DefaultRerankerFactory(logger)
	}
	return &RerankProvider{registry: registry, factory: factory, logger: logger}
}

// Active reports whether a rerank model is selected.
func (p *RerankProvider) Active() bool {
	_, ok := p.registry.ActiveRerank()
	return ok
}

func (p *RerankProvider) current() Reranker {
	entry, ok := p.registry.ActiveRerank()
	if !ok {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loaded != nil && p.entry == entry {
		return p.loaded
	}
	if p.loaded != nil {
		_ = p.loaded.Close()
		p.loaded = nil
	}

	r, err := p.factory(entry)
	if err != nil {
		p.logger.Error("rerank_model_load_failed", slog.String("model", entry.Name), vkberrors.LogAttr(err))
		return nil
	}
	p.loaded, p.entry = r, entry
	p.logger.Info("rerank_model_loaded", slog.String("model", entry.Name), slog.String("path", entry.Path))
	return r
}

// Rerank scores documents against query. priorScores may be nil or shorter
// than documents; missing priors count as 0.
func (p *RerankProvider) Rerank(ctx context.Context, query string, documents []string, priorScores []float64) []Scored {
	out, _ := p.TryRerank(ctx, query, documents, priorScores)
	return out
}

// TryRerank is Rerank that also reports whether a model scored the
// documents. It is false whenever the pass-through order was returned.
func (p *RerankProvider) TryRerank(ctx context.Context, query string, documents []string, priorScores []float64) ([]Scored, bool) {
	r := p.current()
	if r == nil || len(documents) == 0 {
		return passThrough(documents, priorScores), false
	}

	results, err := r.Rerank(ctx, query, documents, 0)
	if err == nil && !coversAll(results, len(documents)) {
		err = fmt.Errorf("reranker returned %d results that do not index %d documents", len(results), len(documents))
	}
	if err != nil {
		p.logger.Error("rerank_failed",
			slog.Int("doc_count", len(documents)),
			slog.Int("result_count", len(results)),
			vkberrors.LogAttr(err))
		return passThrough(documents, priorScores), false
	}

	out := make([]Scored, len(results))
	for i, res := range results {
		out[i] = Scored{Text: documents[res.Index], Score: res.Score}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, true
}

// coversAll reports whether results index each of n documents exactly once.
func coversAll(results []RerankResult, n int) bool {
	if len(results) != n {
		return false
	}
	seen := make([]bool, n)
	for _, res := range results {
		if res.Index < 0 || res.Index >= n || seen[res.Index] {
			return false
		}
		seen[res.Index] = true
	}
	return true
}

// Close releases the loaded reranker.
func (p *RerankProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded == nil {
		return nil
	}
	err := p.loaded.Close()
	p.loaded = nil
	return err
}

func passThrough(documents []string, prior []float64) []Scored {
	out := make([]Scored, len(documents))
	for i, doc := range documents {
		var score float64
		if i < len(prior) {
			score = prior[i]
		}
		out[i] = Scored{Text: doc, Score: score}
	}
	return out
}
