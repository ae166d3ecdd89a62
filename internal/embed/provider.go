package embed

import (
	"context"
	"log/slog"
	"sync"

	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
	"github.com/XuanZiK/V-knowledge/internal/logging"
)

// ProviderOptions configures a Provider.
type ProviderOptions struct {
	Factory   FactoryConfig
	CacheSize int // Query cache entries; negative disables the cache
	Logger    *slog.Logger

	// NewEmbedder overrides embedder construction, mainly for tests.
	NewEmbedder func(ModelEntry, FactoryConfig) (Embedder, error)
}

// Provider embeds text with the registry's active embedding model.
// The model is built on first use and rebuilt when the active selection
// changes. Provider implements Embedder.
type Provider struct {
	registry *ModelRegistry
	opts     ProviderOptions
	logger   *slog.Logger

	mu     sync.Mutex
	loaded Embedder
	entry  ModelEntry
}

var _ Embedder = (*Provider)(nil)

// NewProvider creates a provider backed by registry.
func NewProvider(registry *ModelRegistry, opts ProviderOptions) *Provider {
	if opts.NewEmbedder == nil {
		opts.NewEmbedder = NewEmbedder
	}
	return &Provider{
		registry: registry,
		opts:     opts,
		logger:   logging.OrDiscard(opts.Logger),
	}
}

// current returns the embedder for the active model, loading it if needed.
func (p *Provider) current() (Embedder, error) {
	entry, err := p.registry.ActiveEmbedding()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loaded != nil && p.entry == entry {
		return p.loaded, nil
	}
	if p.loaded != nil {
		_ = p.loaded.Close()
		p.loaded = nil
	}

	inner, err := p.opts.NewEmbedder(entry, p.opts.Factory)
	if err != nil {
		p.logger.Error("embedding_model_load_failed",
			slog.String("model", entry.Name), vkberrors.LogAttr(err))
		return nil, err
	}

	var e Embedder = inner
	if p.opts.CacheSize >= 0 {
		e = NewCachedEmbedder(inner, p.opts.CacheSize)
	}
	p.loaded, p.entry = e, entry
	p.logger.Info("embedding_model_loaded",
		slog.String("model", entry.Name), slog.String("path", entry.Path), slog.Int("dimension", entry.Dimension))
	return e, nil
}

// Embed embeds one text with the active model.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	e, err := p.current()
	if err != nil {
		return nil, err
	}
	return e.Embed(ctx, text)
}

// EmbedBatch embeds texts with the active model.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	e, err := p.current()
	if err != nil {
		return nil, err
	}
	return e.EmbedBatch(ctx, texts)
}

// Dimensions reports the active entry's declared dimension without loading
// the model, or 0 when no valid model is active.
func (p *Provider) Dimensions() int {
	entry, err := p.registry.ActiveEmbedding()
	if err != nil {
		return 0
	}
	return entry.Dimension
}

// ModelName returns the active entry's name, or "" when none is active.
func (p *Provider) ModelName() string {
	entry, err := p.registry.ActiveEmbedding()
	if err != nil {
		return ""
	}
	return entry.Name
}

// Registry returns the backing model registry.
func (p *Provider) Registry() *ModelRegistry { return p.registry }

// Close releases the loaded model. A later call loads it again.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded == nil {
		return nil
	}
	err := p.loaded.Close()
	p.loaded = nil
	return err
}

// Reload drops the loaded model so the next call rebuilds it from the
// registry's current selection.
func (p *Provider) Reload() {
	_ = p.Close()
}
