package embed

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
)

const openAIMaxBatch = 100

// OpenAIConfig configures an OpenAIEmbedder. BaseURL points the client at
// any OpenAI-compatible embeddings server.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

// OpenAIEmbedder generates embeddings with the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	cfg    OpenAIConfig
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder for cfg.Model.
func NewOpenAIEmbedder(cfg OpenAIConfig) *OpenAIEmbedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
	}
}

// Embed generates embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts, up to openAIMaxBatch per API call.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += openAIMaxBatch {
		batch := texts[i:min(i+openAIMaxBatch, len(texts))]

		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: batch,
			Model: openai.EmbeddingModel(e.cfg.Model),
		})
		if err != nil {
			return nil, vkberrors.New(vkberrors.ErrCodeModelUnavailable, "openai embedding request failed", err).
				WithDetail("model", e.cfg.Model)
		}
		if len(resp.Data) != len(batch) {
			return nil, vkberrors.New(vkberrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("openai returned %d embeddings, expected %d", len(resp.Data), len(batch)), nil)
		}

		vecs := make([][]float32, len(batch))
		for _, emb := range resp.Data {
			if emb.Index < 0 || emb.Index >= len(batch) {
				return nil, vkberrors.New(vkberrors.ErrCodeEmbeddingFailed,
					fmt.Sprintf("openai returned out-of-range index %d", emb.Index), nil)
			}
			if e.cfg.Dimensions > 0 && len(emb.Embedding) != e.cfg.Dimensions {
				return nil, vkberrors.New(vkberrors.ErrCodeDimensionMismatch,
					fmt.Sprintf("model %s produced %d dimensions, registry declares %d", e.cfg.Model, len(emb.Embedding), e.cfg.Dimensions), nil)
			}
			vecs[emb.Index] = emb.Embedding
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// Dimensions returns the declared embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int { return e.cfg.Dimensions }

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string { return "openai/" + e.cfg.Model }

// Close is a no-op; the client holds no resources of its own.
func (e *OpenAIEmbedder) Close() error { return nil }
