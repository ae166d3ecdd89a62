package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
)

// DefaultOllamaHost is used when no host is configured.
const DefaultOllamaHost = "http://localhost:11434"

// OllamaConfig configures an OllamaEmbedder.
type OllamaConfig struct {
	Host       string
	Model      string
	Dimensions int // Expected vector length; 0 accepts whatever the server returns
	BatchSize  int
	Timeout    time.Duration
	Retry      vkberrors.RetryConfig
}

// OllamaEmbedder generates embeddings through Ollama's /api/embed endpoint.
type OllamaEmbedder struct {
	client *http.Client
	cfg    OllamaConfig
}

var _ Embedder = (*OllamaEmbedder)(nil)

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// NewOllamaEmbedder creates an embedder for cfg.Model. No request is made
// until the first Embed call.
func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = vkberrors.RetryConfig{
			MaxRetries:   2,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     4 * time.Second,
			Multiplier:   2,
		}
	}
	return &OllamaEmbedder{
		client: &http.Client{Transport: &http.Transport{IdleConnTimeout: 10 * time.Second}},
		cfg:    cfg,
	}
}

// Embed generates embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends texts in batches of cfg.BatchSize.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(texts))
		batch := texts[start:end]

		vecs, err := vkberrors.RetryWithResult(ctx, e.cfg.Retry, func() ([][]float32, error) {
			return e.embed(ctx, batch)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *OllamaEmbedder) embed(ctx context.Context, batch []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.cfg.Model, Input: batch})
	if err != nil {
		return nil, vkberrors.InternalError("marshal ollama request", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.cfg.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, vkberrors.InternalError("build ollama request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, vkberrors.New(vkberrors.ErrCodeModelUnavailable, "ollama request failed", err).
			WithSuggestion("start ollama or change the active embedding model")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, vkberrors.New(vkberrors.ErrCodeModelUnavailable, "read ollama response", err)
	}

	var parsed ollamaEmbedResponse
	_ = json.Unmarshal(data, &parsed)

	if resp.StatusCode != http.StatusOK {
		msg := parsed.Error
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		code := vkberrors.ErrCodeModelUnavailable
		switch {
		case resp.StatusCode == http.StatusNotFound:
			code = vkberrors.ErrCodeModelNotFound
		case resp.StatusCode < 500:
			code = vkberrors.ErrCodeInvalidInput
		}
		return nil, vkberrors.New(code, fmt.Sprintf("ollama returned %d: %s", resp.StatusCode, msg), nil).
			WithDetail("model", e.cfg.Model)
	}

	if len(parsed.Embeddings) != len(batch) {
		return nil, vkberrors.New(vkberrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("ollama returned %d embeddings, expected %d", len(parsed.Embeddings), len(batch)), nil)
	}
	for _, v := range parsed.Embeddings {
		if e.cfg.Dimensions > 0 && len(v) != e.cfg.Dimensions {
			return nil, vkberrors.New(vkberrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("model %s produced %d dimensions, registry declares %d", e.cfg.Model, len(v), e.cfg.Dimensions), nil)
		}
	}
	return parsed.Embeddings, nil
}

// Available pings the Ollama server.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Dimensions returns the declared embedding dimension.
func (e *OllamaEmbedder) Dimensions() int { return e.cfg.Dimensions }

// ModelName returns the Ollama model name.
func (e *OllamaEmbedder) ModelName() string { return "ollama/" + e.cfg.Model }

// Close releases idle connections.
func (e *OllamaEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
