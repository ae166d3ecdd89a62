package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/XuanZiK/V-knowledge/internal/logging"
)

// DefaultRerankerTimeout bounds one rerank request.
const DefaultRerankerTimeout = 30 * time.Second

// CrossEncoderConfig configures a CrossEncoderReranker.
type CrossEncoderConfig struct {
	// Endpoint is the rerank server base URL; /rerank and /health are appended.
	Endpoint string

	// Model is sent as the model field; servers hosting one model ignore it.
	Model string

	Timeout time.Duration
	Logger  *slog.Logger
}

// ConfigFromLocator builds a config from a rerank registry path of the form
// http://host:port[/prefix][#model].
func ConfigFromLocator(path string) (CrossEncoderConfig, error) {
	u, err := url.Parse(path)
	if err != nil {
		return CrossEncoderConfig{}, fmt.Errorf("invalid rerank model path %q: %w", path, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return CrossEncoderConfig{}, fmt.Errorf("rerank model path %q must be an http(s) URL", path)
	}
	model := u.Fragment
	u.Fragment = ""
	return CrossEncoderConfig{Endpoint: strings.TrimRight(u.String(), "/"), Model: model}, nil
}

// CrossEncoderReranker calls a cross-encoder rerank server over HTTP.
type CrossEncoderReranker struct {
	client *http.Client
	config CrossEncoderConfig
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

var _ Reranker = (*CrossEncoderReranker)(nil)

// NewCrossEncoderReranker creates a client. No request is made until Rerank.
func NewCrossEncoderReranker(cfg CrossEncoderConfig) *CrossEncoderReranker {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultRerankerTimeout
	}
	return &CrossEncoderReranker{
		client: &http.Client{Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     30 * time.Second,
		}},
		config: cfg,
		logger: logging.OrDiscard(cfg.Logger),
	}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
	TopK      int      `json:"top_k,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index    int     `json:"index"`
		Score    float64 `json:"score"`
		Document string  `json:"document"`
	} `json:"results"`
}

// Rerank posts the documents to {endpoint}/rerank.
func (r *CrossEncoderReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("reranker is closed")
	}
	if len(documents) == 0 {
		return []RerankResult{}, nil
	}

	body, err := json.Marshal(rerankRequest{Query: query, Documents: documents, Model: r.config.Model, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, r.config.Endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("rerank failed (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	results := make([]RerankResult, 0, len(parsed.Results))
	for _, res := range parsed.Results {
		if res.Index < 0 || res.Index >= len(documents) {
			return nil, fmt.Errorf("rerank response index %d out of range", res.Index)
		}
		doc := res.Document
		if doc == "" {
			doc = documents[res.Index]
		}
		results = append(results, RerankResult{Index: res.Index, Score: res.Score, Document: doc})
	}

	r.logger.Debug("rerank_cross_encoder",
		slog.Int("doc_count", len(documents)),
		slog.Int("result_count", len(results)),
		slog.Duration("elapsed", time.Since(start)))
	return results, nil
}

// Available checks {endpoint}/health.
func (r *CrossEncoderReranker) Available(ctx context.Context) bool {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.config.Endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases idle connections.
func (r *CrossEncoderReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.client.CloseIdleConnections()
	return nil
}
