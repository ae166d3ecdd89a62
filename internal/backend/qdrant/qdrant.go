// Package qdrant is the server-mode backend: a minimal REST client for a
// Qdrant instance.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/XuanZiK/V-knowledge/internal/backend"
	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
	"github.com/XuanZiK/V-knowledge/internal/logging"
)

// DefaultTimeout bounds each request.
const DefaultTimeout = 10 * time.Second

// Config addresses a Qdrant server.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	Logger  *slog.Logger

	// Retry governs the connectivity probe made by New.
	Retry *vkberrors.RetryConfig
}

// Client talks to Qdrant over REST.
type Client struct {
	url    string
	apiKey string
	client *http.Client
	logger *slog.Logger
}

var _ backend.Backend = (*Client)(nil)

// New creates a client and probes the server. An unreachable server is
// reported as BackendUnavailable.
func New(ctx context.Context, cfg Config) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		url:    strings.TrimRight(cfg.URL, "/"),
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: timeout},
		logger: logging.OrDiscard(cfg.Logger),
	}

	retry := vkberrors.RetryConfig{
		MaxRetries:   2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
	}
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}

	err := vkberrors.Retry(ctx, retry, func() error {
		_, err := c.ListCollections(ctx)
		return err
	})
	if err != nil {
		return nil, vkberrors.BackendUnavailableError(fmt.Sprintf("cannot connect to qdrant at %s", c.url), err)
	}
	return c, nil
}

// apiError is a non-2xx response.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("qdrant returned status %d: %s", e.status, e.body)
}

func (c *Client) collectionURL(name string, suffix string) string {
	return c.url + "/collections/" + url.PathEscape(name) + suffix
}

// do sends a JSON request and decodes the "result" envelope into out.
func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return vkberrors.BackendUnavailableError(fmt.Sprintf("qdrant %s %s failed", method, endpoint), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &apiError{status: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}

	envelope := struct {
		Result json.RawMessage `json:"result"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode qdrant response: %w", err)
	}
	if len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("failed to decode qdrant result: %w", err)
	}
	return nil
}

// mapCollectionErr turns a 404 into CollectionNotFound.
func mapCollectionErr(name string, err error) error {
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.status == http.StatusNotFound {
		return vkberrors.CollectionNotFoundError(name)
	}
	return err
}

// ListCollections returns the server's collection names.
func (c *Client) ListCollections(ctx context.Context) ([]string, error) {
	var result struct {
		Collections []struct {
			Name string `json:"name"`
		} `json:"collections"`
	}
	if err := c.do(ctx, http.MethodGet, c.url+"/collections", nil, &result); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(result.Collections))
	for _, col := range result.Collections {
		names = append(names, col.Name)
	}
	return names, nil
}

// CreateCollection creates a collection; Qdrant's 409 maps to AlreadyExists.
func (c *Client) CreateCollection(ctx context.Context, name string, vectorSize int, distance backend.Distance) error {
	if distance == "" {
		distance = backend.Cosine
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": string(distance),
		},
	}
	err := c.do(ctx, http.MethodPut, c.collectionURL(name, ""), body, nil)
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.status == http.StatusConflict {
		return vkberrors.AlreadyExistsError(name)
	}
	return err
}

// GetCollection reads status, point count and vector parameters.
func (c *Client) GetCollection(ctx context.Context, name string) (*backend.CollectionInfo, error) {
	var result struct {
		Status      string `json:"status"`
		PointsCount *int   `json:"points_count"`
		Config      struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	if err := c.do(ctx, http.MethodGet, c.collectionURL(name, ""), nil, &result); err != nil {
		return nil, mapCollectionErr(name, err)
	}

	info := &backend.CollectionInfo{
		Status:     result.Status,
		VectorSize: result.Config.Params.Vectors.Size,
		Distance:   backend.Distance(result.Config.Params.Vectors.Distance),
	}
	if result.PointsCount != nil {
		info.PointsCount = *result.PointsCount
	}
	return info, nil
}

// DeleteCollection drops a collection.
func (c *Client) DeleteCollection(ctx context.Context, name string) error {
	var deleted bool
	if err := c.do(ctx, http.MethodDelete, c.collectionURL(name, ""), nil, &deleted); err != nil {
		return mapCollectionErr(name, err)
	}
	if !deleted {
		return vkberrors.CollectionNotFoundError(name)
	}
	return nil
}

type restPoint struct {
	ID      uint64         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// Upsert writes points and waits for them to be indexed.
func (c *Client) Upsert(ctx context.Context, name string, points []backend.Point) error {
	if len(points) == 0 {
		return nil
	}
	body := struct {
		Points []restPoint `json:"points"`
	}{Points: make([]restPoint, len(points))}
	for i, p := range points {
		body.Points[i] = restPoint{ID: p.ID, Vector: p.Vector, Payload: p.Payload}
	}

	start := time.Now()
	if err := c.do(ctx, http.MethodPut, c.collectionURL(name, "/points?wait=true"), body, nil); err != nil {
		return mapCollectionErr(name, err)
	}
	c.logger.Debug("qdrant_upsert",
		slog.String("collection", name),
		slog.Int("points", len(points)),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// Search runs a vector search with payloads.
func (c *Client) Search(ctx context.Context, name string, vector []float32, limit int) ([]backend.ScoredPoint, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	var result []struct {
		ID      uint64         `json:"id"`
		Score   float32        `json:"score"`
		Payload map[string]any `json:"payload"`
	}
	if err := c.do(ctx, http.MethodPost, c.collectionURL(name, "/points/search"), body, &result); err != nil {
		return nil, mapCollectionErr(name, err)
	}

	hits := make([]backend.ScoredPoint, 0, len(result))
	for _, r := range result {
		hits = append(hits, backend.ScoredPoint{ID: r.ID, Score: r.Score, Payload: r.Payload})
	}
	return hits, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
