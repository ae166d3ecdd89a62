// Package lifecycle checks and prepares the Ollama server behind ollama://
// embedding models: whether it answers, which models it has, and pulling
// missing ones with progress.
package lifecycle

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
	"github.com/XuanZiK/V-knowledge/internal/logging"
)

const (
	// DefaultHost is the default Ollama API endpoint.
	DefaultHost = "http://localhost:11434"

	// healthTimeout bounds status and list requests. Pulls are bounded
	// only by their context.
	healthTimeout = 5 * time.Second
)

// OllamaManager talks to one Ollama server.
type OllamaManager struct {
	host       string
	client     *http.Client
	pullClient *http.Client
	logger     *slog.Logger
}

// PullProgress is one progress line of a model pull.
type PullProgress struct {
	Status    string
	Digest    string
	Total     int64
	Completed int64
	Percent   float64
}

// NewOllamaManager creates a manager for host ("" selects DefaultHost).
func NewOllamaManager(host string, logger *slog.Logger) *OllamaManager {
	if host == "" {
		host = DefaultHost
	}
	return &OllamaManager{
		host:       strings.TrimRight(host, "/"),
		client:     &http.Client{Timeout: healthTimeout},
		pullClient: &http.Client{},
		logger:     logging.OrDiscard(logger),
	}
}

// Host returns the configured Ollama host.
func (m *OllamaManager) Host() string {
	return m.host
}

// IsRunning reports whether the API answers. Connection failures are not
// errors; they mean not running.
func (m *OllamaManager) IsRunning(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// ListModels returns the models the server has.
func (m *OllamaManager) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, m.unavailable(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	models := make([]string, len(result.Models))
	for i, mod := range result.Models {
		models[i] = mod.Name
	}
	return models, nil
}

// HasModel reports whether model is present. A name without a tag matches
// any tag of that model.
func (m *OllamaManager) HasModel(ctx context.Context, model string) (bool, error) {
	models, err := m.ListModels(ctx)
	if err != nil {
		return false, err
	}
	return containsModel(models, model), nil
}

func containsModel(models []string, model string) bool {
	want := strings.ToLower(model)
	wantBase, wantTag, tagged := strings.Cut(want, ":")
	for _, available := range models {
		have := strings.ToLower(available)
		if have == want {
			return true
		}
		haveBase, haveTag, _ := strings.Cut(have, ":")
		if haveBase != wantBase {
			continue
		}
		if !tagged || (wantTag == "latest" && haveTag == "") {
			return true
		}
	}
	return false
}

// PullModel downloads model unless the server already has it. It returns
// true when a download happened.
func (m *OllamaManager) PullModel(ctx context.Context, model string, progressFunc func(PullProgress)) (bool, error) {
	has, err := m.HasModel(ctx, model)
	if err != nil {
		return false, err
	}
	if has {
		return false, nil
	}

	body, err := json.Marshal(struct {
		Name   string `json:"name"`
		Stream bool   `json:"stream"`
	}{Name: model, Stream: true})
	if err != nil {
		return false, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.host+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	m.logger.Info("ollama_pull_started", slog.String("model", model), slog.String("host", m.host))
	resp, err := m.pullClient.Do(req)
	if err != nil {
		return false, m.unavailable(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, vkberrors.New(vkberrors.ErrCodeModelNotFound,
			fmt.Sprintf("pull of %s failed with status %d: %s", model, resp.StatusCode, strings.TrimSpace(string(respBody))), nil)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var progress struct {
			Status    string `json:"status"`
			Digest    string `json:"digest"`
			Total     int64  `json:"total"`
			Completed int64  `json:"completed"`
			Error     string `json:"error"`
		}
		if err := json.Unmarshal(line, &progress); err != nil {
			continue
		}
		if progress.Error != "" {
			return false, vkberrors.New(vkberrors.ErrCodeModelNotFound,
				fmt.Sprintf("pull of %s failed: %s", model, progress.Error), nil)
		}
		if progressFunc != nil {
			p := PullProgress{
				Status:    progress.Status,
				Digest:    progress.Digest,
				Total:     progress.Total,
				Completed: progress.Completed,
			}
			if progress.Total > 0 {
				p.Percent = float64(progress.Completed) / float64(progress.Total) * 100
			}
			progressFunc(p)
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("error reading pull response: %w", err)
	}

	m.logger.Info("ollama_pull_complete", slog.String("model", model))
	return true, nil
}

func (m *OllamaManager) unavailable(err error) error {
	return vkberrors.New(vkberrors.ErrCodeModelUnavailable,
		fmt.Sprintf("cannot reach Ollama at %s", m.host), err).
		WithSuggestion("start it with: ollama serve")
}
