package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
)

// fakeOllama serves /api/tags and a streaming /api/pull.
func fakeOllama(t *testing.T, models []string, pullLines []string) (*httptest.Server, *int) {
	t.Helper()
	pulls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, _ *http.Request) {
		var body struct {
			Models []map[string]string `json:"models"`
		}
		for _, m := range models {
			body.Models = append(body.Models, map[string]string{"name": m})
		}
		_ = json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("/api/pull", func(w http.ResponseWriter, r *http.Request) {
		pulls++
		var req struct {
			Name   string `json:"name"`
			Stream bool   `json:"stream"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		for _, line := range pullLines {
			_, _ = fmt.Fprintln(w, line)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &pulls
}

func TestContainsModel(t *testing.T) {
	models := []string{"all-minilm:latest", "nomic-embed-text:v1.5"}
	tests := []struct {
		model string
		want  bool
	}{
		{"all-minilm", true},
		{"all-minilm:latest", true},
		{"ALL-MINILM", true},
		{"nomic-embed-text", true},
		{"nomic-embed-text:v1.5", true},
		{"nomic-embed-text:v2", false},
		{"bge-m3", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, containsModel(models, tt.model), tt.model)
	}
	assert.True(t, containsModel([]string{"bge-m3"}, "bge-m3:latest"))
}

func TestListAndHasModel(t *testing.T) {
	srv, _ := fakeOllama(t, []string{"all-minilm:latest"}, nil)
	m := NewOllamaManager(srv.URL+"/", nil)

	assert.Equal(t, srv.URL, m.Host())
	assert.True(t, m.IsRunning(context.Background()))

	models, err := m.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"all-minilm:latest"}, models)

	has, err := m.HasModel(context.Background(), "all-minilm")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestPullModel(t *testing.T) {
	t.Run("pulls a missing model with progress", func(t *testing.T) {
		srv, pulls := fakeOllama(t, nil, []string{
			`{"status":"pulling manifest"}`,
			`not json`,
			`{"status":"downloading","digest":"sha256:ab","total":200,"completed":50}`,
			`{"status":"success"}`,
		})
		m := NewOllamaManager(srv.URL, nil)

		var progress []PullProgress
		pulled, err := m.PullModel(context.Background(), "bge-m3", func(p PullProgress) {
			progress = append(progress, p)
		})

		require.NoError(t, err)
		assert.True(t, pulled)
		assert.Equal(t, 1, *pulls)
		require.Len(t, progress, 3)
		assert.InDelta(t, 25.0, progress[1].Percent, 1e-9)
		assert.Equal(t, "success", progress[2].Status)
	})

	t.Run("skips a model already present", func(t *testing.T) {
		srv, pulls := fakeOllama(t, []string{"bge-m3:latest"}, nil)

		pulled, err := NewOllamaManager(srv.URL, nil).PullModel(context.Background(), "bge-m3", nil)

		require.NoError(t, err)
		assert.False(t, pulled)
		assert.Zero(t, *pulls)
	})

	t.Run("stream error", func(t *testing.T) {
		srv, _ := fakeOllama(t, nil, []string{`{"error":"pull model manifest: file does not exist"}`})

		_, err := NewOllamaManager(srv.URL, nil).PullModel(context.Background(), "nope", nil)

		assert.ErrorIs(t, err, vkberrors.ErrModelNotFound)
		assert.ErrorContains(t, err, "file does not exist")
	})
}

func TestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	m := NewOllamaManager(url, nil)

	assert.False(t, m.IsRunning(context.Background()))
	_, err := m.ListModels(context.Background())
	assert.Equal(t, vkberrors.ErrCodeModelUnavailable, vkberrors.GetCode(err))
}
