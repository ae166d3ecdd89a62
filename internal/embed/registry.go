package embed

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/XuanZiK/V-knowledge/internal/config"
	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
	"github.com/XuanZiK/V-knowledge/internal/logging"
)

// Default registry entry, written when no registry file exists.
const (
	DefaultModelName    = "all-MiniLM-L6-v2"
	DefaultModelLocator = "ollama://all-minilm"
)

// ModelEntry is one embedding or rerank model known to the registry.
// Dimension is only meaningful for embedding models.
type ModelEntry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Dimension   int    `json:"dimension,omitempty"`
	Description string `json:"description"`
}

// registryFile is the on-disk layout of models_config.json.
type registryFile struct {
	EmbeddingModels      map[string]ModelEntry `json:"embedding_models"`
	RerankModels         map[string]ModelEntry `json:"rerank_models"`
	ActiveEmbeddingModel *string               `json:"active_embedding_model"`
	ActiveRerankModel    *string               `json:"active_rerank_model"`
}

// ModelRegistry is the persisted catalogue of models and the process-wide
// active selection. It is safe for concurrent use.
type ModelRegistry struct {
	path   string
	logger *slog.Logger

	mu   sync.RWMutex
	data registryFile
}

// LoadModelRegistry reads the registry at path. A missing file is replaced
// by the default registry, which is written back.
func LoadModelRegistry(path string, logger *slog.Logger) (*ModelRegistry, error) {
	r := &ModelRegistry{path: path, logger: logging.OrDiscard(logger)}
	if err := r.Load(); err != nil {
		return nil, err
	}
	return r, nil
}

// Load (re)reads the registry file.
func (r *ModelRegistry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	raw, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		r.data = defaultRegistry()
		r.logger.Info("model_registry_created", slog.String("path", r.path))
		return r.saveLocked()
	}
	if err != nil {
		return vkberrors.New(vkberrors.ErrCodeConfigNotFound, "read model registry", err).
			WithDetail("path", r.path)
	}

	var data registryFile
	if err := json.Unmarshal(raw, &data); err != nil {
		return vkberrors.ConfigError(fmt.Sprintf("parse model registry %s", r.path), err)
	}
	if data.EmbeddingModels == nil {
		data.EmbeddingModels = map[string]ModelEntry{}
	}
	if data.RerankModels == nil {
		data.RerankModels = map[string]ModelEntry{}
	}
	r.data = data
	return nil
}

func defaultRegistry() registryFile {
	active := DefaultModelName
	return registryFile{
		EmbeddingModels: map[string]ModelEntry{
			DefaultModelName: {
				Name:        DefaultModelName,
				Path:        DefaultModelLocator,
				Dimension:   DefaultDimensions,
				Description: "General text embedding model, fast and lightweight",
			},
		},
		RerankModels:         map[string]ModelEntry{},
		ActiveEmbeddingModel: &active,
	}
}

// Save writes the registry file.
func (r *ModelRegistry) Save() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.saveLocked()
}

func (r *ModelRegistry) saveLocked() error {
	data, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return vkberrors.InternalError("marshal model registry", err)
	}
	if err := config.WriteFileAtomic(r.path, append(data, '\n'), 0o644); err != nil {
		return vkberrors.New(vkberrors.ErrCodeFilePermission, "write model registry", err)
	}
	return nil
}

// AddEmbeddingModel registers or replaces an embedding model.
func (r *ModelRegistry) AddEmbeddingModel(name, path string, dimension int, description string) error {
	if name == "" || path == "" {
		return vkberrors.ValidationError("model name and path are required", nil)
	}
	if dimension <= 0 {
		return vkberrors.ValidationError(fmt.Sprintf("dimension must be positive, got %d", dimension), nil)
	}
	if _, err := ParseLocator(path); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.EmbeddingModels[name] = ModelEntry{Name: name, Path: path, Dimension: dimension, Description: description}
	return r.saveLocked()
}

// AddRerankModel registers or replaces a rerank model. path is the base URL
// of a rerank server.
func (r *ModelRegistry) AddRerankModel(name, path, description string) error {
	if name == "" || path == "" {
		return vkberrors.ValidationError("model name and path are required", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.RerankModels[name] = ModelEntry{Name: name, Path: path, Description: description}
	return r.saveLocked()
}

// SetActive selects the active models. Empty or unknown names leave the
// corresponding selection unchanged; the registry is saved either way.
func (r *ModelRegistry) SetActive(embedding, rerank string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data.EmbeddingModels[embedding]; ok && embedding != "" {
		r.data.ActiveEmbeddingModel = &embedding
	} else if embedding != "" {
		r.logger.Warn("unknown_embedding_model", slog.String("model", embedding))
	}
	if _, ok := r.data.RerankModels[rerank]; ok && rerank != "" {
		r.data.ActiveRerankModel = &rerank
	} else if rerank != "" {
		r.logger.Warn("unknown_rerank_model", slog.String("model", rerank))
	}
	return r.saveLocked()
}

// ClearActiveRerank disables reranking.
func (r *ModelRegistry) ClearActiveRerank() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.ActiveRerankModel = nil
	return r.saveLocked()
}

// ActiveEmbedding returns the active embedding entry.
func (r *ModelRegistry) ActiveEmbedding() (ModelEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.data.ActiveEmbeddingModel == nil || *r.data.ActiveEmbeddingModel == "" {
		return ModelEntry{}, vkberrors.NoActiveModelError()
	}
	name := *r.data.ActiveEmbeddingModel
	entry, ok := r.data.EmbeddingModels[name]
	if !ok {
		return ModelEntry{}, vkberrors.ModelNotFoundError(name)
	}
	if entry.Name == "" {
		entry.Name = name
	}
	return entry, nil
}

// ActiveRerank returns the active rerank entry, if one is selected and known.
func (r *ModelRegistry) ActiveRerank() (ModelEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.data.ActiveRerankModel == nil {
		return ModelEntry{}, false
	}
	entry, ok := r.data.RerankModels[*r.data.ActiveRerankModel]
	if ok && entry.Name == "" {
		entry.Name = *r.data.ActiveRerankModel
	}
	return entry, ok
}

// ActiveNames returns the active model names ("" when unset).
func (r *ModelRegistry) ActiveNames() (embedding, rerank string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.data.ActiveEmbeddingModel != nil {
		embedding = *r.data.ActiveEmbeddingModel
	}
	if r.data.ActiveRerankModel != nil {
		rerank = *r.data.ActiveRerankModel
	}
	return embedding, rerank
}

// EmbeddingModels returns all embedding entries sorted by name.
func (r *ModelRegistry) EmbeddingModels() []ModelEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedEntries(r.data.EmbeddingModels)
}

// RerankModels returns all rerank entries sorted by name.
func (r *ModelRegistry) RerankModels() []ModelEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedEntries(r.data.RerankModels)
}

// Path returns the registry file path.
func (r *ModelRegistry) Path() string { return r.path }

func sortedEntries(m map[string]ModelEntry) []ModelEntry {
	out := make([]ModelEntry, 0, len(m))
	for name, e := range m {
		if e.Name == "" {
			e.Name = name
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
