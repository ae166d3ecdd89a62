// Package store orchestrates collections over a vector backend: it embeds
// chunks, assigns point IDs, keeps the collection registry in step with the
// backend and shapes search results.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/XuanZiK/V-knowledge/internal/backend"
	"github.com/XuanZiK/V-knowledge/internal/embed"
	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
	"github.com/XuanZiK/V-knowledge/internal/logging"
	"github.com/XuanZiK/V-knowledge/internal/registry"
)

const (
	// DefaultVectorSize is used when CreateCollection gets no size.
	DefaultVectorSize = 384

	// DefaultSearchLimit is used when Search gets no limit.
	DefaultSearchLimit = 5

	unknown = "unknown"
)

// Options wires a VectorStore.
type Options struct {
	Backend  backend.Backend
	Registry *registry.Registry
	Embedder embed.Embedder
	Logger   *slog.Logger
}

// CollectionInfo is the registry view of a collection plus backend status.
type CollectionInfo struct {
	Name      string `json:"name"`
	DocCount  int    `json:"doc_count"`
	CreatedAt string `json:"created_at"`
	Status    string `json:"status"`
}

// VectorStore is the collection-level API used by ingestion and search.
//
// Point IDs come from the collection's point count at the start of each
// AddTexts call, so concurrent writers to one collection must be serialized
// by the caller (see ingest.Coordinator).
type VectorStore struct {
	backend  backend.Backend
	registry *registry.Registry
	embedder embed.Embedder
	logger   *slog.Logger

	mu      sync.Mutex
	current string
}

// New loads the registry and reconciles it with the backend. A backend that
// cannot list collections is reported as BackendUnavailable.
func New(ctx context.Context, opts Options) (*VectorStore, error) {
	if opts.Backend == nil || opts.Registry == nil || opts.Embedder == nil {
		return nil, vkberrors.InternalError("store requires a backend, registry and embedder", nil)
	}
	s := &VectorStore{
		backend:  opts.Backend,
		registry: opts.Registry,
		embedder: opts.Embedder,
		logger:   logging.OrDiscard(opts.Logger),
	}

	s.registry.Load()
	if err := s.Reconcile(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Reconcile aligns the registry with the backend's collection list.
func (s *VectorStore) Reconcile(ctx context.Context) error {
	names, err := s.backend.ListCollections(ctx)
	if err != nil {
		if vkberrors.GetCode(err) == vkberrors.ErrCodeBackendUnavailable {
			return err
		}
		return vkberrors.BackendUnavailableError("cannot list backend collections", err)
	}
	return s.registry.Reconcile(ctx, names, func(ctx context.Context, name string) (int, int, error) {
		info, err := s.backend.GetCollection(ctx, name)
		if err != nil {
			return 0, 0, err
		}
		return info.PointsCount, info.VectorSize, nil
	})
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return vkberrors.ValidationError("collection name is required", nil)
	}
	if strings.ContainsAny(name, `/\`) {
		return vkberrors.ValidationError(fmt.Sprintf("collection name %q must not contain path separators", name), nil)
	}
	return nil
}

// CreateCollection creates a cosine collection and makes it current.
// vectorSize <= 0 selects DefaultVectorSize.
func (s *VectorStore) CreateCollection(ctx context.Context, name string, vectorSize int) error {
	if err := validateName(name); err != nil {
		return err
	}
	if vectorSize <= 0 {
		vectorSize = DefaultVectorSize
	}

	names, err := s.backend.ListCollections(ctx)
	if err != nil {
		return err
	}
	for _, n := range names {
		if n == name {
			return vkberrors.AlreadyExistsError(name)
		}
	}

	if err := s.backend.CreateCollection(ctx, name, vectorSize, backend.Cosine); err != nil {
		return err
	}
	if err := s.registry.Register(name, vectorSize); err != nil {
		return err
	}

	s.mu.Lock()
	s.current = name
	s.mu.Unlock()

	s.logger.Info("collection_created", slog.String("collection", name), slog.Int("vector_size", vectorSize))
	return nil
}

// ListCollections returns the backend's collection names.
func (s *VectorStore) ListCollections(ctx context.Context) ([]string, error) {
	return s.backend.ListCollections(ctx)
}

// CollectionInfo never fails: on any error it logs and returns a record
// with doc_count 0 and "unknown" created_at and status.
func (s *VectorStore) CollectionInfo(ctx context.Context, name string) CollectionInfo {
	fallback := CollectionInfo{Name: name, DocCount: 0, CreatedAt: unknown, Status: unknown}

	info, err := s.backend.GetCollection(ctx, name)
	if err != nil {
		s.logger.Error("collection_info_failed", slog.String("collection", name), vkberrors.LogAttr(err))
		return fallback
	}
	entry, ok := s.registry.Get(name)
	if !ok {
		s.logger.Error("collection_info_failed", slog.String("collection", name), slog.String("error", "not registered"))
		return fallback
	}
	return CollectionInfo{Name: name, DocCount: entry.DocCount, CreatedAt: entry.CreatedAt, Status: info.Status}
}

// DeleteCollection removes the collection from the backend, then from the
// registry, and clears it as current.
func (s *VectorStore) DeleteCollection(ctx context.Context, name string) error {
	if err := s.backend.DeleteCollection(ctx, name); err != nil {
		return err
	}
	if err := s.registry.Remove(name); err != nil {
		return err
	}

	s.mu.Lock()
	if s.current == name {
		s.current = ""
	}
	s.mu.Unlock()

	s.logger.Info("collection_deleted", slog.String("collection", name))
	return nil
}

// Current returns the current collection, or "" when none is selected.
func (s *VectorStore) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SetCurrent selects a registered collection.
func (s *VectorStore) SetCurrent(name string) error {
	if _, ok := s.registry.Get(name); !ok {
		return vkberrors.CollectionNotFoundError(name)
	}
	s.mu.Lock()
	s.current = name
	s.mu.Unlock()
	return nil
}

// Registry returns the collection registry.
func (s *VectorStore) Registry() *registry.Registry { return s.registry }

// Close closes the backend.
func (s *VectorStore) Close() error {
	return s.backend.Close()
}
