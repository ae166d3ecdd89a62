// Package backendtest provides an in-memory Backend for tests.
package backendtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/XuanZiK/V-knowledge/internal/backend"
	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
)

type collection struct {
	size   int
	points map[uint64]backend.Point
}

// Memory is a map-backed Backend. Set the Fail* fields to inject errors.
type Memory struct {
	mu    sync.Mutex
	order []string
	cols  map[string]*collection

	FailList   error
	FailGet    error
	FailSearch error
	FailUpsert error

	upserts int
}

var _ backend.Backend = (*Memory)(nil)

// NewMemory returns an empty backend.
func NewMemory() *Memory {
	return &Memory{cols: make(map[string]*collection)}
}

// Upserts counts Upsert calls that reached storage.
func (m *Memory) Upserts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}

// Points returns a copy of a collection's points ordered by id.
func (m *Memory) Points(name string) []backend.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	col, ok := m.cols[name]
	if !ok {
		return nil
	}
	out := make([]backend.Point, 0, len(col.points))
	for _, p := range col.points {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) ListCollections(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailList != nil {
		return nil, m.FailList
	}
	return append([]string{}, m.order...), nil
}

func (m *Memory) CreateCollection(_ context.Context, name string, vectorSize int, _ backend.Distance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cols[name]; ok {
		return vkberrors.AlreadyExistsError(name)
	}
	m.cols[name] = &collection{size: vectorSize, points: map[uint64]backend.Point{}}
	m.order = append(m.order, name)
	return nil
}

func (m *Memory) GetCollection(_ context.Context, name string) (*backend.CollectionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailGet != nil {
		return nil, m.FailGet
	}
	col, ok := m.cols[name]
	if !ok {
		return nil, vkberrors.CollectionNotFoundError(name)
	}
	return &backend.CollectionInfo{
		Status:      backend.StatusGreen,
		PointsCount: len(col.points),
		VectorSize:  col.size,
		Distance:    backend.Cosine,
	}, nil
}

func (m *Memory) DeleteCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cols[name]; !ok {
		return vkberrors.CollectionNotFoundError(name)
	}
	delete(m.cols, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) Upsert(_ context.Context, name string, points []backend.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUpsert != nil {
		return m.FailUpsert
	}
	col, ok := m.cols[name]
	if !ok {
		return vkberrors.CollectionNotFoundError(name)
	}
	for _, p := range points {
		if len(p.Vector) != col.size {
			return fmt.Errorf("vector size %d, want %d", len(p.Vector), col.size)
		}
	}
	for _, p := range points {
		col.points[p.ID] = p
	}
	m.upserts++
	return nil
}

func (m *Memory) Search(_ context.Context, name string, vector []float32, limit int) ([]backend.ScoredPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSearch != nil {
		return nil, m.FailSearch
	}
	col, ok := m.cols[name]
	if !ok {
		return nil, vkberrors.CollectionNotFoundError(name)
	}
	if len(vector) != col.size {
		return nil, errors.New("query dimension mismatch")
	}

	hits := make([]backend.ScoredPoint, 0, len(col.points))
	for _, p := range col.points {
		hits = append(hits, backend.ScoredPoint{ID: p.ID, Score: cosine(vector, p.Vector), Payload: p.Payload})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *Memory) Close() error { return nil }

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
