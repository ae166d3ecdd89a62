// Package backend defines the vector index service contract shared by the
// embedded and server modes.
package backend

import (
	"context"
)

// Distance is the similarity metric of a collection.
type Distance string

// Cosine is the only metric vkb creates collections with.
const Cosine Distance = "Cosine"

// StatusGreen is reported by healthy collections.
const StatusGreen = "green"

// Point is one stored vector with its payload.
type Point struct {
	ID      uint64
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is a search hit. Score is the cosine similarity.
type ScoredPoint struct {
	ID      uint64
	Score   float32
	Payload map[string]any
}

// CollectionInfo describes a collection as the backend sees it.
type CollectionInfo struct {
	Status      string
	PointsCount int
	VectorSize  int
	Distance    Distance
}

// Backend is a vector index service holding named collections.
//
// Implementations return errors from internal/errors: CollectionNotFound for
// unknown names, AlreadyExists on duplicate creation and BackendUnavailable
// when the service cannot be reached.
type Backend interface {
	ListCollections(ctx context.Context) ([]string, error)
	CreateCollection(ctx context.Context, name string, vectorSize int, distance Distance) error
	GetCollection(ctx context.Context, name string) (*CollectionInfo, error)
	DeleteCollection(ctx context.Context, name string) error

	// Upsert inserts points, replacing any with equal IDs.
	Upsert(ctx context.Context, name string, points []Point) error

	// Search returns up to limit points by descending score.
	Search(ctx context.Context, name string, vector []float32, limit int) ([]ScoredPoint, error)

	Close() error
}
