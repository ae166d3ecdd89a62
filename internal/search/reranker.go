package search

import (
	"context"
)

// RerankResult represents a single reranked result.
type RerankResult struct {
	// Index is the original position in the input documents slice
	Index int
	// Score is the relevance score assigned by the model
	Score float64
	// Document is the original document content
	Document string
}

// Reranker scores (query, document) pairs with a cross-encoder model.
type Reranker interface {
	// Rerank scores documents against query. Results may come back in any
	// order; topK of 0 returns all.
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error)

	// Available checks if the reranker service is reachable.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}
