// Package vector provides the per-scope vector indexes searched by the retriever.
package vector

import "context"

// VectorIndex holds one build's chunk vectors. It is filled once by the
// indexer and then only searched; a changed scope gets a new index.
type VectorIndex interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	// Search returns up to k hits by descending cosine similarity. Equal
	// scores keep insertion order.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Size() int
	Close() error
}

// VectorResult is a single vector search hit; ID is the chunk id.
type VectorResult struct {
	ID    string
	Score float64 // cosine similarity of normalized vectors
}
