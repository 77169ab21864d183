// Package storage persists computed embeddings so unchanged chunks are never re-embedded.
package storage

import "context"

// EmbeddingStore is a persistent embedding cache keyed by (model, text hash).
type EmbeddingStore interface {
	// GetEmbeddings returns the stored vectors for the given hashes; misses are absent from the map.
	GetEmbeddings(ctx context.Context, model string, hashes []string) (map[string][]float32, error)
	// PutEmbeddings stores vectors keyed by text hash.
	PutEmbeddings(ctx context.Context, model string, vectors map[string][]float32) error
	// PruneModels deletes embeddings of every model except keep and returns the number removed.
	PruneModels(ctx context.Context, keep string) (int64, error)
	// CountEmbeddings returns the number of stored vectors for model.
	CountEmbeddings(ctx context.Context, model string) (int64, error)
	Close() error
}
