// Package embedding maps text to fixed-length vectors through swappable providers.
package embedding

import "context"

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	// Model identifies the embedding-model version. Vectors produced under
	// different models are never compared or cached together.
	Model() string
	Close() error
}
