package vector

import (
	"context"
	"fmt"

	"github.com/hyperjump/kotae/internal/config"
)

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeMemory uses in-memory brute-force search. Good for portfolio-sized scopes.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeQdrant stores each build in its own qdrant collection.
	IndexTypeQdrant IndexType = "qdrant"
)

// Factory creates one empty index per scope build.
type Factory interface {
	NewIndex(ctx context.Context, name string, dimensions int) (VectorIndex, error)
	Close() error
}

// NewFactory returns the factory for cfg.IndexType ("memory" when empty).
func NewFactory(cfg *config.RetrievalConfig) (Factory, error) {
	switch IndexType(cfg.IndexType) {
	case IndexTypeMemory, "":
		return memoryFactory{}, nil
	case IndexTypeQdrant:
		client, err := NewQdrantClient(cfg.Qdrant)
		if err != nil {
			return nil, err
		}
		return &qdrantFactory{client: client}, nil
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, qdrant)", cfg.IndexType)
	}
}

type memoryFactory struct{}

func (memoryFactory) NewIndex(_ context.Context, _ string, dimensions int) (VectorIndex, error) {
	return NewMemoryIndex(dimensions)
}

func (memoryFactory) Close() error { return nil }

type qdrantFactory struct {
	client *QdrantClient
}

func (f *qdrantFactory) NewIndex(ctx context.Context, name string, dimensions int) (VectorIndex, error) {
	return f.client.NewIndex(ctx, name, dimensions)
}

func (f *qdrantFactory) Close() error { return f.client.Close() }
