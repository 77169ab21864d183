package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
	"go.uber.org/zap"
)

// Store is the persistent side of the embedding cache, keyed by model and text hash.
type Store interface {
	GetEmbeddings(ctx context.Context, model string, hashes []string) (map[string][]float32, error)
	PutEmbeddings(ctx context.Context, model string, vectors map[string][]float32) error
}

// CachedEmbedder wraps an Embedder with an in-memory LRU and an optional
// persistent Store, so each distinct text is embedded once per model.
type CachedEmbedder struct {
	inner  Embedder
	store  Store
	memory *EmbeddingCache
	logger *zap.Logger
}

// CachedOption configures a CachedEmbedder.
type CachedOption func(*CachedEmbedder)

// WithLogger sets a logger for cache statistics and store failures.
func WithLogger(l *zap.Logger) CachedOption {
	return func(c *CachedEmbedder) { c.logger = l }
}

// NewCachedEmbedder wraps inner. store may be nil for a memory-only cache.
func NewCachedEmbedder(inner Embedder, store Store, memorySize int, opts ...CachedOption) *CachedEmbedder {
	c := &CachedEmbedder{
		inner:  inner,
		store:  store,
		memory: NewEmbeddingCache(memorySize),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// Embed returns the embedding of a single text.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch resolves texts from memory, then the store, and embeds only the rest
// in one call to the wrapped provider. Output order matches texts.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	model := c.inner.Model()
	out := make([][]float32, len(texts))
	hashes := make([]string, len(texts))
	pending := make(map[string][]int) // text hash -> positions still unresolved
	for i, t := range texts {
		h := utils.HashString(t)
		hashes[i] = h
		if v, ok := c.memory.Get(model + ":" + h); ok {
			out[i] = v
			continue
		}
		pending[h] = append(pending[h], i)
	}
	memoryHits := len(texts) - countPositions(pending)

	storeHits := 0
	if c.store != nil && len(pending) > 0 {
		keys := make([]string, 0, len(pending))
		for h := range pending {
			keys = append(keys, h)
		}
		stored, err := c.store.GetEmbeddings(ctx, model, keys)
		if err != nil {
			c.logger.Warn("embedding store read failed", zap.Error(err))
		}
		for h, v := range stored {
			if len(v) != c.inner.Dimensions() {
				continue
			}
			for _, i := range pending[h] {
				out[i] = v
				storeHits++
			}
			c.memory.Set(model+":"+h, v)
			delete(pending, h)
		}
	}

	if len(pending) > 0 {
		// One representative text per distinct hash, in first-seen order.
		missTexts := make([]string, 0, len(pending))
		missHashes := make([]string, 0, len(pending))
		for i, h := range hashes {
			if pos, ok := pending[h]; ok && pos[0] == i {
				missTexts = append(missTexts, texts[i])
				missHashes = append(missHashes, h)
			}
		}
		vecs, err := c.inner.EmbedBatch(ctx, missTexts)
		if err != nil {
			if models.IsKind(err, models.KindConfiguration) || models.IsKind(err, models.KindEmbedding) {
				return nil, err
			}
			return nil, models.NewError(models.KindEmbedding, "", err)
		}
		if len(vecs) != len(missTexts) {
			return nil, models.NewError(models.KindEmbedding, "", fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(missTexts)))
		}
		fresh := make(map[string][]float32, len(vecs))
		for j, v := range vecs {
			if len(v) != c.inner.Dimensions() {
				return nil, models.NewError(models.KindEmbedding, "", fmt.Errorf("provider returned %d dimensions, want %d", len(v), c.inner.Dimensions()))
			}
			h := missHashes[j]
			for _, i := range pending[h] {
				out[i] = v
			}
			fresh[h] = v
			c.memory.Set(model+":"+h, v)
		}
		if c.store != nil {
			if err := c.store.PutEmbeddings(ctx, model, fresh); err != nil {
				c.logger.Warn("embedding store write failed", zap.Error(err))
			}
		}
	}

	if len(texts) > 1 {
		c.logger.Debug("embedded batch",
			zap.String("model", model),
			zap.Int("texts", len(texts)),
			zap.Int("memory_hits", memoryHits),
			zap.Int("store_hits", storeHits),
			zap.Int("computed", len(texts)-memoryHits-storeHits))
	}
	return out, nil
}

func countPositions(m map[string][]int) int {
	n := 0
	for _, p := range m {
		n += len(p)
	}
	return n
}

// Dimensions returns the wrapped embedder's dimension.
func (c *CachedEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

// Model returns the wrapped embedder's model version.
func (c *CachedEmbedder) Model() string {
	return c.inner.Model()
}

// Close closes the wrapped embedder. The store is owned by the caller.
func (c *CachedEmbedder) Close() error {
	return c.inner.Close()
}
