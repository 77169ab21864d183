package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
	"go.uber.org/zap"
)

// Snapshot is one immutable build of a scope: its documents, chunks and the
// indexes over them. Snapshots are replaced wholesale, never mutated.
type Snapshot struct {
	Scope          string
	Fingerprint    string
	Generation     uint64
	EmbeddingModel string
	Documents      []*models.Document
	Chunks         map[string]*models.Chunk
	Vector         vector.VectorIndex
	Keyword        keyword.KeywordIndex
	BuiltAt        time.Time
}

// Chunk returns the chunk with the given id.
func (s *Snapshot) Chunk(id string) (*models.Chunk, bool) {
	ch, ok := s.Chunks[id]
	return ch, ok
}

// Close releases both indexes.
func (s *Snapshot) Close() error {
	var firstErr error
	if s.Vector != nil {
		if err := s.Vector.Close(); err != nil {
			firstErr = err
		}
	}
	if s.Keyword != nil {
		if err := s.Keyword.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Builder chunks, embeds and indexes a scope's documents.
type Builder struct {
	embedder embedding.Embedder
	vectors  vector.Factory
	chunker  *Chunker
	logger   *zap.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets a logger for build progress.
func WithLogger(l *zap.Logger) BuilderOption {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBuilder creates a builder. embedder is usually an embedding.CachedEmbedder
// so unchanged chunk texts are never re-embedded.
func NewBuilder(embedder embedding.Embedder, vectors vector.Factory, chunkSize, chunkOverlap int, opts ...BuilderOption) *Builder {
	b := &Builder{
		embedder: embedder,
		vectors:  vectors,
		chunker:  NewChunker(chunkSize, chunkOverlap),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build indexes docs into a new snapshot. Failures are IndexBuild errors and
// leave nothing behind; the caller keeps serving its previous snapshot.
func (b *Builder) Build(ctx context.Context, scope string, docs []*models.Document, fingerprint string, generation uint64) (*Snapshot, error) {
	start := time.Now()
	snap := &Snapshot{
		Scope:          scope,
		Fingerprint:    fingerprint,
		Generation:     generation,
		EmbeddingModel: b.embedder.Model(),
		Documents:      docs,
		Chunks:         make(map[string]*models.Chunk),
	}

	var chunks []*models.Chunk
	for _, doc := range docs {
		chunks = append(chunks, b.chunker.Chunk(doc)...)
	}
	ids := make([]string, len(chunks))
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		ids[i] = ch.ID
		texts[i] = ch.Text
		snap.Chunks[ch.ID] = ch
	}

	fail := func(stage string, err error) (*Snapshot, error) {
		_ = snap.Close()
		return nil, models.NewError(models.KindIndexBuild, scope, fmt.Errorf("%s: %w", stage, err))
	}

	var vectors [][]float32
	if len(texts) > 0 {
		var err error
		vectors, err = b.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fail("embed chunks", err)
		}
	}

	vecIndex, err := b.vectors.NewIndex(ctx, vector.CollectionName(scope, generation), b.embedder.Dimensions())
	if err != nil {
		return fail("create vector index", err)
	}
	snap.Vector = vecIndex
	if err := vecIndex.Add(ctx, ids, vectors); err != nil {
		return fail("index vectors", err)
	}

	kwIndex, err := keyword.NewBleveIndex()
	if err != nil {
		return fail("create keyword index", err)
	}
	snap.Keyword = kwIndex
	if err := kwIndex.IndexChunks(ctx, chunks); err != nil {
		return fail("index keywords", err)
	}

	snap.BuiltAt = time.Now()
	b.logger.Debug("scope index built",
		zap.String("scope", scope),
		zap.Int("documents", len(docs)),
		zap.Int("chunks", len(chunks)),
		zap.Uint64("generation", generation),
		zap.Duration("took", time.Since(start)))
	return snap, nil
}
