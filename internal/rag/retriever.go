package rag

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/models"
)

// KeywordFallbackNotice tells the reader results came from keyword matching.
const KeywordFallbackNotice = "Semantic search is unavailable right now; sources were found by keyword matching instead."

// Retrieval is the merged result of searching a snapshot with several queries.
type Retrieval struct {
	Results []models.RetrievalResult
	// Degraded is set when the keyword index stood in for vector search.
	Degraded bool
	// Err is the Embedding error that caused the fallback.
	Err error
}

// Retriever runs every query against a scope snapshot and merges the hits.
type Retriever struct {
	embedder   embedding.Embedder
	topK       int
	candidates int
	logger     *zap.Logger
}

// NewRetriever returns a retriever keeping topK results overall and asking
// each query for candidates hits (at least topK).
func NewRetriever(embedder embedding.Embedder, topK, candidates int, logger *zap.Logger) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	if candidates < topK {
		candidates = topK
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{embedder: embedder, topK: topK, candidates: candidates, logger: logger}
}

// Retrieve embeds all queries in one batch, searches them in parallel and
// returns at most topK chunks, each once with its best score, ordered by
// score and then source order. If the queries cannot be embedded the
// snapshot's keyword index answers instead and the result is marked degraded.
func (r *Retriever) Retrieve(ctx context.Context, snap *indexer.Snapshot, queries []string) (*Retrieval, error) {
	if len(queries) == 0 || len(snap.Chunks) == 0 {
		return &Retrieval{}, nil
	}
	vectors, err := r.embedder.EmbedBatch(ctx, queries)
	if err == nil && len(vectors) != len(queries) {
		err = models.NewError(models.KindEmbedding, snap.Scope, fmt.Errorf("got %d query vectors for %d queries", len(vectors), len(queries)))
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if models.IsKind(err, models.KindConfiguration) {
			return nil, err
		}
		if !models.IsKind(err, models.KindEmbedding) {
			err = models.NewError(models.KindEmbedding, snap.Scope, err)
		}
		r.logger.Warn("query embedding failed; falling back to keyword search",
			zap.String("scope", snap.Scope), zap.Error(err))
		results, kwErr := r.keywordSearch(ctx, snap, queries)
		if kwErr != nil {
			return nil, err
		}
		return &Retrieval{Results: results, Degraded: true, Err: err}, nil
	}

	hits := make([][]models.RetrievalResult, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i := range queries {
		g.Go(func() error {
			res, err := snap.Vector.Search(gctx, vectors[i], r.candidates)
			if err != nil {
				return fmt.Errorf("search query %d: %w", i, err)
			}
			for _, h := range res {
				if ch, ok := snap.Chunk(h.ID); ok {
					hits[i] = append(hits[i], models.RetrievalResult{Chunk: ch, Score: h.Score})
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &Retrieval{Results: merge(hits, r.topK)}, nil
}

func (r *Retriever) keywordSearch(ctx context.Context, snap *indexer.Snapshot, queries []string) ([]models.RetrievalResult, error) {
	hits := make([][]models.RetrievalResult, len(queries))
	for i, q := range queries {
		res, err := snap.Keyword.Search(ctx, q, r.candidates)
		if err != nil {
			return nil, err
		}
		for _, h := range res {
			if ch, ok := snap.Chunk(h.ID); ok {
				hits[i] = append(hits[i], models.RetrievalResult{Chunk: ch, Score: h.Score})
			}
		}
	}
	return merge(hits, r.topK), nil
}

// merge dedupes hits by chunk identity keeping the best score, then orders
// by score descending with source order breaking ties.
func merge(hits [][]models.RetrievalResult, k int) []models.RetrievalResult {
	best := make(map[models.ChunkKey]models.RetrievalResult)
	for _, list := range hits {
		for _, h := range list {
			key := h.Chunk.Key()
			if cur, ok := best[key]; !ok || h.Score > cur.Score {
				best[key] = h
			}
		}
	}
	out := make([]models.RetrievalResult, 0, len(best))
	for _, h := range best {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Chunk.Before(out[j].Chunk)
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}
