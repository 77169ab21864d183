package indexer

import (
	"context"
	"strings"
	"testing"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/models"
)

func benchText() string {
	return strings.Repeat("I built payment services in Go and ran them on Kubernetes. ", 400)
}

func BenchmarkChunker_Chunk(b *testing.B) {
	c := NewChunker(1000, 200)
	doc := &models.Document{ID: "cv", Scope: "global", Name: "cv.pdf", Text: benchText()}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Chunk(doc)
	}
}

func BenchmarkBuilder_Build(b *testing.B) {
	builder := testBuilder(b, embedding.NewHashEmbedder(128))
	docs := []*models.Document{{ID: "cv", Scope: "global", Name: "cv.pdf", Text: benchText()}}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		snap, err := builder.Build(ctx, "global", docs, "fp", uint64(i+1))
		if err != nil {
			b.Fatal(err)
		}
		_ = snap.Close()
	}
}
