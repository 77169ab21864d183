package rag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/documents"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/scope"
	"github.com/hyperjump/kotae/internal/vector"
)

const testDims = 256

func testFactory(t *testing.T) vector.Factory {
	t.Helper()
	f, err := vector.NewFactory(&config.RetrievalConfig{IndexType: "memory"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

// buildSnapshot indexes docs (name -> text, in order) into one snapshot.
func buildSnapshot(t *testing.T, docs ...[2]string) *indexer.Snapshot {
	t.Helper()
	b := indexer.NewBuilder(embedding.NewHashEmbedder(testDims), testFactory(t), 1000, 200)
	var in []*models.Document
	for i, d := range docs {
		in = append(in, &models.Document{ID: "doc-" + d[0], Scope: "global", Name: d[0], Order: i, Text: d[1]})
	}
	snap, err := b.Build(context.Background(), "global", in, "fp", 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = snap.Close() })
	return snap
}

type portfolio struct {
	global   map[string]string
	projects map[string]string
}

// newRegistry writes a portfolio to disk and serves it through a real
// document store, builder and registry.
func newRegistry(t *testing.T, p portfolio) *scope.Registry {
	t.Helper()
	dir := t.TempDir()
	for name, text := range p.global {
		path := filepath.Join(dir, "portfolio", name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(text), 0o600))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "projects"), 0o755))
	for id, text := range p.projects {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "projects", id+".md"), []byte(text), 0o600))
	}
	store := documents.NewStore(config.DocumentsConfig{
		Global:      []string{filepath.Join(dir, "portfolio", "**", "*.md")},
		ProjectsDir: filepath.Join(dir, "projects"),
		Extensions:  []string{".pdf", ".md"},
	}, nil)
	b := indexer.NewBuilder(embedding.NewHashEmbedder(testDims), testFactory(t), 1000, 200)
	r := scope.NewRegistry(store, b)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

type failingEmbedder struct{ *embedding.HashEmbedder }

func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, models.NewError(models.KindEmbedding, "", errors.New("provider unavailable"))
}
