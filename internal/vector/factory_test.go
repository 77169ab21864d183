package vector

import (
	"context"
	"testing"

	"github.com/hyperjump/kotae/internal/config"
)

func TestNewFactory_Memory(t *testing.T) {
	for _, typ := range []string{"memory", ""} {
		f, err := NewFactory(&config.RetrievalConfig{IndexType: typ})
		if err != nil {
			t.Fatalf("NewFactory(%q): %v", typ, err)
		}
		idx, err := f.NewIndex(context.Background(), "global_g1", 3)
		if err != nil {
			t.Fatalf("NewIndex: %v", err)
		}
		if err := idx.Add(context.Background(), []string{"a"}, [][]float32{{1, 0, 0}}); err != nil {
			t.Fatalf("Add: %v", err)
		}
		if idx.Size() != 1 {
			t.Errorf("Size=%d, want 1", idx.Size())
		}
		_ = idx.Close()
		_ = f.Close()
	}
}

func TestNewFactory_QdrantIsLazy(t *testing.T) {
	// grpc.NewClient does not dial, so construction succeeds without a server.
	f, err := NewFactory(&config.RetrievalConfig{
		IndexType: "qdrant",
		Qdrant:    config.QdrantConfig{Host: "127.0.0.1", Port: 6334, CollectionPrefix: "test"},
	})
	if err != nil {
		t.Fatalf("NewFactory(qdrant): %v", err)
	}
	if err := f.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestNewFactory_Unknown(t *testing.T) {
	if _, err := NewFactory(&config.RetrievalConfig{IndexType: "faiss"}); err == nil {
		t.Error("expected error for unknown index type")
	}
}

func TestPointIDStable(t *testing.T) {
	a := pointID("doc1#0")
	if a != pointID("doc1#0") {
		t.Error("point id should be deterministic")
	}
	if a == pointID("doc1#1") {
		t.Error("different chunks should get different point ids")
	}
	if len(a) != 36 {
		t.Errorf("expected UUID string, got %q", a)
	}
}

func TestCollectionName(t *testing.T) {
	if got := CollectionName("project-7", 3); got != "project-7_g3" {
		t.Errorf("CollectionName = %q", got)
	}
}
