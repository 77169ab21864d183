package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/provider"
	"github.com/hyperjump/kotae/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()
	a, err := e.Embed(ctx, "Backend engineering experience")
	require.NoError(t, err)
	b, _ := e.Embed(ctx, "backend  engineering, experience!")
	assert.Equal(t, a, b, "case and punctuation should not matter")
	assert.Len(t, a, 64)
	assert.InDelta(t, 1.0, utils.Dot(a, a), 1e-5)
}

func TestHashEmbedder_SharedWordsAreCloser(t *testing.T) {
	e := NewHashEmbedder(256)
	ctx := context.Background()
	q, _ := e.Embed(ctx, "years of backend experience")
	near, _ := e.Embed(ctx, "five years of backend engineering experience")
	far, _ := e.Embed(ctx, "enjoys hiking and photography")
	assert.Greater(t, utils.Dot(q, near), utils.Dot(q, far))
}

func TestHashEmbedder_ModelIncludesDimensions(t *testing.T) {
	assert.NotEqual(t, NewHashEmbedder(64).Model(), NewHashEmbedder(128).Model())
	assert.Equal(t, 384, NewHashEmbedder(0).Dimensions())
}

// countingEmbedder records how many texts reach the provider.
type countingEmbedder struct {
	*HashEmbedder
	texts atomic.Int64
	err   error
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.texts.Add(int64(len(texts)))
	return c.HashEmbedder.EmbedBatch(ctx, texts)
}

type mapStore struct {
	data map[string][]float32
	puts int
}

func (m *mapStore) GetEmbeddings(_ context.Context, model string, hashes []string) (map[string][]float32, error) {
	out := map[string][]float32{}
	for _, h := range hashes {
		if v, ok := m.data[model+"/"+h]; ok {
			out[h] = v
		}
	}
	return out, nil
}

func (m *mapStore) PutEmbeddings(_ context.Context, model string, vectors map[string][]float32) error {
	m.puts++
	for h, v := range vectors {
		m.data[model+"/"+h] = v
	}
	return nil
}

func TestCachedEmbedder_ReusesVectors(t *testing.T) {
	ctx := context.Background()
	store := &mapStore{data: map[string][]float32{}}
	inner := &countingEmbedder{HashEmbedder: NewHashEmbedder(32)}
	c := NewCachedEmbedder(inner, store, 100)

	vecs, err := c.EmbedBatch(ctx, []string{"a b", "c d", "a b"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, vecs[0], vecs[2])
	assert.EqualValues(t, 2, inner.texts.Load(), "duplicate texts embed once")

	_, err = c.EmbedBatch(ctx, []string{"a b", "c d"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, inner.texts.Load(), "memory cache should serve repeats")

	// A fresh process shares only the persistent store.
	inner2 := &countingEmbedder{HashEmbedder: NewHashEmbedder(32)}
	c2 := NewCachedEmbedder(inner2, store, 100)
	again, err := c2.EmbedBatch(ctx, []string{"c d", "e f"})
	require.NoError(t, err)
	assert.Equal(t, vecs[1], again[0])
	assert.EqualValues(t, 1, inner2.texts.Load(), "only the unseen text is embedded")
}

func TestCachedEmbedder_WrapsProviderErrors(t *testing.T) {
	inner := &countingEmbedder{HashEmbedder: NewHashEmbedder(8), err: errors.New("boom")}
	c := NewCachedEmbedder(inner, nil, 10)
	_, err := c.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindEmbedding))
}

func newEmbeddingServer(t *testing.T, dims int, failFirst int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if r.URL.Path != "/embeddings" || r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if n <= failFirst {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		resp := struct {
			Data []item `json:"data"`
		}{}
		// Reverse order to exercise index sorting.
		for i := len(req.Input) - 1; i >= 0; i-- {
			v := make([]float32, dims)
			v[i%dims] = 2
			resp.Data = append(resp.Data, item{Index: i, Embedding: v})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testRetry() provider.RetryConfig {
	return provider.RetryConfig{MaxAttempts: 2, BackoffBase: time.Millisecond, BackoffMultiplier: 1}
}

func TestOpenAIEmbedder_EmbedBatch(t *testing.T) {
	srv, calls := newEmbeddingServer(t, 4, 0)
	e := NewOpenAIEmbedder(OpenAIConfig{
		BaseURL:     srv.URL,
		Model:       "text-embedding-3-small",
		Credentials: provider.Credentials{Explicit: "test-key"},
		Dimensions:  4,
		BatchSize:   2,
	}, WithRetryConfig(testRetry()))

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, []float32{1, 0, 0, 0}, vecs[0])
	assert.Equal(t, []float32{0, 1, 0, 0}, vecs[1])
	assert.Equal(t, []float32{1, 0, 0, 0}, vecs[2], "second batch restarts at index 0")
	assert.EqualValues(t, 2, calls.Load())
}

func TestOpenAIEmbedder_RetriesOnce(t *testing.T) {
	srv, calls := newEmbeddingServer(t, 4, 1)
	e := NewOpenAIEmbedder(OpenAIConfig{
		BaseURL:     srv.URL,
		Credentials: provider.Credentials{Explicit: "test-key"},
		Dimensions:  4,
	}, WithRetryConfig(testRetry()))
	_, err := e.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())

	srv2, calls2 := newEmbeddingServer(t, 4, 5)
	e2 := NewOpenAIEmbedder(OpenAIConfig{
		BaseURL:     srv2.URL,
		Credentials: provider.Credentials{Explicit: "test-key"},
		Dimensions:  4,
	}, WithRetryConfig(testRetry()))
	_, err = e2.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindEmbedding))
	assert.EqualValues(t, 2, calls2.Load(), "one retry then give up")
}

func TestOpenAIEmbedder_MissingKeyIsConfigurationError(t *testing.T) {
	e := NewOpenAIEmbedder(OpenAIConfig{Credentials: provider.Credentials{EnvVar: "KOTAE_TEST_UNSET_EMBED_KEY"}, Dimensions: 4})
	_, err := e.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindConfiguration))
}

func TestOpenAIEmbedder_RejectedKeyIsConfigurationError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided"}}`))
	}))
	t.Cleanup(srv.Close)

	e := NewOpenAIEmbedder(OpenAIConfig{
		BaseURL:     srv.URL,
		Credentials: provider.Credentials{Explicit: "wrong-key"},
		Dimensions:  4,
	}, WithRetryConfig(testRetry()))
	_, err := e.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindConfiguration))
	assert.EqualValues(t, 1, calls.Load(), "a rejected key is not retried")
}

func TestOpenAIEmbedder_RequestScopedKey(t *testing.T) {
	srv, _ := newEmbeddingServer(t, 4, 0)
	e := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL, Dimensions: 4})
	_, err := e.Embed(models.WithAPIKey(context.Background(), "test-key"), "x")
	require.NoError(t, err)
}

func TestNew(t *testing.T) {
	e, err := New(&config.EmbeddingConfig{Provider: "hash", Dimensions: 16}, nil)
	require.NoError(t, err)
	assert.Equal(t, 16, e.Dimensions())

	e, err = New(&config.EmbeddingConfig{Provider: "openai", Model: "text-embedding-3-small", Dimensions: 1536}, nil)
	require.NoError(t, err, "openai provider is created without a key")
	assert.Contains(t, e.Model(), "text-embedding-3-small")

	_, err = New(&config.EmbeddingConfig{Provider: "nope"}, nil)
	assert.Error(t, err)
}
