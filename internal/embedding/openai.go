package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/provider"
	"github.com/hyperjump/kotae/pkg/utils"
	"go.uber.org/zap"
)

// OpenAIConfig configures the OpenAI-compatible embeddings client.
type OpenAIConfig struct {
	BaseURL     string
	Model       string
	Credentials provider.Credentials
	// Dimensions is the expected vector length; text-embedding-3 models are asked for it explicitly.
	Dimensions int
	// BatchSize caps inputs per request.
	BatchSize         int
	Timeout           time.Duration
	RequestsPerSecond float64
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	cfg     OpenAIConfig
	client  *http.Client
	limiter *provider.Limiter
	retry   provider.RetryConfig
	logger  *zap.Logger
}

// OpenAIOption configures an OpenAIEmbedder.
type OpenAIOption func(*OpenAIEmbedder)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(e *OpenAIEmbedder) { e.client = c }
}

// WithRetryConfig overrides the retry policy (one retry by default).
func WithRetryConfig(cfg provider.RetryConfig) OpenAIOption {
	return func(e *OpenAIEmbedder) { e.retry = cfg }
}

// WithOpenAILogger sets a logger for retries.
func WithOpenAILogger(l *zap.Logger) OpenAIOption {
	return func(e *OpenAIEmbedder) { e.logger = l }
}

// NewOpenAIEmbedder returns an embedder for cfg. No network call or key
// lookup happens until the first Embed.
func NewOpenAIEmbedder(cfg OpenAIConfig, opts ...OpenAIOption) *OpenAIEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	e := &OpenAIEmbedder{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: provider.NewLimiter(cfg.RequestsPerSecond),
		retry:   provider.DefaultRetryConfig(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding for text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in requests of at most BatchSize inputs. Each
// request is retried once on a transient failure.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	key, err := e.cfg.Credentials.Key(ctx)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]
		vecs, err := provider.Retry(ctx, e.retry, func(ctx context.Context) ([][]float32, error) {
			return e.request(ctx, key, batch)
		}, func(attempt int, err error) {
			e.logger.Warn("retrying embedding request", zap.Int("attempt", attempt), zap.Error(err))
		})
		if err != nil {
			return nil, models.NewError(models.KindEmbedding, "", err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *OpenAIEmbedder) request(ctx context.Context, key string, inputs []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body := embeddingRequest{Model: e.cfg.Model, Input: inputs}
	if e.cfg.Dimensions > 0 && strings.HasPrefix(e.cfg.Model, "text-embedding-3") {
		body.Dimensions = e.cfg.Dimensions
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, provider.NewFatalError(err)
	}
	url := strings.TrimSuffix(e.cfg.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, provider.NewFatalError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, provider.NewTransientError(fmt.Errorf("embeddings request: %w", err))
	}
	if err := provider.CheckResponse(resp); err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, provider.NewTransientError(fmt.Errorf("decode embeddings response: %w", err))
	}
	if len(parsed.Data) != len(inputs) {
		return nil, provider.NewFatalError(fmt.Errorf("embeddings response has %d vectors for %d inputs", len(parsed.Data), len(inputs)))
	}
	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })
	vecs := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		if e.cfg.Dimensions > 0 && len(d.Embedding) != e.cfg.Dimensions {
			return nil, provider.NewFatalError(fmt.Errorf("embedding has %d dimensions, configured %d", len(d.Embedding), e.cfg.Dimensions))
		}
		utils.NormalizeL2(d.Embedding)
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

// Dimensions returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.cfg.Dimensions
}

// Model returns the remote model name and requested dimension.
func (e *OpenAIEmbedder) Model() string {
	return fmt.Sprintf("openai/%s@%d", e.cfg.Model, e.cfg.Dimensions)
}

// Close releases idle connections.
func (e *OpenAIEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
