package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/provider"
)

// OpenAIConfig configures the OpenAI-compatible chat client.
type OpenAIConfig struct {
	BaseURL     string
	Model       string
	Credentials provider.Credentials
	// MaxTokens is used when a request does not set its own.
	MaxTokens int
	// Timeout bounds non-streaming calls and the wait for a stream's response headers.
	Timeout           time.Duration
	RequestsPerSecond float64
}

// OpenAIClient calls an OpenAI-compatible /chat/completions endpoint.
type OpenAIClient struct {
	cfg     OpenAIConfig
	client  *http.Client
	limiter *provider.Limiter
	retry   provider.RetryConfig
	logger  *zap.Logger
}

// Option configures an OpenAIClient.
type Option func(*OpenAIClient)

// WithHTTPClient sets a custom HTTP client. It must not set a total Timeout,
// which would cut long streams short.
func WithHTTPClient(c *http.Client) Option {
	return func(o *OpenAIClient) { o.client = c }
}

// WithRetryConfig overrides the retry policy.
func WithRetryConfig(cfg provider.RetryConfig) Option {
	return func(o *OpenAIClient) { o.retry = cfg }
}

// WithLogger sets a logger for retries.
func WithLogger(l *zap.Logger) Option {
	return func(o *OpenAIClient) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewOpenAIClient returns a chat client. The key is resolved per call.
func NewOpenAIClient(cfg OpenAIConfig, opts ...Option) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 90 * time.Second
	}
	c := &OpenAIClient{
		cfg:     cfg,
		client:  &http.Client{},
		limiter: provider.NewLimiter(cfg.RequestsPerSecond),
		retry:   provider.DefaultRetryConfig(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete returns the whole reply to req, retrying transient failures.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	key, err := c.cfg.Credentials.Key(ctx)
	if err != nil {
		return "", err
	}
	return provider.Retry(ctx, c.retry, func(ctx context.Context) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
		resp, err := c.post(ctx, key, req, false)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		var parsed chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return "", provider.NewTransientError(fmt.Errorf("decode chat response: %w", err))
		}
		if len(parsed.Choices) == 0 {
			return "", provider.NewTransientError(errors.New("chat response has no choices"))
		}
		return parsed.Choices[0].Message.Content, nil
	}, c.onRetry(req))
}

// Stream opens a streamed completion. Only opening the stream is retried;
// a failure after the first increment is returned by Recv.
func (c *OpenAIClient) Stream(ctx context.Context, req Request) (Stream, error) {
	key, err := c.cfg.Credentials.Key(ctx)
	if err != nil {
		return nil, err
	}
	return provider.Retry(ctx, c.retry, func(ctx context.Context) (Stream, error) {
		// Timeout covers the response headers only; the body lives until Close.
		sctx, cancel := context.WithCancel(ctx)
		timer := time.AfterFunc(c.cfg.Timeout, cancel)
		resp, err := c.post(sctx, key, req, true)
		if !timer.Stop() {
			cancel()
			if err == nil {
				_ = resp.Body.Close()
			}
			return nil, provider.NewTransientError(fmt.Errorf("no chat response within %s", c.cfg.Timeout))
		}
		if err != nil {
			cancel()
			return nil, err
		}
		return newSSEStream(resp.Body, cancel), nil
	}, c.onRetry(req))
}

func (c *OpenAIClient) onRetry(req Request) func(int, error) {
	return func(attempt int, err error) {
		c.logger.Warn("retrying chat request",
			zap.String("purpose", string(req.Purpose)), zap.Int("attempt", attempt), zap.Error(err))
	}
}

func (c *OpenAIClient) post(ctx context.Context, key string, req Request, stream bool) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.cfg.MaxTokens
	}
	data, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   maxTokens,
		Stream:      stream,
	})
	if err != nil {
		return nil, provider.NewFatalError(err)
	}
	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, provider.NewFatalError(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, provider.NewTransientError(fmt.Errorf("chat request: %w", err))
	}
	if err := provider.CheckResponse(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// sseStream reads "data:" lines of a server-sent event stream of chat chunks.
type sseStream struct {
	body     io.ReadCloser
	cancel   context.CancelFunc
	scanner  *bufio.Scanner
	finished bool
	once     sync.Once
}

func newSSEStream(body io.ReadCloser, cancel context.CancelFunc) *sseStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &sseStream{body: body, cancel: cancel, scanner: scanner}
}

func (s *sseStream) Recv() (string, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			s.finished = true
			return "", io.EOF
		}
		var chunk chatChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return "", fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return "", fmt.Errorf("provider stream error: %s", chunk.Error.Message)
		}
		var text string
		for _, choice := range chunk.Choices {
			text += choice.Delta.Content
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				s.finished = true
			}
		}
		if text != "" {
			return text, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("read stream: %w", err)
	}
	if s.finished {
		return "", io.EOF
	}
	return "", io.ErrUnexpectedEOF
}

func (s *sseStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.body.Close()
		s.cancel()
	})
	return err
}
