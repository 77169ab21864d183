// Package llm defines the chat-model interface used for query expansion,
// answer synthesis and follow-up suggestion, with an OpenAI-compatible client.
package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/provider"
)

// Roles used in Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Purpose tags a request with the pipeline step that issued it.
type Purpose string

const (
	PurposeExpansion  Purpose = "expansion"
	PurposeAnswer     Purpose = "answer"
	PurposeSuggestion Purpose = "suggestion"
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a chat completion request.
type Request struct {
	Purpose     Purpose
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Stream is a finite, non-restartable sequence of text increments. Recv
// returns io.EOF after the last increment. Close releases the upstream
// connection and may be called at any time.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Generator is a chat model.
type Generator interface {
	Complete(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request) (Stream, error)
}

// New creates the generator configured by cfg.
func New(cfg *config.GenerationConfig, logger *zap.Logger) (Generator, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIClient(OpenAIConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Credentials: provider.Credentials{
				Explicit: cfg.APIKey,
				EnvVar:   cfg.APIKeyEnv,
			},
			MaxTokens:         cfg.MaxTokens,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}, WithLogger(logger)), nil
	default:
		return nil, fmt.Errorf("unknown generation provider: %s (supported: openai)", cfg.Provider)
	}
}
