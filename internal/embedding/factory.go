package embedding

import (
	"fmt"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/provider"
	"go.uber.org/zap"
)

// New creates the configured provider. The result is not cached; wrap it with
// NewCachedEmbedder to reuse vectors across builds.
func New(cfg *config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Credentials: provider.Credentials{Explicit: cfg.APIKey, EnvVar: cfg.APIKeyEnv},
			Dimensions:  cfg.Dimensions,
			BatchSize:   cfg.BatchSize,
		}, WithOpenAILogger(logger)), nil
	case "onnx":
		e, err := NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "hash":
		return NewHashEmbedder(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}
