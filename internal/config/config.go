// Package config provides configuration loading and structs for the kotae server and CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Documents  DocumentsConfig  `yaml:"documents"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Watch      WatchConfig      `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig holds paths for persisted state.
type StorageConfig struct {
	// EmbeddingCachePath is the sqlite database holding computed embeddings.
	EmbeddingCachePath string `yaml:"embedding_cache_path"`
}

// DocumentsConfig describes where each scope's source files live.
type DocumentsConfig struct {
	// Global holds doublestar patterns; every match belongs to the global scope.
	Global      []string `yaml:"global"`
	ProjectsDir string   `yaml:"projects_dir"`
	// Extensions are tried in order when resolving <projects_dir>/<id><ext>.
	Extensions []string `yaml:"extensions"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // openai, onnx, hash
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	APIKeyEnv  string `yaml:"api_key_env"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
	ModelPath  string `yaml:"model_path"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
}

// GenerationConfig holds chat model settings shared by expansion, synthesis and suggestion.
type GenerationConfig struct {
	Provider              string        `yaml:"provider"` // openai
	Model                 string        `yaml:"model"`
	BaseURL               string        `yaml:"base_url"`
	APIKey                string        `yaml:"api_key"`
	APIKeyEnv             string        `yaml:"api_key_env"`
	AnswerTemperature     float64       `yaml:"answer_temperature"`
	ExpansionTemperature  float64       `yaml:"expansion_temperature"`
	SuggestionTemperature float64       `yaml:"suggestion_temperature"`
	MaxTokens             int           `yaml:"max_tokens"`
	RequestsPerSecond     float64       `yaml:"requests_per_second"`
	Timeout               time.Duration `yaml:"timeout"`
}

// RetrievalConfig holds chunking, retrieval, and context settings.
type RetrievalConfig struct {
	ChunkSize          int          `yaml:"chunk_size"`
	ChunkOverlap       int          `yaml:"chunk_overlap"`
	QueryVariants      int          `yaml:"query_variants"`
	TopK               int          `yaml:"top_k"`
	CandidatesPerQuery int          `yaml:"candidates_per_query"`
	ContextBudget      int          `yaml:"context_budget"`
	ExcerptLength      int          `yaml:"excerpt_length"`
	FollowUps          int          `yaml:"follow_ups"`
	IndexType          string       `yaml:"index_type"` // memory, qdrant
	Qdrant             QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig holds connection settings for the qdrant vector backend.
type QdrantConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	APIKey           string `yaml:"api_key"`
	UseTLS           bool   `yaml:"use_tls"`
	CollectionPrefix string `yaml:"collection_prefix"`
}

// WatchConfig holds document watch settings.
type WatchConfig struct {
	Enabled  *bool         `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// EnabledOrDefault returns whether to watch document sources; defaults to true when unset.
func (w *WatchConfig) EnabledOrDefault() bool {
	if w.Enabled != nil {
		return *w.Enabled
	}
	return true
}

// ResolveAPIKey returns the explicit key if set, otherwise the value of envName.
func ResolveAPIKey(explicit, envName string) string {
	if explicit != "" {
		return explicit
	}
	if envName == "" {
		return ""
	}
	return os.Getenv(envName)
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Storage.EmbeddingCachePath = expandPath(cfg.Storage.EmbeddingCachePath, configDir)
	cfg.Documents.ProjectsDir = expandPath(cfg.Documents.ProjectsDir, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	for i := range cfg.Documents.Global {
		cfg.Documents.Global[i] = expandPath(cfg.Documents.Global[i], configDir)
	}

	return &cfg, nil
}

// Validate rejects settings that would make the pipeline misbehave.
func Validate(cfg *Config) error {
	r := cfg.Retrieval
	if r.ChunkOverlap >= r.ChunkSize {
		return fmt.Errorf("retrieval.chunk_overlap (%d) must be smaller than chunk_size (%d)", r.ChunkOverlap, r.ChunkSize)
	}
	switch cfg.Embedding.Provider {
	case "openai", "onnx", "hash":
	default:
		return fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
	switch r.IndexType {
	case "memory", "qdrant":
	default:
		return fmt.Errorf("unknown retrieval.index_type %q", r.IndexType)
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// "~/" paths are relative to the home directory; other relative paths are left alone.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
