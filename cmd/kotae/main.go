// Package main is the kotae CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/documents"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/rag"
	"github.com/hyperjump/kotae/internal/scope"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kotae/config.yaml"

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	debug      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "kotae",
		Short: "Answer questions about a portfolio from its own documents",
		Long: `kotae indexes a portfolio (CV, bio, project write-ups) per scope and answers
questions about it with citations, using retrieval-augmented generation.

Scopes are "global" (every portfolio document) or a project id, which is
answered only from <projects_dir>/<id>.<ext>.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env is normal; the environment may already hold the keys.
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "config file path")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newInitCmd(opts),
		newServeCmd(opts),
		newAskCmd(opts),
		newIndexCmd(opts),
		newStatusCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kotae version %s\n", version)
		},
	}
}

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// Components holds initialized services.
type Components struct {
	Store     *storage.SQLiteEmbeddingStore
	Embedder  *embedding.CachedEmbedder
	Vectors   vector.Factory
	Documents *documents.Store
	Registry  *scope.Registry
	Engine    *rag.Engine
	Metrics   *metrics.Metrics
}

// Close releases components in reverse order of creation.
func (c *Components) Close() {
	if c.Registry != nil {
		_ = c.Registry.Close()
	}
	if c.Vectors != nil {
		_ = c.Vectors.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{Metrics: metrics.New()}

	store, err := storage.NewSQLiteEmbeddingStore(cfg.Storage.EmbeddingCachePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding cache: %w", err)
	}
	c.Store = store

	inner, err := embedding.New(&cfg.Embedding, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.Embedder = embedding.NewCachedEmbedder(inner, store, cfg.Embedding.CacheSize, embedding.WithLogger(logger))

	c.Vectors, err = vector.NewFactory(&cfg.Retrieval)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	logger.Info("vector index initialized", zap.String("type", cfg.Retrieval.IndexType))

	gen, err := llm.New(&cfg.Generation, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize generator: %w", err)
	}

	c.Documents = documents.NewStore(cfg.Documents, nil, documents.WithLogger(logger))
	builder := indexer.NewBuilder(c.Embedder, c.Vectors, cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap,
		indexer.WithLogger(logger))
	c.Registry = scope.NewRegistry(c.Documents, builder,
		scope.WithLogger(logger), scope.WithMetrics(c.Metrics))
	c.Engine = rag.NewEngine(c.Registry, c.Embedder, gen, rag.OptionsFromConfig(cfg),
		rag.WithLogger(logger), rag.WithMetrics(c.Metrics))
	return c, nil
}

// pruneStaleEmbeddings drops cached vectors of models other than the current one.
func pruneStaleEmbeddings(ctx context.Context, c *Components, logger *zap.Logger) {
	n, err := c.Store.PruneModels(ctx, c.Embedder.Model())
	if err != nil {
		logger.Warn("embedding cache prune failed", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Info("pruned stale embeddings", zap.Int64("rows", n), zap.String("model", c.Embedder.Model()))
	}
}
