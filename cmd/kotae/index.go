package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

func newIndexCmd(root *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "index [scope]",
		Short: "Build a scope's index (default: global)",
		Long: `Load, chunk and embed a scope's documents. Embeddings are cached on disk,
so indexing again only embeds text that changed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scopeID := models.GlobalScope
			if len(args) == 1 {
				scopeID = args[0]
			}
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			return runIndex(cmd, root, scopeID, format)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	return cmd
}

func runIndex(cmd *cobra.Command, root *rootOptions, scopeID string, format cli.OutputFormat) error {
	cfg, _, err := loadConfig(root.configPath)
	if err != nil {
		return err
	}
	logger, err := utils.NewCLILogger(cfg.Debug || root.debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	ctx := context.Background()
	pruneStaleEmbeddings(ctx, components, logger)

	start := time.Now()
	lease, err := components.Registry.Rebuild(ctx, scopeID)
	if err != nil {
		return err
	}
	lease.Release()

	if err := cli.WriteStatus(cmd.OutOrStdout(), components.Registry.Status(), format); err != nil {
		return err
	}
	if format == cli.OutputText {
		cached, _ := components.Store.CountEmbeddings(ctx, components.Embedder.Model())
		fmt.Fprintf(cmd.OutOrStdout(), "\nIndexed %s in %s (%d cached embeddings)\n", scopeID, time.Since(start).Round(time.Millisecond), cached)
	}
	return nil
}
