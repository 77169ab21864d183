package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

type askOptions struct {
	output string
	apiKey string
}

func newAskCmd(root *rootOptions) *cobra.Command {
	opts := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask <scope> <question>",
		Short: "Ask a question about a scope",
		Long: `Ask a question about a scope and stream the answer.

The question is all remaining arguments joined by spaces, so quoting is optional.`,
		Example: `  kotae ask global How many years of Go experience does she have?
  kotae ask shop "Which database does the project use?"
  kotae ask --output json global "What is the latest role?"`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, root, opts, args[0], buildQuestion(args[1:]))
		},
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "text", "output format: text (streamed) or json")
	cmd.Flags().StringVar(&opts.apiKey, "api-key", "", "provider API key for this question (overrides the environment)")
	return cmd
}

// buildQuestion joins positional args so multi-word questions work the same
// with or without shell quoting.
func buildQuestion(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func runAsk(cmd *cobra.Command, root *rootOptions, opts *askOptions, scopeID, question string) error {
	format, err := cli.ParseOutputFormat(opts.output)
	if err != nil {
		return err
	}
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = models.WithAPIKey(ctx, opts.apiKey)

	turn, err := components.Engine.Ask(ctx, scopeID, question)
	if err != nil {
		return err
	}
	defer turn.Close()

	out := cmd.OutOrStdout()
	if format == cli.OutputJSON {
		ex, err := turn.Complete(ctx)
		if err != nil {
			return err
		}
		return cli.WriteExchange(out, ex, format)
	}

	cli.WriteNotices(out, turn.Notices)
	for {
		chunk, err := turn.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		fmt.Fprint(out, chunk)
	}
	fmt.Fprintln(out)
	ex, err := turn.Complete(ctx)
	if err != nil {
		return err
	}
	cli.WriteExchangeFooter(out, ex)
	return nil
}
