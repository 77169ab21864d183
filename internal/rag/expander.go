package rag

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/models"
)

// Expander generates paraphrases of a question for multi-query retrieval.
type Expander struct {
	gen         llm.Generator
	variants    int
	temperature float64
	logger      *zap.Logger
}

// NewExpander returns an expander producing at most variants queries in
// total, the original included. variants <= 1 disables expansion.
func NewExpander(gen llm.Generator, variants int, temperature float64, logger *zap.Logger) *Expander {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Expander{gen: gen, variants: variants, temperature: temperature, logger: logger}
}

// Expand returns the original question followed by up to variants-1
// distinct paraphrases. It always returns a usable list; a non-nil error is
// an Expansion error explaining why the list is just the question.
func (e *Expander) Expand(ctx context.Context, question string) ([]string, error) {
	queries := []string{question}
	if e.variants <= 1 || e.gen == nil {
		return queries, nil
	}
	reply, err := e.gen.Complete(ctx, llm.Request{
		Purpose: llm.PurposeExpansion,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: fmt.Sprintf(expansionPrompt, e.variants-1)},
			{Role: llm.RoleUser, Content: question},
		},
		Temperature: e.temperature,
	})
	if err != nil {
		if ctx.Err() != nil {
			return queries, ctx.Err()
		}
		return queries, e.fail(fmt.Errorf("generate variants: %w", err))
	}
	variants := parseLines(reply, e.variants-1, question)
	if len(variants) == 0 {
		return queries, e.fail(fmt.Errorf("model returned no usable variants"))
	}
	e.logger.Debug("question expanded", zap.Strings("variants", variants))
	return append(queries, variants...), nil
}

func (e *Expander) fail(err error) error {
	err = models.NewError(models.KindExpansion, "", err)
	e.logger.Warn("query expansion failed; using the original question only", zap.Error(err))
	return err
}
