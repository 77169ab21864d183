package rag

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/models"
)

// Suggester proposes follow-up questions a reviewer of the portfolio might ask.
type Suggester struct {
	gen         llm.Generator
	max         int
	temperature float64
	logger      *zap.Logger
}

// NewSuggester returns a suggester producing at most max questions (3 when unset).
func NewSuggester(gen llm.Generator, max int, temperature float64, logger *zap.Logger) *Suggester {
	if max <= 0 {
		max = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Suggester{gen: gen, max: max, temperature: temperature, logger: logger}
}

// Suggest returns up to max follow-up questions. On failure it returns no
// questions and a Suggestion error; the caller shows the answer regardless.
func (s *Suggester) Suggest(ctx context.Context, question, answer, passages string) ([]string, error) {
	reply, err := s.gen.Complete(ctx, llm.Request{
		Purpose: llm.PurposeSuggestion,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: fmt.Sprintf(suggestionPrompt, s.max)},
			{Role: llm.RoleUser, Content: suggestionUserMessage(question, answer, passages)},
		},
		Temperature: s.temperature,
	})
	if err != nil {
		err = models.NewError(models.KindSuggestion, "", err)
		s.logger.Warn("follow-up suggestion failed", zap.Error(err))
		return nil, err
	}
	return parseLines(reply, s.max, question), nil
}
