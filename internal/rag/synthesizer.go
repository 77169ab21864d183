package rag

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/models"
)

// Synthesizer streams an answer grounded in an assembled context.
type Synthesizer struct {
	gen         llm.Generator
	temperature float64
	maxTokens   int
	logger      *zap.Logger
}

// NewSynthesizer returns a synthesizer using gen.
func NewSynthesizer(gen llm.Generator, temperature float64, maxTokens int, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{gen: gen, temperature: temperature, maxTokens: maxTokens, logger: logger}
}

// Synthesize starts answering question from a. An empty context yields the
// fixed decline without calling the model. Only a configuration problem is
// returned as an error; any other failure to start becomes a failed stream.
func (s *Synthesizer) Synthesize(ctx context.Context, scope, question string, a *Assembled) (*AnswerStream, error) {
	if a.Empty() {
		return &AnswerStream{scope: scope, pending: []string{DeclineMessage}, declined: true}, nil
	}
	upstream, err := s.gen.Stream(ctx, llm.Request{
		Purpose: llm.PurposeAnswer,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: answerPrompt},
			{Role: llm.RoleUser, Content: answerUserMessage(question, a.Context)},
		},
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		if models.IsKind(err, models.KindConfiguration) || ctx.Err() != nil {
			return nil, err
		}
		as := &AnswerStream{scope: scope, logger: s.logger}
		as.fail(err)
		return as, nil
	}
	return &AnswerStream{scope: scope, upstream: upstream, logger: s.logger}, nil
}

// AnswerStream yields answer increments. When the model fails mid-answer the
// text already produced is kept and FailureNotice follows as the last
// increment; Err then reports the Synthesis error.
type AnswerStream struct {
	scope    string
	upstream llm.Stream
	logger   *zap.Logger

	mu       sync.Mutex
	text     strings.Builder
	pending  []string
	done     bool
	closed   bool
	declined bool
	err      error
}

// Recv returns the next increment, or io.EOF once the answer is complete.
// It must not be called concurrently with itself; Close may be called from
// another goroutine and interrupts a blocked Recv.
func (s *AnswerStream) Recv() (string, error) {
	s.mu.Lock()
	if len(s.pending) > 0 {
		chunk := s.pending[0]
		s.pending = s.pending[1:]
		s.text.WriteString(chunk)
		s.mu.Unlock()
		return chunk, nil
	}
	if s.done || s.upstream == nil {
		s.done = true
		s.mu.Unlock()
		return "", io.EOF
	}
	upstream := s.upstream
	s.mu.Unlock()

	chunk, err := upstream.Recv()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", io.EOF
	}
	if err == nil {
		s.text.WriteString(chunk)
		return chunk, nil
	}
	_ = s.upstream.Close()
	if errors.Is(err, io.EOF) {
		s.done = true
		return "", io.EOF
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.done = true
		s.err = err
		return "", err
	}
	s.fail(err)
	chunk = s.pending[0]
	s.pending = s.pending[1:]
	s.text.WriteString(chunk)
	return chunk, nil
}

// fail queues the notice and records the error; callers hold mu or own s.
func (s *AnswerStream) fail(err error) {
	s.err = models.NewError(models.KindSynthesis, s.scope, err)
	s.pending = append(s.pending, FailureNotice)
	s.done = true
	if s.logger != nil {
		s.logger.Warn("answer generation failed", zap.String("scope", s.scope), zap.Error(err))
	}
}

// Close releases the upstream connection. Unread increments are discarded.
func (s *AnswerStream) Close() error {
	s.mu.Lock()
	s.done = true
	s.closed = true
	s.pending = nil
	upstream := s.upstream
	s.mu.Unlock()
	if upstream != nil {
		return upstream.Close()
	}
	return nil
}

// Text returns everything received so far.
func (s *AnswerStream) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

// Err returns the failure that ended the stream, if any.
func (s *AnswerStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Failed reports whether generation broke off.
func (s *AnswerStream) Failed() bool { return s.Err() != nil }

// Declined reports whether the fixed decline was given instead of a model answer.
func (s *AnswerStream) Declined() bool { return s.declined }
