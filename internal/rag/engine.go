// Package rag answers questions about a scope's documents: it expands the
// question, retrieves and assembles passages, streams a grounded answer and
// suggests follow-ups.
package rag

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/scope"
)

// Snapshots hands out leases on up-to-date scope snapshots.
type Snapshots interface {
	Acquire(ctx context.Context, scope string) (*scope.Lease, error)
}

// Options tunes the pipeline.
type Options struct {
	QueryVariants         int
	TopK                  int
	CandidatesPerQuery    int
	ContextBudget         int
	ExcerptLength         int
	FollowUps             int
	AnswerTemperature     float64
	ExpansionTemperature  float64
	SuggestionTemperature float64
	MaxTokens             int
}

// DefaultOptions returns the stock pipeline settings.
func DefaultOptions() Options {
	return Options{
		QueryVariants:         4,
		TopK:                  5,
		CandidatesPerQuery:    10,
		ContextBudget:         6000,
		ExcerptLength:         240,
		FollowUps:             3,
		ExpansionTemperature:  0.7,
		SuggestionTemperature: 0.7,
		MaxTokens:             1024,
	}
}

// OptionsFromConfig maps the retrieval and generation config sections.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		QueryVariants:         cfg.Retrieval.QueryVariants,
		TopK:                  cfg.Retrieval.TopK,
		CandidatesPerQuery:    cfg.Retrieval.CandidatesPerQuery,
		ContextBudget:         cfg.Retrieval.ContextBudget,
		ExcerptLength:         cfg.Retrieval.ExcerptLength,
		FollowUps:             cfg.Retrieval.FollowUps,
		AnswerTemperature:     cfg.Generation.AnswerTemperature,
		ExpansionTemperature:  cfg.Generation.ExpansionTemperature,
		SuggestionTemperature: cfg.Generation.SuggestionTemperature,
		MaxTokens:             cfg.Generation.MaxTokens,
	}
}

// Engine runs the question-answering pipeline over a set of scopes.
type Engine struct {
	snapshots   Snapshots
	expander    *Expander
	retriever   *Retriever
	assembler   *Assembler
	synthesizer *Synthesizer
	suggester   *Suggester
	sessions    sessions
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger, shared by all pipeline stages.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records answers and degraded steps on m.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine wires the pipeline. embedder must produce the same model as the
// one the snapshots were built with.
func NewEngine(snapshots Snapshots, embedder embedding.Embedder, gen llm.Generator, opts Options, engineOpts ...EngineOption) *Engine {
	e := &Engine{snapshots: snapshots, logger: zap.NewNop()}
	for _, opt := range engineOpts {
		opt(e)
	}
	e.expander = NewExpander(gen, opts.QueryVariants, opts.ExpansionTemperature, e.logger)
	e.retriever = NewRetriever(embedder, opts.TopK, opts.CandidatesPerQuery, e.logger)
	e.assembler = NewAssembler(opts.ContextBudget, opts.ExcerptLength)
	e.synthesizer = NewSynthesizer(gen, opts.AnswerTemperature, opts.MaxTokens, e.logger)
	e.suggester = NewSuggester(gen, opts.FollowUps, opts.SuggestionTemperature, e.logger)
	return e
}

// Session returns the conversation session of scope. Scopes that were never
// answered get an empty session that is not retained.
func (e *Engine) Session(scopeID string) (*Session, error) {
	if err := models.ValidateScopeID(scopeID); err != nil {
		return nil, err
	}
	if sess, ok := e.sessions.lookup(scopeID); ok {
		return sess, nil
	}
	return &Session{scope: scopeID}, nil
}

// Ask runs the pipeline up to the start of the answer stream. The caller
// reads the answer with Turn.Recv and finishes with Turn.Complete, or
// abandons it with Turn.Close.
func (e *Engine) Ask(ctx context.Context, scopeID, question string) (*Turn, error) {
	req := models.AskRequest{Scope: scopeID, Question: question}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	log := e.logger.With(zap.String("scope", req.Scope))

	lease, err := e.snapshots.Acquire(ctx, req.Scope)
	if err != nil {
		e.metrics.ObserveAnswer(req.Scope, "error", time.Since(start))
		return nil, err
	}
	turn := &Turn{
		ID:       uuid.NewString(),
		Scope:    req.Scope,
		Question: req.Question,
		engine:   e,
		session:  e.sessions.get(req.Scope),
		started:  start,
	}

	queries, err := e.expander.Expand(ctx, req.Question)
	if err != nil {
		if ctx.Err() != nil {
			lease.Release()
			return nil, ctx.Err()
		}
		e.metrics.Degraded(models.KindExpansion)
	}

	retrieval, err := e.retriever.Retrieve(ctx, lease.Snapshot, queries)
	lease.Release()
	if err != nil {
		e.metrics.ObserveAnswer(req.Scope, "error", time.Since(start))
		return nil, err
	}
	if retrieval.Degraded {
		e.metrics.Degraded(models.KindEmbedding)
		turn.Notices = append(turn.Notices, KeywordFallbackNotice)
	}

	turn.assembled = e.assembler.Assemble(retrieval.Results)
	turn.Citations = turn.assembled.Citations
	log.Debug("context assembled",
		zap.Int("queries", len(queries)),
		zap.Int("retrieved", len(retrieval.Results)),
		zap.Int("citations", len(turn.Citations)))

	turn.stream, err = e.synthesizer.Synthesize(ctx, req.Scope, req.Question, turn.assembled)
	if err != nil {
		e.metrics.ObserveAnswer(req.Scope, "error", time.Since(start))
		return nil, err
	}
	return turn, nil
}

// Turn is one question in flight. Citations are known before the first
// answer increment arrives.
type Turn struct {
	ID        string
	Scope     string
	Question  string
	Citations []models.Citation
	Notices   []string

	engine    *Engine
	session   *Session
	assembled *Assembled
	stream    *AnswerStream
	started   time.Time

	mu       sync.Mutex
	exchange *models.Exchange
	closed   bool
}

// Recv returns the next answer increment, io.EOF at the end.
func (t *Turn) Recv() (string, error) {
	return t.stream.Recv()
}

// Complete drains any unread answer, asks for follow-ups when the answer
// finished normally, stores the exchange in the scope session and returns
// it. Calling it again returns the same exchange.
func (t *Turn) Complete(ctx context.Context) (*models.Exchange, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.exchange != nil {
		return t.exchange, nil
	}
	if t.closed {
		return nil, errors.New("turn closed")
	}
	for {
		if err := ctx.Err(); err != nil {
			t.abort()
			return nil, err
		}
		_, err := t.stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.abort()
			return nil, err
		}
	}
	_ = t.stream.Close()

	ex := &models.Exchange{
		ID:        t.ID,
		Scope:     t.Scope,
		Question:  t.Question,
		Answer:    t.stream.Text(),
		Citations: t.Citations,
		FollowUps: []string{},
		Complete:  !t.stream.Failed(),
		Notices:   t.Notices,
		CreatedAt: t.started,
	}
	if ex.Citations == nil {
		ex.Citations = []models.Citation{}
	}
	outcome := "complete"
	switch {
	case t.stream.Failed():
		outcome = "partial"
		t.engine.metrics.Degraded(models.KindSynthesis)
	case t.stream.Declined():
		outcome = "declined"
	default:
		followUps, err := t.engine.suggester.Suggest(ctx, t.Question, ex.Answer, t.assembled.Context)
		if err != nil {
			t.engine.metrics.Degraded(models.KindSuggestion)
		}
		if len(followUps) > 0 {
			ex.FollowUps = followUps
		}
	}
	t.session.store(ex)
	t.exchange = ex
	t.closed = true
	t.engine.metrics.ObserveAnswer(t.Scope, outcome, time.Since(t.started))
	return ex, nil
}

// Close abandons the turn: the answer stream is closed and nothing is stored.
func (t *Turn) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	return t.abort()
}

func (t *Turn) abort() error {
	t.closed = true
	return t.stream.Close()
}
