// Package scope maps scope ids to their current index snapshot, building
// snapshots lazily and swapping them atomically when sources change.
package scope

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/kotae/internal/documents"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/models"
)

// Source resolves the documents of a scope.
type Source interface {
	Fingerprint(ctx context.Context, scope string) (string, error)
	Load(ctx context.Context, scope string) ([]*models.Document, string, error)
}

// Builder turns documents into a snapshot.
type Builder interface {
	Build(ctx context.Context, scope string, docs []*models.Document, fingerprint string, generation uint64) (*indexer.Snapshot, error)
}

// Registry owns one snapshot slot per scope. Readers never block on builds:
// they hold a Lease on whichever snapshot was published when they asked.
type Registry struct {
	source       Source
	builder      Builder
	logger       *zap.Logger
	metrics      *metrics.Metrics
	buildTimeout time.Duration

	mu     sync.Mutex
	scopes map[string]*slot

	group      singleflight.Group
	generation atomic.Uint64
	closed     atomic.Bool
}

type slot struct {
	current atomic.Pointer[handle]
}

// handle reference-counts a snapshot so a retired one is closed only after
// its last reader releases it.
type handle struct {
	snap    *indexer.Snapshot
	refs    atomic.Int64
	retired atomic.Bool
	once    sync.Once
}

func (h *handle) release() {
	if h.refs.Add(-1) == 0 && h.retired.Load() {
		h.close()
	}
}

func (h *handle) retire() {
	h.retired.Store(true)
	if h.refs.Load() == 0 {
		h.close()
	}
}

func (h *handle) close() {
	h.once.Do(func() { _ = h.snap.Close() })
}

// Lease pins a snapshot for the duration of one request.
type Lease struct {
	Snapshot *indexer.Snapshot
	h        *handle
	once     sync.Once
}

// Release unpins the snapshot. It is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(l.h.release)
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets a logger for build and swap events.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics records builds on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithBuildTimeout bounds a single build. Builds outlive the request that
// started them, so this is their only deadline.
func WithBuildTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.buildTimeout = d
		}
	}
}

// NewRegistry creates an empty registry; scopes are built on first use.
func NewRegistry(source Source, builder Builder, opts ...Option) *Registry {
	r := &Registry{
		source:       source,
		builder:      builder,
		logger:       zap.NewNop(),
		buildTimeout: 10 * time.Minute,
		scopes:       make(map[string]*slot),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) slot(scope string) *slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scopes[scope]
	if !ok {
		s = &slot{}
		r.scopes[scope] = s
	}
	return s
}

// acquire pins the slot's current snapshot, or returns nil when there is none.
func (s *slot) acquire() *handle {
	for {
		h := s.current.Load()
		if h == nil {
			return nil
		}
		h.refs.Add(1)
		if s.current.Load() == h {
			return h
		}
		h.release()
	}
}

// Acquire returns a lease on an up-to-date snapshot of scope, building it if
// the scope is new or its source fingerprint changed. When a rebuild fails
// the previous snapshot is served and the failure is only logged.
func (r *Registry) Acquire(ctx context.Context, scope string) (*Lease, error) {
	if err := models.ValidateScopeID(scope); err != nil {
		return nil, models.NewError(models.KindDocumentLoad, scope, err)
	}
	s := r.slot(scope)

	fp, err := r.source.Fingerprint(ctx, scope)
	if err != nil {
		if errors.Is(err, documents.ErrProjectNotFound) {
			r.drop(scope, s)
		}
		return nil, err
	}
	// builds numbered up to seen may have loaded sources older than fp
	seen := r.generation.Load()
	if h := s.acquire(); h != nil {
		if h.snap.Fingerprint == fp {
			return &Lease{Snapshot: h.snap, h: h}, nil
		}
		h.release()
	}
	return r.build(ctx, scope, s, fp, seen)
}

// Rebuild forces a fresh build of scope even when its sources are unchanged.
func (r *Registry) Rebuild(ctx context.Context, scope string) (*Lease, error) {
	if err := models.ValidateScopeID(scope); err != nil {
		return nil, models.NewError(models.KindDocumentLoad, scope, err)
	}
	return r.build(ctx, scope, r.slot(scope), "", r.generation.Load())
}

// Warm makes sure scope has a current snapshot without holding on to it.
func (r *Registry) Warm(ctx context.Context, scope string) error {
	lease, err := r.Acquire(ctx, scope)
	if err != nil {
		return err
	}
	lease.Release()
	return nil
}

type buildResult struct {
	err error
}

// build runs at most one build per scope at a time. The build is detached from
// the caller's cancellation so a departing request does not fail the callers
// that joined it; each caller still stops waiting when its own context ends.
//
// A caller accepts the published snapshot when it was built from fp or was
// started after generation seen. Joining a build that loaded its sources
// before the caller looked would hand out stale content, so such a caller
// waits for that build and then starts a new one.
func (r *Registry) build(ctx context.Context, scope string, s *slot, fp string, seen uint64) (*Lease, error) {
	for attempt := 0; ; attempt++ {
		if r.closed.Load() {
			return nil, models.NewError(models.KindIndexBuild, scope, errRegistryClosed)
		}
		ch := r.group.DoChan(scope, func() (interface{}, error) {
			bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.buildTimeout)
			defer cancel()
			return buildResult{err: r.buildAndPublish(bctx, scope, s)}, nil
		})
		var res singleflight.Result
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res = <-ch:
		}

		buildErr := res.Val.(buildResult).err
		var gone *sourceError
		if errors.As(buildErr, &gone) {
			return nil, gone.err
		}
		h := s.acquire()
		if h == nil {
			if buildErr == nil {
				buildErr = models.NewError(models.KindIndexBuild, scope, errors.New("no snapshot published"))
			}
			return nil, buildErr
		}
		if buildErr != nil {
			r.logger.Warn("index rebuild failed; serving previous snapshot",
				zap.String("scope", scope), zap.Uint64("generation", h.snap.Generation), zap.Error(buildErr))
			return &Lease{Snapshot: h.snap, h: h}, nil
		}
		fresh := h.snap.Generation > seen || (fp != "" && h.snap.Fingerprint == fp)
		if fresh || attempt >= maxBuildAttempts {
			return &Lease{Snapshot: h.snap, h: h}, nil
		}
		r.logger.Debug("joined build predates source change; building again",
			zap.String("scope", scope), zap.Uint64("generation", h.snap.Generation))
		h.release()
	}
}

// maxBuildAttempts bounds how often one caller restarts a build after
// joining a stale one. Two suffice unless sources keep changing.
const maxBuildAttempts = 3

var errRegistryClosed = errors.New("scope registry is closed")

func (r *Registry) buildAndPublish(ctx context.Context, scope string, s *slot) error {
	start := time.Now()
	generation := r.generation.Add(1)

	docs, fp, err := r.source.Load(ctx, scope)
	if err != nil {
		r.metrics.ObserveBuild(scope, time.Since(start), err)
		if errors.Is(err, documents.ErrProjectNotFound) {
			// a scope whose files vanished must not keep answering
			r.drop(scope, s)
			return &sourceError{err: err}
		}
		return err
	}
	snap, err := r.builder.Build(ctx, scope, docs, fp, generation)
	r.metrics.ObserveBuild(scope, time.Since(start), err)
	if err != nil {
		return err
	}
	r.publish(scope, s, &handle{snap: snap})
	return nil
}

// publish installs h unless a newer generation is already live or the
// registry was closed meanwhile.
func (r *Registry) publish(scope string, s *slot, h *handle) {
	if r.closed.Load() {
		h.retire()
		return
	}
	for {
		old := s.current.Load()
		if old != nil && old.snap.Generation > h.snap.Generation {
			r.logger.Debug("discarding stale build",
				zap.String("scope", scope),
				zap.Uint64("generation", h.snap.Generation),
				zap.Uint64("live_generation", old.snap.Generation))
			h.retire()
			return
		}
		if s.current.CompareAndSwap(old, h) {
			if old != nil {
				old.retire()
			}
			// Close may have swept the slots between the check above and the swap
			if r.closed.Load() {
				if s.current.CompareAndSwap(h, nil) {
					h.retire()
				}
				return
			}
			r.logger.Info("scope snapshot published",
				zap.String("scope", scope),
				zap.Uint64("generation", h.snap.Generation),
				zap.Int("documents", len(h.snap.Documents)),
				zap.Int("chunks", len(h.snap.Chunks)))
			r.metrics.SetLiveScopes(r.liveCount())
			return
		}
	}
}

func (r *Registry) drop(scope string, s *slot) {
	if old := s.current.Swap(nil); old != nil {
		r.logger.Info("scope dropped", zap.String("scope", scope))
		old.retire()
		r.metrics.SetLiveScopes(r.liveCount())
	}
}

// sourceError marks a load failure that also removed the scope's snapshot.
type sourceError struct{ err error }

func (e *sourceError) Error() string { return e.err.Error() }
func (e *sourceError) Unwrap() error { return e.err }

// Invalidate drops scope's snapshot if its sources changed and rebuilds it in
// the background. Used by the file watcher.
func (r *Registry) Invalidate(ctx context.Context, scope string) {
	go func() {
		if err := r.Warm(ctx, scope); err != nil {
			r.logger.Warn("background rebuild failed", zap.String("scope", scope), zap.Error(err))
		}
	}()
}

// Status describes a published snapshot.
type Status struct {
	Scope          string    `json:"scope"`
	Documents      []string  `json:"documents"`
	Chunks         int       `json:"chunks"`
	Fingerprint    string    `json:"fingerprint"`
	Generation     uint64    `json:"generation"`
	EmbeddingModel string    `json:"embedding_model"`
	BuiltAt        time.Time `json:"built_at"`
}

// Status lists every scope with a live snapshot, sorted by scope id.
func (r *Registry) Status() []Status {
	r.mu.Lock()
	slots := make(map[string]*slot, len(r.scopes))
	for id, s := range r.scopes {
		slots[id] = s
	}
	r.mu.Unlock()

	out := make([]Status, 0, len(slots))
	for id, s := range slots {
		h := s.acquire()
		if h == nil {
			continue
		}
		names := make([]string, len(h.snap.Documents))
		for i, d := range h.snap.Documents {
			names[i] = d.Name
		}
		out = append(out, Status{
			Scope:          id,
			Documents:      names,
			Chunks:         len(h.snap.Chunks),
			Fingerprint:    h.snap.Fingerprint,
			Generation:     h.snap.Generation,
			EmbeddingModel: h.snap.EmbeddingModel,
			BuiltAt:        h.snap.BuiltAt,
		})
		h.release()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope < out[j].Scope })
	return out
}

func (r *Registry) liveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.scopes {
		if s.current.Load() != nil {
			n++
		}
	}
	return n
}

// Close retires every snapshot. Outstanding leases keep theirs open until
// released; builds still running retire their result instead of publishing it.
func (r *Registry) Close() error {
	r.closed.Store(true)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.scopes {
		if old := s.current.Swap(nil); old != nil {
			old.retire()
		}
	}
	return nil
}
