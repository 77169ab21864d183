package rag

import (
	"sync"

	"github.com/hyperjump/kotae/internal/models"
)

// Session is the conversation memory of one scope: only the latest
// exchange is kept, and each completed turn replaces it.
type Session struct {
	scope string

	mu   sync.RWMutex
	last *models.Exchange
}

// Scope returns the session's scope id.
func (s *Session) Scope() string { return s.scope }

// Last returns the most recent completed exchange.
func (s *Session) Last() (*models.Exchange, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.last != nil
}

// Reset forgets the stored exchange.
func (s *Session) Reset() {
	s.mu.Lock()
	s.last = nil
	s.mu.Unlock()
}

// store replaces the exchange unless a newer one is already stored.
func (s *Session) store(ex *models.Exchange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last != nil && s.last.CreatedAt.After(ex.CreatedAt) {
		return
	}
	s.last = ex
}

// sessions holds one Session per scope.
type sessions struct {
	mu      sync.Mutex
	byScope map[string]*Session
}

// lookup returns the session of scope without creating one.
func (s *sessions) lookup(scope string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byScope[scope]
	return sess, ok
}

func (s *sessions) get(scope string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byScope == nil {
		s.byScope = make(map[string]*Session)
	}
	sess, ok := s.byScope[scope]
	if !ok {
		sess = &Session{scope: scope}
		s.byScope[scope] = sess
	}
	return sess
}
