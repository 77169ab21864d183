package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/documents"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
)

// apiKeyHeader carries a caller's own provider key for the request.
const apiKeyHeader = "X-API-Key"

// SSE event names of the ask stream, in the order they are sent.
const (
	eventCitations = "citations"
	eventToken     = "token"
	eventDone      = "done"
	eventError     = "error"
)

type askRequest struct {
	Question string `json:"question"`
}

type citationsEvent struct {
	TurnID    string            `json:"turn_id"`
	Scope     string            `json:"scope"`
	Citations []models.Citation `json:"citations"`
	Notices   []string          `json:"notices,omitempty"`
}

type tokenEvent struct {
	Text string `json:"text"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	scopeID := chi.URLParam(r, "scope")
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctx := models.WithAPIKey(r.Context(), r.Header.Get(apiKeyHeader))
	s.logger.Debug("ask request", zap.String("scope", scopeID), zap.Int("question_len", len(req.Question)))

	turn, err := s.engine.Ask(ctx, scopeID, req.Question)
	if err != nil {
		s.respondFailure(w, "ask failed", err)
		return
	}
	// No-op once the turn completed; otherwise the client went away and
	// the answer is dropped.
	defer turn.Close()

	if r.URL.Query().Get("stream") == "false" {
		ex, err := turn.Complete(ctx)
		if err != nil {
			s.respondFailure(w, "ask failed", err)
			return
		}
		s.respondJSON(w, http.StatusOK, ex)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	citations := turn.Citations
	if citations == nil {
		citations = []models.Citation{}
	}
	if err := s.sendEvent(w, flusher, eventCitations, citationsEvent{
		TurnID:    turn.ID,
		Scope:     turn.Scope,
		Citations: citations,
		Notices:   turn.Notices,
	}); err != nil {
		s.logger.Debug("client disconnected", zap.String("turn", turn.ID), zap.Error(err))
		return
	}

	for {
		chunk, err := turn.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Debug("client disconnected", zap.String("turn", turn.ID))
				return
			}
			_ = s.sendEvent(w, flusher, eventError, map[string]string{"error": err.Error()})
			return
		}
		if err := s.sendEvent(w, flusher, eventToken, tokenEvent{Text: chunk}); err != nil {
			s.logger.Debug("client disconnected", zap.String("turn", turn.ID), zap.Error(err))
			return
		}
	}

	ex, err := turn.Complete(ctx)
	if err != nil {
		if ctx.Err() == nil {
			_ = s.sendEvent(w, flusher, eventError, map[string]string{"error": err.Error()})
		}
		return
	}
	_ = s.sendEvent(w, flusher, eventDone, ex)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.engine.Session(chi.URLParam(r, "scope"))
	if err != nil {
		s.respondFailure(w, "session lookup failed", err)
		return
	}
	resp := map[string]interface{}{"scope": sess.Scope(), "exchange": nil}
	if ex, ok := sess.Last(); ok {
		resp["exchange"] = ex
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.engine.Session(chi.URLParam(r, "scope"))
	if err != nil {
		s.respondFailure(w, "session reset failed", err)
		return
	}
	sess.Reset()
	s.respondJSON(w, http.StatusOK, map[string]string{"scope": sess.Scope(), "status": "reset"})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	scopeID := chi.URLParam(r, "scope")
	ctx := models.WithAPIKey(r.Context(), r.Header.Get(apiKeyHeader))
	s.logger.Debug("rebuild request", zap.String("scope", scopeID))
	lease, err := s.scopes.Rebuild(ctx, scopeID)
	if err != nil {
		s.respondFailure(w, "rebuild failed", err)
		return
	}
	defer lease.Release()
	snap := lease.Snapshot
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"scope":       snap.Scope,
		"generation":  snap.Generation,
		"documents":   len(snap.Documents),
		"chunks":      len(snap.Chunks),
		"fingerprint": snap.Fingerprint,
		"built_at":    snap.BuiltAt,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"scopes": s.scopes.Status(),
	}
	if len(s.diskPaths) > 0 {
		if diskBytes, err := storage.DiskUsageBytes(s.diskPaths...); err == nil {
			resp["disk_usage_bytes"] = diskBytes
		} else {
			s.logger.Warn("status: disk usage failed", zap.Error(err))
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, documents.ErrProjectNotFound):
		return http.StatusNotFound
	case models.IsKind(err, models.KindConfiguration):
		return http.StatusUnauthorized
	case models.IsKind(err, models.KindIndexBuild), models.IsKind(err, models.KindEmbedding):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondFailure(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

// sendEvent writes one SSE event with a JSON payload and flushes it.
func (s *Server) sendEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return fmt.Errorf("write %s event: %w", event, err)
	}
	flusher.Flush()
	return nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
