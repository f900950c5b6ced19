package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scrypster/storyforge/internal/usage"
)

// SessionEnder tears a session down and flushes its usage. It reports
// whether the session was live and returns its final ledger, if any.
type SessionEnder interface {
	EndSession(ctx context.Context, sessionID string) (bool, *usage.Snapshot, error)
}

// SessionHandlers serves session lifecycle routes.
type SessionHandlers struct {
	ender  SessionEnder
	logger *zap.Logger
}

// NewSessionHandlers creates the session handlers.
func NewSessionHandlers(ender SessionEnder, logger *zap.Logger) *SessionHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandlers{ender: ender, logger: logger.Named("sessions_api")}
}

// Register mounts the session routes on mux.
func (h *SessionHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("DELETE /api/sessions/{id}", h.EndSession)
}

// EndSession handles DELETE /api/sessions/{id}.
func (h *SessionHandlers) EndSession(w http.ResponseWriter, r *http.Request) {
	if h.ender == nil {
		unavailable(w, "session management")
		return
	}
	id := r.PathValue("id")
	parsed, err := uuid.Parse(id)
	if err != nil {
		respondError(w, http.StatusBadRequest, "session id must be a UUID", err)
		return
	}
	id = parsed.String()

	ended, snap, err := h.ender.EndSession(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to end session", err)
		return
	}
	if !ended {
		respondError(w, http.StatusNotFound, "session not found", nil)
		return
	}
	h.logger.Debug("session ended over http", zap.String("session_id", id))
	respondJSON(w, http.StatusOK, EndSessionResponse{SessionID: id, Usage: snap})
}
