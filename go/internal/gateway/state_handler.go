package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcdev12/watchsync/go/internal/broadcast"
	"github.com/mcdev12/watchsync/go/internal/playback"
	"github.com/rs/zerolog/log"
)

// StateProvider interface defines methods for retrieving session state
type StateProvider interface {
	GetSessionState(ctx context.Context, sessionID string) (*playback.Snapshot, error)
	GetActiveSessions(ctx context.Context) ([]SessionSummary, error)
}

// SessionSummary represents a summary of an active session
type SessionSummary struct {
	SessionID    string `json:"session_id"`
	MediaRef     string `json:"media_ref,omitempty"`
	Paused       bool   `json:"paused"`
	Ended        bool   `json:"ended"`
	Participants int    `json:"participants"`
	Connections  int    `json:"connections"`
}

// StateHandler handles HTTP requests for session state
type StateHandler struct {
	stateProvider StateProvider
}

// NewStateHandler creates a new state handler
func NewStateHandler(provider StateProvider) *StateHandler {
	return &StateHandler{
		stateProvider: provider,
	}
}

// HandleGetSessionState handles GET /api/sessions/{id}/state
func (h *StateHandler) HandleGetSessionState(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if err := broadcast.ValidateSessionID(sessionID); err != nil {
		http.Error(w, "Invalid session ID format", http.StatusBadRequest)
		return
	}

	state, err := h.stateProvider.GetSessionState(r.Context(), sessionID)
	if errors.Is(err, ErrSessionNotActive) {
		http.Error(w, "Session not active", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to get session state")
		http.Error(w, "Failed to get session state", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(state); err != nil {
		log.Error().Err(err).Msg("failed to encode session state response")
	}
}

// HandleGetActiveSessions handles GET /api/sessions/active
func (h *StateHandler) HandleGetActiveSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.stateProvider.GetActiveSessions(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to get active sessions")
		http.Error(w, "Failed to get active sessions", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(sessions); err != nil {
		log.Error().Err(err).Msg("failed to encode active sessions response")
	}
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions/active", h.HandleGetActiveSessions)
	mux.HandleFunc("GET /api/sessions/{id}/state", h.HandleGetSessionState)
}
