package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/mcdev12/watchsync/go/internal/broadcast"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for session connections
type WebSocketHandler struct {
	connectionManager *ConnectionManager
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
	}
}

// HandleSessionConnection handles WebSocket connections for a watch session
func (h *WebSocketHandler) HandleSessionConnection(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}
	if err := broadcast.ValidateSessionID(sessionID); err != nil {
		http.Error(w, "invalid session_id format", http.StatusBadRequest)
		return
	}

	// Anonymous viewers get a fresh participant ID per connection
	participantID := r.URL.Query().Get("participant_id")
	if participantID == "" {
		participantID = uuid.New().String()
	}

	if err := h.connectionManager.UpgradeConnection(w, r, participantID, sessionID); err != nil {
		// Upgrade has already replied to the client
		log.Error().
			Err(err).
			Str("session_id", sessionID).
			Str("participant_id", participantID).
			Msg("failed to upgrade WebSocket connection")
		return
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	stats := h.connectionManager.GetConnectionStats()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/session", h.HandleSessionConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}
