package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/watchsync/go/internal/metrics"
	"github.com/rs/zerolog/log"
)

// ConnectionHandler reacts to connection lifecycle and client frames.
type ConnectionHandler interface {
	OnConnect(ctx context.Context, c *Connection) error
	OnMessage(c *Connection, data []byte)
	OnDisconnect(c *Connection)
}

// ConnectionManager manages WebSocket connections for watch sessions
type ConnectionManager struct {
	// Connection pools organized by session ID
	sessionConnections map[string]map[*Connection]bool
	mu                 sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	handler  ConnectionHandler
	metrics  metrics.MetricsCollector

	broadcastCh chan BroadcastMessage
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID            string
	ParticipantID string
	SessionID     string
	Conn          *websocket.Conn
	Send          chan []byte
	Manager       *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
	SendBufferSize  int           `yaml:"send_buffer_size"`

	CheckOrigin func(r *http.Request) bool `yaml:"-"`
}

// BroadcastMessage represents a message to broadcast to connections
type BroadcastMessage struct {
	SessionID string // empty: every connection on the gateway
	Message   *ServerMessage
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, m metrics.MetricsCollector) *ConnectionManager {
	if m == nil {
		m = &metrics.NoOpMetricsCollector{}
	}
	return &ConnectionManager{
		sessionConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		metrics:     m,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// SetHandler installs the lifecycle handler. It must be called before the
// first connection is upgraded.
func (cm *ConnectionManager) SetHandler(h ConnectionHandler) {
	cm.handler = h
}

// Start begins processing broadcast messages
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and hands it to
// the handler. A handler error closes the socket again.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, participantID, sessionID string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	now := time.Now()
	connection := &Connection{
		ID:            uuid.New().String(),
		ParticipantID: participantID,
		SessionID:     sessionID,
		Conn:          conn,
		Send:          make(chan []byte, cm.config.SendBufferSize),
		Manager:       cm,
		ConnectedAt:   now,
		LastPing:      now,
	}

	cm.registerConnection(connection)
	go connection.writePump()

	if cm.handler != nil {
		if err := cm.handler.OnConnect(r.Context(), connection); err != nil {
			log.Error().
				Err(err).
				Str("connection_id", connection.ID).
				Str("session_id", sessionID).
				Msg("connection rejected by handler")
			connection.SendMessage(&ServerMessage{Type: MessageTypeError, SessionID: sessionID, Error: err.Error()})
			cm.unregister(connection, false)
			return nil
		}
	}

	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("participant_id", participantID).
		Str("session_id", sessionID).
		Msg("WebSocket connection established")
	return nil
}

// registerConnection adds a connection to the manager
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	if cm.sessionConnections[conn.SessionID] == nil {
		cm.sessionConnections[conn.SessionID] = make(map[*Connection]bool)
	}
	cm.sessionConnections[conn.SessionID][conn] = true
	total := cm.totalLocked()
	cm.mu.Unlock()

	cm.metrics.RecordConnections(total)
	log.Debug().
		Str("connection_id", conn.ID).
		Str("session_id", conn.SessionID).
		Int("total_connections", total).
		Msg("connection registered")
}

// unregisterConnection removes a connection from the manager. The handler
// sees each connection leave exactly once.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.unregister(conn, true)
}

func (cm *ConnectionManager) unregister(conn *Connection, notify bool) {
	cm.mu.Lock()
	connections, exists := cm.sessionConnections[conn.SessionID]
	if !exists || !connections[conn] {
		cm.mu.Unlock()
		return
	}
	delete(connections, conn)
	close(conn.Send)
	if len(connections) == 0 {
		delete(cm.sessionConnections, conn.SessionID)
	}
	total := cm.totalLocked()
	cm.mu.Unlock()

	cm.metrics.RecordConnections(total)
	log.Info().
		Str("connection_id", conn.ID).
		Str("participant_id", conn.ParticipantID).
		Str("session_id", conn.SessionID).
		Msg("connection unregistered")

	if notify && cm.handler != nil {
		cm.handler.OnDisconnect(conn)
	}
}

func (cm *ConnectionManager) totalLocked() int {
	total := 0
	for _, connections := range cm.sessionConnections {
		total += len(connections)
	}
	return total
}

// BroadcastToSession sends a message to all connections of a session
func (cm *ConnectionManager) BroadcastToSession(sessionID string, msg *ServerMessage) {
	select {
	case cm.broadcastCh <- BroadcastMessage{SessionID: sessionID, Message: msg}:
	default:
		log.Warn().Str("session_id", sessionID).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastToAll sends a message to every connection on the gateway
func (cm *ConnectionManager) BroadcastToAll(msg *ServerMessage) {
	select {
	case cm.broadcastCh <- BroadcastMessage{Message: msg}:
	default:
		log.Warn().Msg("broadcast channel full, dropping message")
	}
}

// handleBroadcast processes a broadcast message
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	// snapshot targets so the lock is not held while sending
	var targets []*Connection
	cm.mu.RLock()
	for sessionID, connections := range cm.sessionConnections {
		if message.SessionID != "" && sessionID != message.SessionID {
			continue
		}
		for conn := range connections {
			targets = append(targets, conn)
		}
	}
	cm.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(message.Message)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal message for broadcast")
		return
	}

	for _, conn := range targets {
		if !conn.trySend(data) {
			log.Warn().
				Str("connection_id", conn.ID).
				Str("participant_id", conn.ParticipantID).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("type", string(message.Message.Type)).
		Str("session_id", message.SessionID).
		Int("connections", len(targets)).
		Msg("message broadcasted")
}

// ConnectionStats summarises active connections
type ConnectionStats struct {
	TotalConnections   int            `json:"total_connections"`
	ActiveSessions     int            `json:"active_sessions"`
	SessionConnections map[string]int `json:"session_connections"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		ActiveSessions:     len(cm.sessionConnections),
		SessionConnections: make(map[string]int, len(cm.sessionConnections)),
	}
	for sessionID, connections := range cm.sessionConnections {
		stats.TotalConnections += len(connections)
		stats.SessionConnections[sessionID] = len(connections)
	}
	return stats
}

// SendMessage queues a message for this connection only.
func (c *Connection) SendMessage(msg *ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal message")
		return
	}
	if !c.trySend(data) {
		log.Warn().Str("connection_id", c.ID).Msg("dropping message for slow connection")
	}
}

// trySend reports false when the buffer is full. Sends racing with
// unregisterConnection closing the channel are dropped.
func (c *Connection) trySend(data []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = true
		}
	}()
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		if c.Manager.handler != nil {
			c.Manager.handler.OnMessage(c, message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
