package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mcdev12/watchsync/go/internal/playback"
	"github.com/mcdev12/watchsync/go/internal/session"
	"github.com/rs/zerolog/log"
)

// ErrSessionNotActive is returned for state requests on rooms with no
// connections on this gateway.
var ErrSessionNotActive = errors.New("session not active on this gateway")

// SessionOpener creates the observer session backing a room.
type SessionOpener func(sessionID string) *session.Session

// Hub bridges WebSocket rooms and watch sessions. Each active room is backed
// by one observer session whose replica events are fanned out to the room.
type Hub struct {
	connections *ConnectionManager
	open        SessionOpener

	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	ready   chan struct{}
	err     error
	session *session.Session
	unsub   func()
	refs    int
}

// NewHub creates a hub and installs it as the connection handler.
func NewHub(cm *ConnectionManager, open SessionOpener) *Hub {
	h := &Hub{
		connections: cm,
		open:        open,
		rooms:       make(map[string]*room),
	}
	cm.SetHandler(h)
	return h
}

// acquire returns the room for sessionID, opening its observer session on
// first use. Concurrent callers wait for the same open.
func (h *Hub) acquire(ctx context.Context, sessionID string) (*room, error) {
	h.mu.Lock()
	r, ok := h.rooms[sessionID]
	if ok {
		r.refs++
		h.mu.Unlock()
		select {
		case <-r.ready:
		case <-ctx.Done():
			h.drop(sessionID, r)
			return nil, ctx.Err()
		}
		if r.err != nil {
			return nil, r.err
		}
		return r, nil
	}

	r = &room{ready: make(chan struct{}), refs: 1}
	h.rooms[sessionID] = r
	h.mu.Unlock()

	s := h.open(sessionID)
	err := s.Open(context.WithoutCancel(ctx))
	if err != nil {
		err = fmt.Errorf("open session %s: %w", sessionID, err)
		h.mu.Lock()
		if h.rooms[sessionID] == r {
			delete(h.rooms, sessionID)
		}
		h.mu.Unlock()
	} else {
		r.session = s
		r.unsub = s.Subscribe(func(ev playback.Event, state playback.State) {
			h.forward(sessionID, ev, state)
		})
		log.Info().Str("session_id", sessionID).Msg("room opened")
	}
	r.err = err
	close(r.ready)

	if err != nil {
		return nil, err
	}
	return r, nil
}

// release drops one reference on the current room of sessionID.
func (h *Hub) release(sessionID string) {
	h.mu.Lock()
	r, ok := h.rooms[sessionID]
	h.mu.Unlock()
	if ok {
		h.drop(sessionID, r)
	}
}

// drop releases a reference on r and closes its observer when the room
// empties. Rooms already replaced or removed are left alone.
func (h *Hub) drop(sessionID string, r *room) {
	h.mu.Lock()
	if h.rooms[sessionID] != r {
		h.mu.Unlock()
		return
	}
	r.refs--
	if r.refs > 0 {
		h.mu.Unlock()
		return
	}
	delete(h.rooms, sessionID)
	h.mu.Unlock()

	if r.session == nil {
		return
	}
	r.unsub()
	if err := r.session.Close(context.Background()); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to close room session")
	}
	log.Info().Str("session_id", sessionID).Msg("room closed")
}

func (h *Hub) forward(sessionID string, ev playback.Event, state playback.State) {
	snap := state.SnapshotAt(ev.At)
	msg := &ServerMessage{
		Type:      MessageTypeEvent,
		SessionID: sessionID,
		Event:     &ev,
		State:     &snap,
	}
	if ev.Scope == playback.ScopeBroadcast {
		h.connections.BroadcastToAll(msg)
		return
	}
	h.connections.BroadcastToSession(sessionID, msg)
}

func (h *Hub) lookup(sessionID string) *session.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[sessionID]
	if !ok || r.session == nil {
		return nil
	}
	return r.session
}

// OnConnect joins the connection's participant to the session and sends it
// the current state.
func (h *Hub) OnConnect(ctx context.Context, c *Connection) error {
	r, err := h.acquire(ctx, c.SessionID)
	if err != nil {
		return err
	}

	snap := r.session.Snapshot()
	c.SendMessage(&ServerMessage{Type: MessageTypeState, SessionID: c.SessionID, State: &snap})

	if err := r.session.Propose(ctx, playback.Join(c.ParticipantID).WithOrigin(c.ParticipantID)); err != nil {
		h.drop(c.SessionID, r)
		return fmt.Errorf("join session: %w", err)
	}
	return nil
}

// OnMessage validates a client intent and proposes the resulting ops.
func (h *Hub) OnMessage(c *Connection, data []byte) {
	s := h.lookup(c.SessionID)
	if s == nil {
		return
	}

	intent, err := ParseIntent(data)
	if err != nil {
		h.reject(c, err)
		return
	}
	ops, err := intent.Ops(s.Replica().State())
	if err != nil {
		h.reject(c, err)
		return
	}

	ctx := context.Background()
	for _, op := range ops {
		if err := s.Propose(ctx, op.WithOrigin(c.ParticipantID)); err != nil {
			log.Error().
				Err(err).
				Str("session_id", c.SessionID).
				Str("participant_id", c.ParticipantID).
				Str("op", string(op.Kind)).
				Msg("failed to propose client intent")
			h.reject(c, err)
			return
		}
	}
}

func (h *Hub) reject(c *Connection, err error) {
	log.Debug().
		Err(err).
		Str("session_id", c.SessionID).
		Str("participant_id", c.ParticipantID).
		Msg("rejected client intent")
	c.SendMessage(&ServerMessage{Type: MessageTypeError, SessionID: c.SessionID, Error: err.Error()})
}

// OnDisconnect proposes the participant's Leave and releases the room.
func (h *Hub) OnDisconnect(c *Connection) {
	if s := h.lookup(c.SessionID); s != nil {
		if err := s.Propose(context.Background(), playback.Leave(c.ParticipantID).WithOrigin(c.ParticipantID)); err != nil {
			log.Error().
				Err(err).
				Str("session_id", c.SessionID).
				Str("participant_id", c.ParticipantID).
				Msg("failed to propose leave")
		}
	}
	h.release(c.SessionID)
}

// GetSessionState returns the room's current snapshot.
func (h *Hub) GetSessionState(_ context.Context, sessionID string) (*playback.Snapshot, error) {
	s := h.lookup(sessionID)
	if s == nil {
		return nil, ErrSessionNotActive
	}
	snap := s.Snapshot()
	return &snap, nil
}

// GetActiveSessions summarises every room open on this gateway.
func (h *Hub) GetActiveSessions(_ context.Context) ([]SessionSummary, error) {
	h.mu.Lock()
	sessions := make([]*session.Session, 0, len(h.rooms))
	for _, r := range h.rooms {
		if r.session != nil {
			sessions = append(sessions, r.session)
		}
	}
	h.mu.Unlock()

	stats := h.connections.GetConnectionStats()
	out := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		snap := s.Snapshot()
		out = append(out, SessionSummary{
			SessionID:    s.ID(),
			MediaRef:     snap.MediaRef,
			Paused:       snap.Paused,
			Ended:        snap.Ended,
			Participants: len(snap.Participants),
			Connections:  stats.SessionConnections[s.ID()],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

// Close closes every room session.
func (h *Hub) Close() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]*room)
	h.mu.Unlock()

	for id, r := range rooms {
		if r.session == nil {
			continue
		}
		r.unsub()
		if err := r.session.Close(context.Background()); err != nil {
			log.Error().Err(err).Str("session_id", id).Msg("failed to close room session")
		}
	}
}
