package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/watchsync/go/internal/playback"
)

var (
	// ErrClosed is returned when publishing on a closed bus.
	ErrClosed = errors.New("broadcast bus closed")
	// ErrInvalidSessionID rejects IDs that cannot be embedded in a subject.
	ErrInvalidSessionID = errors.New("invalid session id")
)

// ValidateSessionID checks that id is safe to use as a subject token.
func ValidateSessionID(id string) error {
	if id == "" || len(id) > 128 {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
		}
	}
	return nil
}

// Envelope is one sequenced entry of a session's operation log.
type Envelope struct {
	Seq       uint64      `json:"seq"`        // position in the session log, starting at 1
	SessionID string      `json:"session_id"` // session the op belongs to
	At        time.Time   `json:"at"`         // logical timestamp assigned at sequencing
	Pending   uint64      `json:"pending"`    // entries still queued behind this one for the subscriber
	Op        playback.Op `json:"op"`
}

// Handler consumes envelopes in log order. A returned error is logged and the
// entry is not redelivered.
type Handler func(ctx context.Context, env Envelope) error

// Subscription is an active log subscription.
type Subscription interface {
	Stop()
}

// Bus is the ordered broadcast substrate: every subscriber of a session sees
// every published op in one identical order, starting from the beginning of
// the log.
type Bus interface {
	Publish(ctx context.Context, sessionID string, op playback.Op) error
	Subscribe(ctx context.Context, sessionID string, handler Handler) (Subscription, error)
	// Len returns the number of entries currently in a session log.
	Len(ctx context.Context, sessionID string) (uint64, error)
	// Ping reports whether the bus can currently accept publishes.
	Ping(ctx context.Context) error
	Close() error
}

// wireOp is the message body published for an op. Timestamp is the
// publisher's clock and informational only; replicas use the bus time.
type wireOp struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	SessionID string          `json:"sessionId"`
	Origin    string          `json:"origin,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

func encodeOp(sessionID string, op playback.Op, now time.Time) ([]byte, error) {
	data, err := json.Marshal(wireOp{
		EventID:   op.ID,
		EventType: string(op.Kind),
		SessionID: sessionID,
		Origin:    op.Origin,
		Timestamp: now.UTC(),
		Payload:   op.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal op: %w", err)
	}
	return data, nil
}

func decodeOp(data []byte) (string, playback.Op, error) {
	var w wireOp
	if err := json.Unmarshal(data, &w); err != nil {
		return "", playback.Op{}, fmt.Errorf("unmarshal op envelope: %w", err)
	}
	return w.SessionID, playback.Op{
		ID:      w.EventID,
		Kind:    playback.OpKind(w.EventType),
		Origin:  w.Origin,
		Payload: w.Payload,
	}, nil
}
