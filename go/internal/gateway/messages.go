package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcdev12/watchsync/go/internal/playback"
)

// MessageType identifies a frame sent to WebSocket clients.
type MessageType string

const (
	MessageTypeState MessageType = "state"
	MessageTypeEvent MessageType = "event"
	MessageTypeError MessageType = "error"
)

// ServerMessage is the frame sent to WebSocket clients. Event frames carry
// the state snapshot taken right after the event was applied.
type ServerMessage struct {
	Type      MessageType        `json:"type"`
	SessionID string             `json:"session_id,omitempty"`
	Event     *playback.Event    `json:"event,omitempty"`
	State     *playback.Snapshot `json:"state,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// IntentType names a client request to change shared playback.
type IntentType string

const (
	IntentSelectMedia    IntentType = "select_media"
	IntentTogglePause    IntentType = "toggle_pause"
	IntentSetPaused      IntentType = "set_paused"
	IntentSeek           IntentType = "seek"
	IntentRestart        IntentType = "restart"
	IntentSetEnded       IntentType = "set_ended"
	IntentReportDuration IntentType = "report_duration"
)

// ErrMalformedIntent rejects a client frame before anything is proposed.
var ErrMalformedIntent = errors.New("malformed intent")

// ClientIntent is a frame received from a WebSocket client.
type ClientIntent struct {
	Type        IntentType `json:"type"`
	Ref         string     `json:"ref,omitempty"`
	StartOffset float64    `json:"start_offset,omitempty"`
	Paused      *bool      `json:"paused,omitempty"`
	Position    *float64   `json:"position,omitempty"`
	Ended       *bool      `json:"ended,omitempty"`
	Seconds     float64    `json:"seconds,omitempty"`
}

// ParseIntent decodes a client frame.
func ParseIntent(data []byte) (ClientIntent, error) {
	var in ClientIntent
	if err := json.Unmarshal(data, &in); err != nil {
		return ClientIntent{}, fmt.Errorf("%w: %v", ErrMalformedIntent, err)
	}
	if in.Type == "" {
		return ClientIntent{}, fmt.Errorf("%w: missing type", ErrMalformedIntent)
	}
	return in, nil
}

// Ops turns the intent into the operations to propose, in order. state is
// the current authoritative state, needed by toggle_pause.
func (in ClientIntent) Ops(state playback.State) ([]playback.Op, error) {
	switch in.Type {
	case IntentSelectMedia:
		if err := playback.ValidateMediaRef(in.Ref); err != nil {
			return nil, err
		}
		if in.StartOffset < 0 {
			return nil, fmt.Errorf("%w: negative start offset", ErrMalformedIntent)
		}
		return []playback.Op{playback.SelectMedia(in.Ref, in.StartOffset)}, nil

	case IntentTogglePause:
		if !state.HasMedia() {
			return nil, fmt.Errorf("%w: no media selected", ErrMalformedIntent)
		}
		if state.Ended {
			return restartOps(), nil
		}
		return []playback.Op{playback.SetPausedFlag(!state.Paused)}, nil

	case IntentSetPaused:
		if in.Paused == nil {
			return nil, fmt.Errorf("%w: paused is required", ErrMalformedIntent)
		}
		if in.Position != nil {
			if *in.Position < 0 {
				return nil, fmt.Errorf("%w: negative position", ErrMalformedIntent)
			}
			return []playback.Op{playback.SetPaused(*in.Paused, *in.Position)}, nil
		}
		return []playback.Op{playback.SetPausedFlag(*in.Paused)}, nil

	case IntentSeek:
		if in.Position == nil || *in.Position < 0 {
			return nil, fmt.Errorf("%w: position must be non-negative", ErrMalformedIntent)
		}
		return []playback.Op{playback.Seek(*in.Position)}, nil

	case IntentRestart:
		return restartOps(), nil

	case IntentSetEnded:
		if in.Ended == nil {
			return nil, fmt.Errorf("%w: ended is required", ErrMalformedIntent)
		}
		return []playback.Op{playback.SetEnded(*in.Ended)}, nil

	case IntentReportDuration:
		if in.Seconds <= 0 {
			return nil, fmt.Errorf("%w: duration must be positive", ErrMalformedIntent)
		}
		return []playback.Op{playback.ReportDuration(in.Seconds)}, nil

	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedIntent, in.Type)
	}
}

func restartOps() []playback.Op {
	return []playback.Op{playback.SetEnded(false), playback.SetPaused(false, 0)}
}
