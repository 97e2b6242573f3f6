package playback

import "time"

// EventType names a change notification emitted by Apply.
type EventType string

const (
	EventMediaSelected     EventType = "MediaSelected"
	EventDurationChanged   EventType = "DurationChanged"
	EventPausedChanged     EventType = "PausedChanged"
	EventSeeked            EventType = "Seeked"
	EventParticipantJoined EventType = "ParticipantJoined"
	EventParticipantLeft   EventType = "ParticipantLeft"
)

// Scope says who an event is delivered to.
type Scope string

const (
	// ScopeSession events concern this playback state's participants.
	ScopeSession Scope = "session"
	// ScopeBroadcast events go to every session sharing the broadcast channel.
	ScopeBroadcast Scope = "broadcast"
)

// Event is a change notification. Observers re-read state from the replica
// rather than trusting event fields for positions.
type Event struct {
	Type          EventType `json:"type"`
	Scope         Scope     `json:"scope"`
	Seq           uint64    `json:"seq"`
	At            time.Time `json:"at"`
	OpID          string    `json:"op_id"`
	Origin        string    `json:"origin,omitempty"`
	ParticipantID string    `json:"participant_id,omitempty"`
}

// Persisted is the durable restoration record of a session.
type Persisted struct {
	MediaRef    string  `json:"media_ref"`
	StartOffset float64 `json:"start_offset"`
}

// Result is the outcome of applying one operation.
type Result struct {
	State   State
	Events  []Event
	Persist *Persisted // set when the op asks for durable recording
	Err     error      // undecodable payload; the op was a no-op
}
