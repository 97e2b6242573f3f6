package playback

import (
	"time"
)

// State is the authoritative playback state of one watch session. Every
// participant holds an identical copy, rebuilt by applying the same ordered
// operation log.
type State struct {
	MediaRef     string              `json:"media_ref"`
	Duration     *float64            `json:"duration,omitempty"` // nil until a participant reports it
	Paused       bool                `json:"paused"`
	Ended        bool                `json:"ended"`
	Position     float64             `json:"position"`  // seconds, as of Timestamp
	Timestamp    time.Time           `json:"timestamp"` // logical time Position was last accurate
	Participants map[string]struct{} `json:"-"`
	Seq          uint64              `json:"seq"` // last applied log sequence
}

// NewState returns an empty session state anchored at the given logical time.
func NewState(at time.Time) State {
	return State{
		Timestamp:    at,
		Participants: make(map[string]struct{}),
	}
}

// HasMedia reports whether a media item is selected.
func (s State) HasMedia() bool {
	return s.MediaRef != ""
}

// DurationKnown returns the reported duration and whether one is known.
func (s State) DurationKnown() (float64, bool) {
	if s.Duration == nil {
		return 0, false
	}
	return *s.Duration, true
}

// Advancing reports whether the position moves with time.
func (s State) Advancing() bool {
	return !s.Paused && !s.Ended
}

// TrueElapsed computes the playback position at logical time now. Paused or
// ended playback holds Position exactly; advancing playback is clamped to
// [0, duration], with no upper bound while the duration is unknown.
func (s State) TrueElapsed(now time.Time) float64 {
	if !s.Advancing() {
		return s.Position
	}
	pos := s.Position + now.Sub(s.Timestamp).Seconds()
	if pos < 0 {
		pos = 0
	}
	if d, ok := s.DurationKnown(); ok && pos > d {
		pos = d
	}
	return pos
}

// ParticipantIDs returns the joined participants in no particular order.
func (s State) ParticipantIDs() []string {
	ids := make([]string, 0, len(s.Participants))
	for id := range s.Participants {
		ids = append(ids, id)
	}
	return ids
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s State) Clone() State {
	c := s
	if s.Duration != nil {
		d := *s.Duration
		c.Duration = &d
	}
	c.Participants = make(map[string]struct{}, len(s.Participants))
	for id := range s.Participants {
		c.Participants[id] = struct{}{}
	}
	return c
}

// Snapshot is the read model handed to presentation layers and websocket
// clients.
type Snapshot struct {
	MediaRef     string    `json:"media_ref"`
	Duration     *float64  `json:"duration,omitempty"`
	Paused       bool      `json:"paused"`
	Ended        bool      `json:"ended"`
	Position     float64   `json:"position"`
	Timestamp    time.Time `json:"timestamp"`
	TrueElapsed  float64   `json:"true_elapsed"`
	Participants []string  `json:"participants"`
	Seq          uint64    `json:"seq"`
	ComputedAt   time.Time `json:"computed_at"`
}

// SnapshotAt builds a read model with the true elapsed position at now.
func (s State) SnapshotAt(now time.Time) Snapshot {
	c := s.Clone()
	return Snapshot{
		MediaRef:     c.MediaRef,
		Duration:     c.Duration,
		Paused:       c.Paused,
		Ended:        c.Ended,
		Position:     c.Position,
		Timestamp:    c.Timestamp,
		TrueElapsed:  c.TrueElapsed(now),
		Participants: c.ParticipantIDs(),
		Seq:          c.Seq,
		ComputedAt:   now,
	}
}
