package playback

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// OpKind identifies a state-changing operation.
type OpKind string

const (
	OpSelectMedia    OpKind = "SelectMedia"
	OpSetPaused      OpKind = "SetPaused"
	OpSetEnded       OpKind = "SetEnded"
	OpSeek           OpKind = "Seek"
	OpReportDuration OpKind = "ReportDuration"
	OpJoin           OpKind = "Join"
	OpLeave          OpKind = "Leave"
)

// Op is one entry of the session's ordered operation log.
type Op struct {
	ID      string          `json:"id"`               // unique, used for broadcast de-duplication
	Kind    OpKind          `json:"kind"`             // operation type
	Origin  string          `json:"origin,omitempty"` // proposing participant
	Payload json.RawMessage `json:"payload"`          // kind-specific payload
}

// Operation payloads. Pointer fields distinguish "omitted" from zero.

// SelectMediaPayload selects a media item. Resume marks a restoration from
// persisted state rather than a new user selection.
type SelectMediaPayload struct {
	Ref         string  `json:"ref"`
	StartOffset float64 `json:"start_offset"`
	Resume      bool    `json:"resume,omitempty"`
}

// SetPausedPayload changes the pause flag, optionally with a position snapshot.
type SetPausedPayload struct {
	Paused   bool     `json:"paused"`
	Position *float64 `json:"position,omitempty"`
}

// SetEndedPayload marks playback as ended or restarts it.
type SetEndedPayload struct {
	Ended bool `json:"ended"`
}

// SeekPayload moves the position.
type SeekPayload struct {
	Position float64 `json:"position"`
}

// ReportDurationPayload carries a participant's measured media length.
type ReportDurationPayload struct {
	Seconds float64 `json:"seconds"`
}

// MembershipPayload identifies a joining or leaving participant.
type MembershipPayload struct {
	ParticipantID string `json:"participant_id"`
}

func newOp(kind OpKind, payload interface{}) Op {
	data, err := json.Marshal(payload)
	if err != nil {
		// payload types above are plain structs and always marshal
		panic(fmt.Sprintf("marshal %s payload: %v", kind, err))
	}
	return Op{
		ID:      uuid.New().String(),
		Kind:    kind,
		Payload: data,
	}
}

// SelectMedia builds a user media selection.
func SelectMedia(ref string, startOffset float64) Op {
	return newOp(OpSelectMedia, SelectMediaPayload{Ref: ref, StartOffset: startOffset})
}

// ResumeMedia builds a selection restored from persisted session state.
func ResumeMedia(ref string, startOffset float64) Op {
	return newOp(OpSelectMedia, SelectMediaPayload{Ref: ref, StartOffset: startOffset, Resume: true})
}

// SetPaused builds a pause change carrying a position snapshot.
func SetPaused(paused bool, position float64) Op {
	return newOp(OpSetPaused, SetPausedPayload{Paused: paused, Position: &position})
}

// SetPausedFlag builds a bookkeeping pause change without a position.
func SetPausedFlag(paused bool) Op {
	return newOp(OpSetPaused, SetPausedPayload{Paused: paused})
}

// SetEnded builds an ended-flag change.
func SetEnded(ended bool) Op {
	return newOp(OpSetEnded, SetEndedPayload{Ended: ended})
}

// Seek builds a position change.
func Seek(position float64) Op {
	return newOp(OpSeek, SeekPayload{Position: position})
}

// ReportDuration builds a duration report.
func ReportDuration(seconds float64) Op {
	return newOp(OpReportDuration, ReportDurationPayload{Seconds: seconds})
}

// Join builds a membership join.
func Join(participantID string) Op {
	return newOp(OpJoin, MembershipPayload{ParticipantID: participantID})
}

// Leave builds a membership leave.
func Leave(participantID string) Op {
	return newOp(OpLeave, MembershipPayload{ParticipantID: participantID})
}

// WithOrigin returns a copy of op attributed to a participant.
func (o Op) WithOrigin(participantID string) Op {
	o.Origin = participantID
	return o
}

// Decode unmarshals the payload into dst.
func (o Op) Decode(dst interface{}) error {
	if err := json.Unmarshal(o.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", o.Kind, err)
	}
	return nil
}
