package playback

import (
	"fmt"
	"math"
	"time"
)

// Apply is the deterministic transition function every replica runs. It never
// fails: an undecodable payload leaves the state unchanged and is reported in
// Result.Err. The input state is not mutated.
func Apply(s State, op Op, seq uint64, at time.Time) Result {
	next := s.Clone()
	r := &reduction{state: &next, op: op, seq: seq, at: at}

	var err error
	switch op.Kind {
	case OpSelectMedia:
		var p SelectMediaPayload
		if err = op.Decode(&p); err == nil {
			r.selectMedia(p)
		}

	case OpSetPaused:
		var p SetPausedPayload
		if err = op.Decode(&p); err == nil {
			r.setPaused(p)
		}

	case OpSetEnded:
		var p SetEndedPayload
		if err = op.Decode(&p); err == nil {
			r.setEnded(p.Ended)
		}

	case OpSeek:
		var p SeekPayload
		if err = op.Decode(&p); err == nil {
			r.seek(p.Position)
		}

	case OpReportDuration:
		var p ReportDurationPayload
		if err = op.Decode(&p); err == nil {
			r.reportDuration(p.Seconds)
		}

	case OpJoin:
		var p MembershipPayload
		if err = op.Decode(&p); err == nil {
			r.join(p.ParticipantID)
		}

	case OpLeave:
		var p MembershipPayload
		if err = op.Decode(&p); err == nil {
			r.leave(p.ParticipantID)
		}

	default:
		err = fmt.Errorf("unknown op kind %q", op.Kind)
	}

	if err != nil {
		s.Seq = maxSeq(s.Seq, seq)
		return Result{State: s, Err: err}
	}

	next.Seq = maxSeq(next.Seq, seq)
	return Result{State: next, Events: r.events, Persist: r.persist}
}

type reduction struct {
	state   *State
	op      Op
	seq     uint64
	at      time.Time
	events  []Event
	persist *Persisted
}

func (r *reduction) emit(t EventType, scope Scope, participantID string) {
	r.events = append(r.events, Event{
		Type:          t,
		Scope:         scope,
		Seq:           r.seq,
		At:            r.at,
		OpID:          r.op.ID,
		Origin:        r.op.Origin,
		ParticipantID: participantID,
	})
}

func (r *reduction) selectMedia(p SelectMediaPayload) {
	s := r.state
	s.MediaRef = p.Ref
	s.Paused = false
	s.Ended = false
	s.Duration = nil
	s.Position = math.Max(p.StartOffset, 0)
	s.Timestamp = r.at
	r.emit(EventMediaSelected, ScopeSession, "")
	if !p.Resume {
		r.persist = &Persisted{MediaRef: p.Ref, StartOffset: p.StartOffset}
	}
}

func (r *reduction) setPaused(p SetPausedPayload) {
	s := r.state
	s.Timestamp = r.at
	s.Paused = p.Paused
	s.Ended = false
	if p.Position != nil {
		s.Position = *p.Position
		r.emit(EventPausedChanged, ScopeSession, "")
	}
}

func (r *reduction) setEnded(ended bool) {
	r.state.Ended = ended
	if !ended {
		r.state.Position = 0
	}
}

func (r *reduction) seek(position float64) {
	s := r.state
	s.Position = position
	s.Ended = false
	s.Timestamp = r.at
	r.emit(EventSeeked, ScopeSession, "")
}

func (r *reduction) reportDuration(seconds float64) {
	d := seconds
	r.state.Duration = &d
	r.emit(EventDurationChanged, ScopeSession, "")
}

func (r *reduction) join(id string) {
	s := r.state
	if len(s.Participants) == 0 {
		// first viewer in: restart bookkeeping. SetPaused clears Ended, so
		// the ended check has to read the state from before it.
		wasEnded := s.Ended
		r.setPaused(SetPausedPayload{Paused: false})
		if wasEnded {
			r.seek(0)
		}
	}
	if _, ok := s.Participants[id]; !ok {
		s.Participants[id] = struct{}{}
		r.emit(EventParticipantJoined, ScopeSession, id)
	}
}

func (r *reduction) leave(id string) {
	delete(r.state.Participants, id)
	r.emit(EventParticipantLeft, ScopeBroadcast, id)
}

func maxSeq(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
