package playback

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestReplicaNotifiesInApplyOrder(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	r := NewReplica("session-1", clock)

	var got []EventType
	unsubscribe := r.Subscribe(func(ev Event, _ State) {
		got = append(got, ev.Type)
	})

	r.Apply(1, at(0), Join("a"))
	r.Apply(2, at(1), SelectMedia("abc123", 0))
	r.Apply(3, at(2), SetPaused(true, 2))
	r.Apply(4, at(3), Seek(10))

	want := []EventType{EventParticipantJoined, EventMediaSelected, EventPausedChanged, EventSeeked}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}

	unsubscribe()
	r.Apply(5, at(4), Seek(11))
	if len(got) != len(want) {
		t.Fatalf("listener called after unsubscribe: %v", got)
	}
}

func TestReplicaSkipsRedeliveredSequence(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	r := NewReplica("session-1", clock)

	calls := 0
	r.Subscribe(func(Event, State) { calls++ })

	r.Apply(1, at(0), SelectMedia("abc123", 0))
	r.Apply(2, at(1), Seek(50))
	r.Apply(2, at(1), Seek(50))
	r.Apply(1, at(0), SelectMedia("abc123", 0))

	if calls != 2 {
		t.Fatalf("listener calls = %d, want 2", calls)
	}
	if st := r.State(); st.Seq != 2 || st.Position != 50 {
		t.Fatalf("state = seq %d position %v, want seq 2 position 50", st.Seq, st.Position)
	}
}

func TestReplicaInvokesPersistHookForNewSelectionsOnly(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	r := NewReplica("session-1", clock)

	var persisted []Persisted
	r.OnPersist(func(p Persisted) { persisted = append(persisted, p) })

	r.Apply(1, at(0), ResumeMedia("restored", 15))
	r.Apply(2, at(1), SelectMedia("picked", 7))

	if len(persisted) != 1 || persisted[0] != (Persisted{MediaRef: "picked", StartOffset: 7}) {
		t.Fatalf("persisted = %+v, want only picked@7", persisted)
	}
}

func TestReplicaPositionUsesClock(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	r := NewReplica("session-1", clock)

	r.Apply(1, clock.Now(), SelectMedia("abc123", 30))
	clock.Advance(10 * time.Second)

	if got := r.Position(); !approx(got, 40) {
		t.Fatalf("position = %v, want 40", got)
	}
	snap := r.Snapshot()
	if !approx(snap.TrueElapsed, 40) || snap.MediaRef != "abc123" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestReplicaStateIsACopy(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	r := NewReplica("session-1", clock)
	r.Apply(1, at(0), Join("a"))

	st := r.State()
	delete(st.Participants, "a")

	if _, ok := r.State().Participants["a"]; !ok {
		t.Fatal("mutating a returned state leaked into the replica")
	}
}

func TestValidateMediaRef(t *testing.T) {
	tests := []struct {
		name string
		ref  string
		ok   bool
	}{
		{"youtube id", "dQw4w9WgXcQ", true},
		{"dashes and underscores", "a-b_c", true},
		{"empty", "", false},
		{"url", "https://youtu.be/dQw4w9WgXcQ", false},
		{"space", "abc 123", false},
		{"too long", string(make([]byte, 65)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMediaRef(tt.ref)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrMalformedMediaRef) {
				t.Fatalf("expected ErrMalformedMediaRef, got %v", err)
			}
		})
	}
}
