package broadcast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/watchsync/go/internal/metrics"
	"github.com/mcdev12/watchsync/go/internal/playback"
)

// collect subscribes and returns a channel fed with every delivered envelope.
func collect(t *testing.T, bus Bus, sessionID string) (<-chan Envelope, Subscription) {
	t.Helper()
	ch := make(chan Envelope, 64)
	sub, err := bus.Subscribe(context.Background(), sessionID, func(_ context.Context, env Envelope) error {
		ch <- env
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return ch, sub
}

func receive(t *testing.T, ch <-chan Envelope, n int) []Envelope {
	t.Helper()
	var out []Envelope
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case env := <-ch:
			out = append(out, env)
		case <-timeout:
			t.Fatalf("received %d envelopes, want %d", len(out), n)
		}
	}
	return out
}

func TestMemoryBusDeliversSameOrderToAllSubscribers(t *testing.T) {
	clock := clockwork.NewFakeClock()
	bus := NewMemoryBus(clock)
	defer bus.Close()
	ctx := context.Background()

	early, sub1 := collect(t, bus, "room-1")
	defer sub1.Stop()

	ops := []playback.Op{
		playback.Join("a"),
		playback.SelectMedia("abc123", 30),
		playback.SetPaused(true, 31),
		playback.Seek(5),
	}
	for _, op := range ops {
		if err := bus.Publish(ctx, "room-1", op); err != nil {
			t.Fatalf("publish: %v", err)
		}
		clock.Advance(time.Second)
	}

	// a late subscriber replays from the start
	late, sub2 := collect(t, bus, "room-1")
	defer sub2.Stop()

	a := receive(t, early, len(ops))
	b := receive(t, late, len(ops))
	for i := range ops {
		if a[i].Op.ID != ops[i].ID || b[i].Op.ID != ops[i].ID {
			t.Fatalf("entry %d: got %s / %s, want %s", i, a[i].Op.ID, b[i].Op.ID, ops[i].ID)
		}
		if a[i].Seq != uint64(i+1) || b[i].Seq != uint64(i+1) {
			t.Fatalf("entry %d: seq %d / %d", i, a[i].Seq, b[i].Seq)
		}
		if !a[i].At.Equal(b[i].At) {
			t.Fatalf("entry %d: subscribers disagree on logical time", i)
		}
	}
	if b[0].Pending != uint64(len(ops)-1) || b[len(ops)-1].Pending != 0 {
		t.Fatalf("pending counts = %d..%d", b[0].Pending, b[len(ops)-1].Pending)
	}
}

func TestMemoryBusDropsDuplicateOpIDs(t *testing.T) {
	bus := NewMemoryBus(clockwork.NewFakeClock())
	defer bus.Close()

	op := playback.Seek(12)
	for i := 0; i < 3; i++ {
		if err := bus.Publish(context.Background(), "room-1", op); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if n, _ := bus.Len(context.Background(), "room-1"); n != 1 {
		t.Fatalf("log length = %d, want 1", n)
	}
}

func TestMemoryBusKeepsSessionsApart(t *testing.T) {
	bus := NewMemoryBus(clockwork.NewFakeClock())
	defer bus.Close()
	ctx := context.Background()

	_ = bus.Publish(ctx, "room-1", playback.Seek(1))
	_ = bus.Publish(ctx, "room-2", playback.Seek(2))
	_ = bus.Publish(ctx, "room-2", playback.Seek(3))

	n1, _ := bus.Len(ctx, "room-1")
	n2, _ := bus.Len(ctx, "room-2")
	if n1 != 1 || n2 != 2 {
		t.Fatalf("lengths = %d, %d", n1, n2)
	}
}

func TestMemoryBusRejectsAfterClose(t *testing.T) {
	bus := NewMemoryBus(clockwork.NewFakeClock())
	_ = bus.Close()

	err := bus.Publish(context.Background(), "room-1", playback.Seek(1))
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := bus.Ping(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("ping after close = %v", err)
	}
}

func TestOpCodecPreservesPayload(t *testing.T) {
	op := playback.SetPaused(true, 41.5).WithOrigin("viewer-9")
	data, err := encodeOp("room-1", op, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	sessionID, got, err := decodeOp(data)
	if err != nil {
		t.Fatal(err)
	}
	if sessionID != "room-1" || got.ID != op.ID || got.Kind != op.Kind || got.Origin != "viewer-9" {
		t.Fatalf("decoded %+v for session %s", got, sessionID)
	}
	var p playback.SetPausedPayload
	if err := got.Decode(&p); err != nil {
		t.Fatal(err)
	}
	if !p.Paused || p.Position == nil || *p.Position != 41.5 {
		t.Fatalf("payload = %+v", p)
	}
}

func TestValidateSessionID(t *testing.T) {
	tests := []struct {
		id string
		ok bool
	}{
		{"room-1", true},
		{"3f9c7a2e_b", true},
		{"", false},
		{"room.1", false},
		{"room>", false},
		{"room *", false},
	}
	for _, tt := range tests {
		err := ValidateSessionID(tt.id)
		if tt.ok != (err == nil) {
			t.Errorf("ValidateSessionID(%q) = %v", tt.id, err)
		}
	}
}

type countingCollector struct {
	metrics.NoOpMetricsCollector
	published map[string]int
}

func (c *countingCollector) RecordOpPublished(kind string, success bool, _ time.Duration) {
	if success {
		c.published[kind]++
	}
}

func TestMetricBusRecordsPublishes(t *testing.T) {
	collector := &countingCollector{published: make(map[string]int)}
	bus := NewMetricBus(NewMemoryBus(clockwork.NewFakeClock()), collector)
	defer bus.Close()

	_ = bus.Publish(context.Background(), "room-1", playback.Seek(1))
	_ = bus.Publish(context.Background(), "room-1", playback.Join("a"))
	_ = bus.Publish(context.Background(), "bad id", playback.Seek(2))

	if collector.published["Seek"] != 1 || collector.published["Join"] != 1 {
		t.Fatalf("published = %v", collector.published)
	}
}
