package stream

import (
	"context"
	"testing"
)

func TestCancelUnknownIDIsNoop(t *testing.T) {
	reg := NewRegistry()
	reg.Cancel("u1", "does-not-exist") // must not panic
}

func TestCancelOnlyByOwningUser(t *testing.T) {
	reg := NewRegistry()
	r := reg.Register("m1", "s1", "owner", 4)

	reg.Cancel("someone-else", "m1")
	if r.Cancelled() {
		t.Fatal("a non-owning user must not be able to cancel another user's stream")
	}

	reg.Cancel("owner", "m1")
	if !r.Cancelled() {
		t.Fatal("the owning user must be able to cancel their own stream")
	}
}

func TestNextChunkIndexIsMonotonic(t *testing.T) {
	reg := NewRegistry()
	r := reg.Register("m1", "s1", "u1", 4)
	for i := 0; i < 5; i++ {
		if got := r.NextChunkIndex(); got != i {
			t.Fatalf("expected chunk index %d, got %d", i, got)
		}
	}
}

func TestEmitOnlyOneTerminalEvent(t *testing.T) {
	reg := NewRegistry()
	r := reg.Register("m1", "s1", "u1", 8)
	ctx := context.Background()

	r.Emit(ctx, Event{Type: EventStreamStart})
	r.Emit(ctx, Event{Type: EventStreamComplete})
	r.Emit(ctx, Event{Type: EventStreamError}) // must be dropped: a terminal event already fired

	close(r.Events)
	var terminalCount int
	for e := range r.Events {
		if e.IsTerminal() {
			terminalCount++
		}
	}
	if terminalCount != 1 {
		t.Fatalf("expected exactly one terminal event, got %d", terminalCount)
	}
}

func TestDeregisterRemovesRegistration(t *testing.T) {
	reg := NewRegistry()
	reg.Register("m1", "s1", "u1", 4)
	reg.Deregister("m1")
	if _, ok := reg.Lookup("m1"); ok {
		t.Fatal("expected the registration to be gone after Deregister")
	}
}
