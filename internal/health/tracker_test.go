package health

import (
	"testing"
	"time"

	"github.com/jordanhubbard/learncompanion/internal/events"
)

func TestRecordSuccess(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	tr.RecordSuccess("openai", 150.0)
	tr.RecordSuccess("openai", 200.0)

	s := tr.GetStats("openai")
	if s.TotalRequests != 2 {
		t.Errorf("expected 2 requests, got %d", s.TotalRequests)
	}
	if s.CircuitState != Closed {
		t.Errorf("expected closed, got %s", s.CircuitState)
	}
	if s.ConsecutiveFailures != 0 {
		t.Errorf("expected 0 consecutive failures, got %d", s.ConsecutiveFailures)
	}
}

func TestCircuitOpensAtThreshold(t *testing.T) {
	tr := NewTracker(TrackerConfig{FailThreshold: 3, Cooldown: time.Minute})
	tr.RecordError("openai", "timeout")
	tr.RecordError("openai", "timeout")

	if s := tr.GetStats("openai"); s.CircuitState != Closed {
		t.Errorf("expected still closed below threshold, got %s", s.CircuitState)
	}
	if !tr.IsAvailable("openai") {
		t.Error("provider below threshold should still be available")
	}

	tr.RecordError("openai", "timeout")
	if s := tr.GetStats("openai"); s.CircuitState != Open {
		t.Errorf("expected open at threshold, got %s", s.CircuitState)
	}
	if tr.IsAvailable("openai") {
		t.Error("an open circuit must not be available (§8 property 7)")
	}
}

func TestHalfOpenAfterCooldownAllowsOneProbe(t *testing.T) {
	tr := NewTracker(TrackerConfig{FailThreshold: 1, Cooldown: 10 * time.Millisecond})
	tr.RecordError("openai", "error")
	if tr.IsAvailable("openai") {
		t.Fatal("should be unavailable immediately after opening")
	}

	time.Sleep(15 * time.Millisecond)

	if !tr.IsAvailable("openai") {
		t.Fatal("expected the first call after cooldown to transition to half-open and allow a probe")
	}
	if tr.IsAvailable("openai") {
		t.Fatal("only one probe may be in flight while half-open")
	}
}

func TestHalfOpenSuccessClosesCircuit(t *testing.T) {
	tr := NewTracker(TrackerConfig{FailThreshold: 1, Cooldown: 10 * time.Millisecond})
	tr.RecordError("openai", "error")
	time.Sleep(15 * time.Millisecond)
	tr.IsAvailable("openai") // transitions to half-open

	tr.RecordSuccess("openai", 100)
	if s := tr.GetStats("openai"); s.CircuitState != Closed {
		t.Errorf("expected closed after a successful probe, got %s", s.CircuitState)
	}
	if !tr.IsAvailable("openai") {
		t.Error("expected the provider available again after closing")
	}
}

func TestHalfOpenFailureReopensCircuit(t *testing.T) {
	tr := NewTracker(TrackerConfig{FailThreshold: 1, Cooldown: 10 * time.Millisecond})
	tr.RecordError("openai", "error")
	time.Sleep(15 * time.Millisecond)
	tr.IsAvailable("openai") // transitions to half-open

	tr.RecordError("openai", "probe failed")
	if s := tr.GetStats("openai"); s.CircuitState != Open {
		t.Errorf("expected a failed probe to reopen the circuit, got %s", s.CircuitState)
	}
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	tr := NewTracker(TrackerConfig{FailThreshold: 3, Cooldown: time.Minute})
	tr.RecordError("openai", "error1")
	tr.RecordError("openai", "error2")
	tr.RecordSuccess("openai", 100)

	s := tr.GetStats("openai")
	if s.ConsecutiveFailures != 0 {
		t.Errorf("expected 0 consecutive failures after success, got %d", s.ConsecutiveFailures)
	}
	if s.CircuitState != Closed {
		t.Errorf("expected closed, got %s", s.CircuitState)
	}
}

func TestUnknownProviderAvailable(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	if !tr.IsAvailable("unknown") {
		t.Error("unknown provider should be available by default")
	}
}

func TestAllStats(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	tr.RecordSuccess("openai", 100)
	tr.RecordSuccess("anthropic", 200)
	tr.RecordError("vllm", "error")

	all := tr.AllStats()
	if len(all) != 3 {
		t.Errorf("expected 3 providers in AllStats, got %d", len(all))
	}
}

func TestGetStatsUnknown(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	s := tr.GetStats("nonexistent")
	if s.CircuitState != Closed {
		t.Errorf("expected closed for unknown provider, got %s", s.CircuitState)
	}
}

func TestErrorCountTracking(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	tr.RecordSuccess("p1", 50)
	tr.RecordError("p1", "err1")
	tr.RecordError("p1", "err2")

	s := tr.GetStats("p1")
	if s.TotalRequests != 3 {
		t.Errorf("expected 3 total requests, got %d", s.TotalRequests)
	}
	if s.TotalErrors != 2 {
		t.Errorf("expected 2 total errors, got %d", s.TotalErrors)
	}
}

func TestCircuitChangeEventsPublished(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(16)
	defer bus.Unsubscribe(sub)

	cfg := TrackerConfig{FailThreshold: 2, Cooldown: 10 * time.Millisecond}
	tr := NewTracker(cfg, WithEventBus(bus))

	// First error: still closed (1 < 2), no transition event.
	tr.RecordError("p1", "err1")
	select {
	case e := <-sub.C:
		t.Fatalf("unexpected event after first error: %+v", e)
	default:
	}

	// Second error: closed -> open, expect event.
	tr.RecordError("p1", "err2")
	select {
	case e := <-sub.C:
		if e.Type != events.EventHealthChange {
			t.Errorf("expected EventHealthChange, got %s", e.Type)
		}
		if e.OldState != string(Closed) {
			t.Errorf("expected old state closed, got %s", e.OldState)
		}
		if e.NewState != string(Open) {
			t.Errorf("expected new state open, got %s", e.NewState)
		}
		if e.ProviderID != "p1" {
			t.Errorf("expected provider p1, got %s", e.ProviderID)
		}
	default:
		t.Fatal("expected health_change event on open transition")
	}

	// Wait for cooldown, probe, then succeed: open -> half-open -> closed.
	time.Sleep(15 * time.Millisecond)
	tr.IsAvailable("p1")
	select {
	case e := <-sub.C:
		if e.NewState != string(HalfOpen) {
			t.Errorf("expected new state half-open, got %s", e.NewState)
		}
	default:
		t.Fatal("expected health_change event on half-open transition")
	}

	tr.RecordSuccess("p1", 50)
	select {
	case e := <-sub.C:
		if e.OldState != string(HalfOpen) {
			t.Errorf("expected old state half-open, got %s", e.OldState)
		}
		if e.NewState != string(Closed) {
			t.Errorf("expected new state closed, got %s", e.NewState)
		}
	default:
		t.Fatal("expected health_change event on recovery transition")
	}
}
