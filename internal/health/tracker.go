// Package health implements C7: a rolling-window health tracker per
// provider with an explicit three-state circuit breaker (CLOSED, OPEN,
// HALF_OPEN). Grounded on the teacher's internal/health.Tracker (rolling
// counters, event publication) merged with internal/circuitbreaker.Breaker's
// state machine (the teacher kept these separate, guarding Temporal
// dispatch; C7 needs the circuit semantics applied directly to provider
// health so C8 can filter on it).
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/jordanhubbard/learncompanion/internal/events"
)

// CircuitState is the three-state machine from §4.7.
type CircuitState string

const (
	Closed   CircuitState = "CLOSED"
	Open     CircuitState = "OPEN"
	HalfOpen CircuitState = "HALF_OPEN"
)

// latencyWindow bounds how many recent latency samples feed the p50/p95
// estimate; old samples age out in FIFO order.
const latencyWindow = 128

// Stats captures runtime health metrics for a single provider, matching
// §4.7's rolling-window fields and store.ProviderHealthRecord.
type Stats struct {
	ProviderID         string       `json:"provider_id"`
	CircuitState       CircuitState `json:"circuit_state"`
	TotalRequests      int64        `json:"total_requests"`
	TotalErrors        int64        `json:"total_errors"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	P50LatencyMs       float64      `json:"p50_latency_ms"`
	P95LatencyMs       float64      `json:"p95_latency_ms"`
	LastError          string       `json:"last_error,omitempty"`
	LastErrorAt        time.Time    `json:"last_error_ts,omitempty"`
	LastSuccessAt      time.Time    `json:"last_success_at,omitempty"`
	OpenedAt           time.Time    `json:"opened_at,omitempty"`
}

func (s Stats) successRate() float64 {
	if s.TotalRequests == 0 {
		return 1
	}
	return float64(s.TotalRequests-s.TotalErrors) / float64(s.TotalRequests)
}

type providerState struct {
	stats     Stats
	latencies []float64 // FIFO ring, oldest overwritten first
	probing   bool       // true while a HALF_OPEN probe is in flight
}

// TrackerConfig configures the circuit thresholds (§6.4
// CIRCUIT_FAIL_THRESHOLD, CIRCUIT_COOLDOWN_SECONDS).
type TrackerConfig struct {
	FailThreshold int
	Cooldown      time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() TrackerConfig {
	return TrackerConfig{FailThreshold: 5, Cooldown: 30 * time.Second}
}

// Tracker is C7.
type Tracker struct {
	cfg      TrackerConfig
	EventBus *events.Bus
	onUpdate func(providerID string, state CircuitState)

	mu    sync.Mutex
	state map[string]*providerState

	nowFunc func() time.Time
}

// TrackerOption configures optional Tracker behaviour.
type TrackerOption func(*Tracker)

// WithEventBus attaches an event bus so circuit transitions are published.
func WithEventBus(bus *events.Bus) TrackerOption {
	return func(t *Tracker) { t.EventBus = bus }
}

// WithOnUpdate registers a callback invoked on every RecordSuccess/RecordError.
func WithOnUpdate(fn func(providerID string, state CircuitState)) TrackerOption {
	return func(t *Tracker) { t.onUpdate = fn }
}

// NewTracker creates a health tracker with the given config.
func NewTracker(cfg TrackerConfig, opts ...TrackerOption) *Tracker {
	if cfg.FailThreshold <= 0 {
		cfg.FailThreshold = DefaultConfig().FailThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	t := &Tracker{cfg: cfg, state: make(map[string]*providerState), nowFunc: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) getOrCreate(providerID string) *providerState {
	p, ok := t.state[providerID]
	if !ok {
		p = &providerState{stats: Stats{ProviderID: providerID, CircuitState: Closed}}
		t.state[providerID] = p
	}
	return p
}

// RecordSuccess records a successful request (§4.7: "counters updated on
// every request exit path"). A success while HALF_OPEN closes the circuit
// (the probe passed); a success while CLOSED resets consecutive failures.
func (t *Tracker) RecordSuccess(providerID string, latencyMs float64) {
	t.mu.Lock()
	p := t.getOrCreate(providerID)
	old := p.stats.CircuitState

	p.stats.TotalRequests++
	p.stats.ConsecutiveFailures = 0
	p.stats.LastSuccessAt = t.nowFunc()
	p.latencies = append(p.latencies, latencyMs)
	if len(p.latencies) > latencyWindow {
		p.latencies = p.latencies[len(p.latencies)-latencyWindow:]
	}
	p.stats.P50LatencyMs, p.stats.P95LatencyMs = percentiles(p.latencies)

	if p.stats.CircuitState == HalfOpen {
		p.stats.CircuitState = Closed
		p.probing = false
	}
	newState := p.stats.CircuitState
	t.mu.Unlock()

	t.notify(providerID, old, newState, "success recorded")
}

// RecordError records a failed request. Crossing the failure threshold
// while CLOSED opens the circuit; a failed probe while HALF_OPEN reopens it
// immediately (§4.7).
func (t *Tracker) RecordError(providerID string, errMsg string) {
	t.mu.Lock()
	p := t.getOrCreate(providerID)
	old := p.stats.CircuitState

	p.stats.TotalRequests++
	p.stats.TotalErrors++
	p.stats.ConsecutiveFailures++
	p.stats.LastError = errMsg
	p.stats.LastErrorAt = t.nowFunc()

	switch p.stats.CircuitState {
	case Closed:
		if p.stats.ConsecutiveFailures >= t.cfg.FailThreshold {
			p.stats.CircuitState = Open
			p.stats.OpenedAt = t.nowFunc()
		}
	case HalfOpen:
		p.stats.CircuitState = Open
		p.stats.OpenedAt = t.nowFunc()
		p.probing = false
	}
	newState := p.stats.CircuitState
	t.mu.Unlock()

	t.notify(providerID, old, newState, errMsg)
}

func (t *Tracker) notify(providerID string, old, updated CircuitState, reason string) {
	if t.onUpdate != nil {
		t.onUpdate(providerID, updated)
	}
	if old != updated && t.EventBus != nil {
		t.EventBus.Publish(events.Event{
			Type:       events.EventHealthChange,
			ProviderID: providerID,
			OldState:   string(old),
			NewState:   string(updated),
			Reason:     reason,
		})
	}
}

// IsAvailable reports whether a provider should be offered to the selector
// (§8 property 7: OPEN providers are never selected). A provider with no
// history is assumed available. OPEN transitions to HALF_OPEN and allows
// exactly one probe once the cooldown has elapsed; while a probe is already
// in flight, further callers see the circuit as unavailable so only one
// probe request goes out at a time.
func (t *Tracker) IsAvailable(providerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.state[providerID]
	if !ok {
		return true
	}
	switch p.stats.CircuitState {
	case Closed:
		return true
	case HalfOpen:
		return false // a probe is already in flight
	case Open:
		if t.nowFunc().After(p.stats.OpenedAt.Add(t.cfg.Cooldown)) {
			old := p.stats.CircuitState
			p.stats.CircuitState = HalfOpen
			p.probing = true
			t.notifyLocked(providerID, old, HalfOpen, "cooldown elapsed, probing")
			return true
		}
		return false
	default:
		return false
	}
}

// notifyLocked is notify's variant for callers already holding t.mu; it
// invokes the onUpdate callback and publishes the event while t.mu is still
// held.
func (t *Tracker) notifyLocked(providerID string, old, updated CircuitState, reason string) {
	onUpdate := t.onUpdate
	bus := t.EventBus
	if onUpdate != nil {
		onUpdate(providerID, updated)
	}
	if old != updated && bus != nil {
		bus.Publish(events.Event{
			Type:       events.EventHealthChange,
			ProviderID: providerID,
			OldState:   string(old),
			NewState:   string(updated),
			Reason:     reason,
		})
	}
}

// GetStats returns a copy of the health stats for a provider.
func (t *Tracker) GetStats(providerID string) *Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.state[providerID]
	if !ok {
		return &Stats{ProviderID: providerID, CircuitState: Closed}
	}
	cp := p.stats
	return &cp
}

// AllStats returns a copy of health stats for all known providers.
func (t *Tracker) AllStats() []Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Stats, 0, len(t.state))
	for _, p := range t.state {
		out = append(out, p.stats)
	}
	return out
}

// GetAvgLatencyMs implements router.StatsProvider, reporting p50 as the
// representative "average" the selector scores against.
func (t *Tracker) GetAvgLatencyMs(providerID string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.state[providerID]; ok {
		return p.stats.P50LatencyMs
	}
	return 0
}

// GetErrorRate implements router.StatsProvider.
func (t *Tracker) GetErrorRate(providerID string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.state[providerID]; ok {
		return 1 - p.stats.successRate()
	}
	return 0
}

func percentiles(samples []float64) (p50, p95 float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	return percentileOf(sorted, 0.50), percentileOf(sorted, 0.95)
}

func percentileOf(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}
