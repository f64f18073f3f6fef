package router

import (
	"context"
	"io"
	"sync"
)

// Sender is the interface that provider adapters must implement. Defined
// here, rather than in the providers package, to avoid an import cycle: the
// engine and C8's selector both depend on it, but adapters must not depend
// on either.
type Sender interface {
	ID() string
	Send(ctx context.Context, model string, req Request) (ProviderResponse, error)
	ClassifyError(err error) *ClassifiedError
}

// StreamSender is an optional interface for provider adapters that support SSE streaming.
type StreamSender interface {
	Sender
	SendStream(ctx context.Context, model string, req Request) (io.ReadCloser, error)
}

// ErrorClass classifies provider errors for routing decisions.
type ErrorClass string

const (
	ErrContextOverflow ErrorClass = "context_overflow"
	ErrRateLimited      ErrorClass = "rate_limited"
	ErrTransient        ErrorClass = "transient"
	ErrFatal            ErrorClass = "fatal"
)

// ClassifiedError wraps an error with routing classification.
type ClassifiedError struct {
	Err        error
	Class      ErrorClass
	RetryAfter int
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// HealthChecker is an optional interface for provider health tracking.
// Defined here to avoid an import cycle with the health package.
type HealthChecker interface {
	IsAvailable(providerID string) bool
	RecordSuccess(providerID string, latencyMs float64)
	RecordError(providerID string, errMsg string)
}

// EngineConfig holds the engine's static defaults. Most fields here are
// advisory: C8's selector, not the engine, makes per-request routing
// decisions.
type EngineConfig struct {
	DefaultMode         string
	DefaultMaxBudgetUSD float64
	DefaultMaxLatencyMs int
}

// Engine is the provider and model registry shared by the companion
// pipeline (C12) and the admin health surface: it tracks which adapters are
// registered, which models are enabled, and exposes lookups C8's selector
// candidates are built from.
type Engine struct {
	cfg    EngineConfig
	health HealthChecker

	mu       sync.RWMutex
	models   map[string]Model
	adapters map[string]Sender // provider_id -> adapter
}

// NewEngine constructs an empty provider/model registry.
func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{
		cfg:      cfg,
		models:   make(map[string]Model),
		adapters: make(map[string]Sender),
	}
}

// SetHealthChecker attaches C7's circuit breaker so ListAdapterIDs-derived
// candidate pools can be filtered by availability upstream.
func (e *Engine) SetHealthChecker(h HealthChecker) {
	e.health = h
}

// RegisterAdapter registers a provider adapter.
func (e *Engine) RegisterAdapter(a Sender) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.adapters[a.ID()] = a
}

// RegisterModel registers or replaces a model.
func (e *Engine) RegisterModel(m Model) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.models[m.ID] = m
}

// UpdateDefaults updates the runtime routing policy defaults surfaced
// through the admin info endpoint and hot-reloadable config.
func (e *Engine) UpdateDefaults(mode string, maxBudget float64, maxLatencyMs int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if mode != "" {
		e.cfg.DefaultMode = mode
	}
	if maxBudget > 0 {
		e.cfg.DefaultMaxBudgetUSD = maxBudget
	}
	if maxLatencyMs > 0 {
		e.cfg.DefaultMaxLatencyMs = maxLatencyMs
	}
}

// ListModels returns all registered models.
func (e *Engine) ListModels() []Model {
	e.mu.RLock()
	defer e.mu.RUnlock()
	models := make([]Model, 0, len(e.models))
	for _, m := range e.models {
		models = append(models, m)
	}
	return models
}

// ListAdapterIDs returns the IDs of all registered adapters.
func (e *Engine) ListAdapterIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.adapters))
	for id := range e.adapters {
		ids = append(ids, id)
	}
	return ids
}

// GetAdapter returns the registered provider adapter for the given provider ID.
func (e *Engine) GetAdapter(providerID string) Sender {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.adapters[providerID]
}

// GetModel returns a registered model by ID.
func (e *Engine) GetModel(modelID string) (Model, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.models[modelID]
	return m, ok
}
