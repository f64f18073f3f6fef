// Package pipeline implements C12: the orchestration engine that sequences
// C2→C1→C5→C4→C11→C8→C10→C9 for one request, updating C3/C7/C14 on every
// exit path. Grounded on the teacher's router.Engine.RouteAndSend/
// RouteAndStream request lifecycle (session/policy plumbing, fallback-chain
// retry, health recording on every attempt), reworked around the learning-
// companion domain signals instead of a bare model-routing decision.
package pipeline

import (
	"log/slog"
	"time"

	"github.com/jordanhubbard/learncompanion/internal/ability"
	"github.com/jordanhubbard/learncompanion/internal/budget"
	"github.com/jordanhubbard/learncompanion/internal/convo"
	"github.com/jordanhubbard/learncompanion/internal/cost"
	"github.com/jordanhubbard/learncompanion/internal/emotion"
	"github.com/jordanhubbard/learncompanion/internal/health"
	"github.com/jordanhubbard/learncompanion/internal/router"
	"github.com/jordanhubbard/learncompanion/internal/store"
	"github.com/jordanhubbard/learncompanion/internal/stream"
)

// Request is one inbound query (§6.1, §6.2's chat_stream payload).
type Request struct {
	UserID             string
	SessionID          string
	Message            string
	Subject            string
	MaxTokens          int
	ProviderPreference string
}

// Response is the non-streaming outcome (§6.1).
type Response struct {
	SessionID          string
	AssistantMessageID string
	Content            string
	Emotion            emotion.Result
	Provider           string
	LatencyMs          int64
	Tokens             int
	CostUSD            float64
	AbilityUpdated     ability.Estimate
}

// Config bounds one Engine's behavior (§6.4 PROVIDER_TIMEOUT_SECONDS,
// STREAM_CHUNK_PACING_MS, plus the clamps/cache/selector configs each
// owned by their respective component).
type Config struct {
	ProviderTimeout time.Duration
	ChunkSize       int
	ChunkPacing     time.Duration
	BudgetClamps    budget.Clamps
}

func (c Config) withDefaults() Config {
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 60 * time.Second
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 40
	}
	if c.ChunkPacing <= 0 {
		c.ChunkPacing = 30 * time.Millisecond
	}
	return c
}

// Engine is C12. It holds every upstream component and the document store,
// and exposes the two entry points named in §4.12.
type Engine struct {
	db       store.Store
	router   *router.Engine
	selector *router.Selector
	health   *health.Tracker

	emotionCache *emotion.Cache
	abilityStore *ability.Store
	assembler    *convo.Assembler
	costEnforcer *cost.Enforcer
	registry     *stream.Registry

	cfg    Config
	logger *slog.Logger
}

// Dependencies wires every already-built C1-C11/C13/C14 component plus the
// teacher's provider registry (router.Engine, kept as the adapter/model
// catalog C8 scores over) into one pipeline Engine.
type Dependencies struct {
	Store        store.Store
	Router       *router.Engine
	Selector     *router.Selector
	Health       *health.Tracker
	EmotionCache *emotion.Cache
	AbilityStore *ability.Store
	Assembler    *convo.Assembler
	CostEnforcer *cost.Enforcer
	Registry     *stream.Registry
	Logger       *slog.Logger
}

// New constructs C12 from its dependencies.
func New(d Dependencies, cfg Config) *Engine {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		db:           d.Store,
		router:       d.Router,
		selector:     d.Selector,
		health:       d.Health,
		emotionCache: d.EmotionCache,
		abilityStore: d.AbilityStore,
		assembler:    d.Assembler,
		costEnforcer: d.CostEnforcer,
		registry:     d.Registry,
		cfg:          cfg.withDefaults(),
		logger:       logger,
	}
}
