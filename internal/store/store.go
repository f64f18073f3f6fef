package store

import (
	"context"
	"time"
)

// Store defines the persistence interface for learncompanion. It stands in
// for the document store the spec places out of scope for the core
// algorithm: sessions/messages/ability_estimates/provider_health/benchmarks/
// cost_ledger are the collections named in the external interface, plus the
// ambient operator-facing collections (models/providers/routing config/
// audit/reward logs) the admin surface needs.
type Store interface {
	// Models
	ListModels(ctx context.Context) ([]ModelRecord, error)
	GetModel(ctx context.Context, id string) (*ModelRecord, error)
	UpsertModel(ctx context.Context, m ModelRecord) error
	DeleteModel(ctx context.Context, id string) error

	// Providers
	ListProviders(ctx context.Context) ([]ProviderRecord, error)
	UpsertProvider(ctx context.Context, p ProviderRecord) error
	DeleteProvider(ctx context.Context, id string) error

	// Request log (for audit and dashboard)
	LogRequest(ctx context.Context, entry RequestLog) error
	ListRequestLogs(ctx context.Context, limit int, offset int) ([]RequestLog, error)

	// Vault persistence
	SaveVaultBlob(ctx context.Context, salt []byte, data map[string]string) error
	LoadVaultBlob(ctx context.Context) (salt []byte, data map[string]string, err error)

	// Routing config persistence
	SaveRoutingConfig(ctx context.Context, cfg RoutingConfig) error
	LoadRoutingConfig(ctx context.Context) (RoutingConfig, error)

	// Audit logging
	LogAudit(ctx context.Context, entry AuditEntry) error
	ListAuditLogs(ctx context.Context, limit int, offset int) ([]AuditEntry, error)

	// Reward logging (contextual bandit data collection, C8)
	LogReward(ctx context.Context, entry RewardEntry) error
	ListRewards(ctx context.Context, limit int, offset int) ([]RewardEntry, error)
	GetRewardSummary(ctx context.Context) ([]RewardSummary, error)

	// Sessions (§6.3 `sessions`)
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	TouchSession(ctx context.Context, id string, lastActivity time.Time, addCostUSD float64, addTokens int64) error

	// Messages (§6.3 `messages`)
	InsertMessage(ctx context.Context, m Message) error
	RecentMessages(ctx context.Context, sessionID string, beforeTimestamp time.Time, limit int) ([]Message, error)
	MessagesWithEmbeddings(ctx context.Context, sessionID, userID string, scope string, beforeTimestamp time.Time) ([]Message, error)

	// Ability estimates (§6.3 `ability_estimates`, C3)
	GetAbility(ctx context.Context, userID, subject string) (*AbilityEstimate, error)
	SaveAbility(ctx context.Context, a AbilityEstimate) error
	WasAbilityUpdateApplied(ctx context.Context, messageID, subject string) (bool, error)
	RecordAbilityUpdateApplied(ctx context.Context, messageID, subject string) error

	// Provider health (§6.3 `provider_health`, C7)
	SaveProviderHealth(ctx context.Context, h ProviderHealthRecord) error
	LoadProviderHealth(ctx context.Context) ([]ProviderHealthRecord, error)

	// Benchmarks (§6.3 `benchmarks`, C6)
	SaveBenchmark(ctx context.Context, b BenchmarkRecord) error
	LoadBenchmarks(ctx context.Context) ([]BenchmarkRecord, error)

	// Cost ledger (§6.3 `cost_ledger`, C14)
	GetCostLedger(ctx context.Context, userID, period string) (*CostLedgerEntry, error)
	AddCost(ctx context.Context, userID, period string, windowStart time.Time, deltaUSD float64) (*CostLedgerEntry, error)

	// Log retention
	PruneOldLogs(ctx context.Context, retention time.Duration) (int64, error)

	// Schema lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// ModelRecord is the persisted form of a model configuration.
type ModelRecord struct {
	ID               string  `json:"id"`
	ProviderID       string  `json:"provider_id"`
	Weight           int     `json:"weight"`
	MaxContextTokens int     `json:"max_context_tokens"`
	InputPer1K       float64 `json:"input_per_1k"`
	OutputPer1K      float64 `json:"output_per_1k"`
	Enabled          bool    `json:"enabled"`
}

// ProviderRecord is the persisted form of a provider configuration.
type ProviderRecord struct {
	ID        string `json:"id"`
	Type      string `json:"type"` // openai, anthropic, vllm
	Enabled   bool   `json:"enabled"`
	BaseURL   string `json:"base_url"`
	CredStore string `json:"cred_store"` // env, vault, none
}

// RoutingConfig holds persisted routing policy defaults.
type RoutingConfig struct {
	DefaultMode         string  `json:"default_mode"`
	DefaultMaxBudgetUSD float64 `json:"default_max_budget_usd"`
	DefaultMaxLatencyMs int     `json:"default_max_latency_ms"`
}

// AuditEntry captures an admin mutation for audit trail.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	Detail    string    `json:"detail,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

// RequestLog captures a single routed request for audit/dashboard.
type RequestLog struct {
	ID               int64     `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	ModelID          string    `json:"model_id"`
	ProviderID       string    `json:"provider_id"`
	Mode             string    `json:"mode"`
	EstimatedCostUSD float64   `json:"estimated_cost_usd"`
	LatencyMs        int64     `json:"latency_ms"`
	StatusCode       int       `json:"status_code"`
	ErrorClass       string    `json:"error_class,omitempty"`
	RequestID        string    `json:"request_id,omitempty"`
}

// RewardSummary aggregates reward data per model per token bucket.
type RewardSummary struct {
	ModelID     string  `json:"model_id"`
	TokenBucket string  `json:"token_bucket"`
	Count       int     `json:"count"`
	Successes   int     `json:"successes"`
	SumReward   float64 `json:"sum_reward"`
}

// RewardEntry captures the features and outcome of a routing decision for
// contextual bandit reward logging.
type RewardEntry struct {
	ID              int64     `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	RequestID       string    `json:"request_id,omitempty"`
	ModelID         string    `json:"model_id"`
	ProviderID      string    `json:"provider_id"`
	Mode            string    `json:"mode"`
	EstimatedTokens int       `json:"estimated_tokens"`
	TokenBucket     string    `json:"token_bucket"`
	LatencyBudgetMs int       `json:"latency_budget_ms"`
	LatencyMs       float64   `json:"latency_ms"`
	CostUSD         float64   `json:"cost_usd"`
	Success         bool      `json:"success"`
	ErrorClass      string    `json:"error_class,omitempty"`
	Reward          float64   `json:"reward"`
}

// Session is the persisted form of a conversation session (§3).
type Session struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	CreatedAt        time.Time `json:"created_at"`
	LastActivity     time.Time `json:"last_activity"`
	MessageCount     int64     `json:"message_count"`
	CumulativeCostUSD float64  `json:"cumulative_cost"`
	CumulativeTokens int64     `json:"cumulative_tokens"`
}

// Message is the persisted form of one turn (§3). Immutable once written.
type Message struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	Role            string    `json:"role"` // "user" | "assistant"
	Content         string    `json:"content"`
	Timestamp       time.Time `json:"timestamp"`
	EmotionSnapshot string    `json:"emotion_snapshot,omitempty"` // JSON-encoded EmotionResult
	Embedding       []float32 `json:"embedding,omitempty"`
	Provider        string    `json:"provider,omitempty"`
	LatencyMs       int64     `json:"latency_ms,omitempty"`
	TokenCount      int       `json:"token_count,omitempty"`
	CostUSD         float64   `json:"cost,omitempty"`
}

// AbilityEstimate is the persisted per-(user,subject) IRT ability state (§3, C3).
type AbilityEstimate struct {
	UserID      string    `json:"user_id"`
	Subject     string    `json:"subject"`
	Theta       float64   `json:"theta"`
	Confidence  float64   `json:"confidence"`
	SampleCount int64     `json:"sample_count"`
	LastUpdated time.Time `json:"last_updated"`
}

// ProviderHealthRecord is the persisted rolling-counter snapshot for one
// provider (§6.3 `provider_health`, C7).
type ProviderHealthRecord struct {
	ProviderID    string    `json:"provider_id"`
	SuccessRate   float64   `json:"success_rate"`
	P50LatencyMs  float64   `json:"p50_latency_ms"`
	P95LatencyMs  float64   `json:"p95_latency_ms"`
	ConsecFailures int      `json:"consecutive_failures"`
	CircuitState  string    `json:"circuit_state"` // CLOSED | OPEN | HALF_OPEN
	LastErrorAt   time.Time `json:"last_error_ts,omitempty"`
}

// BenchmarkRecord is the persisted per-provider per-category quality score
// set (§6.3 `benchmarks`, C6).
type BenchmarkRecord struct {
	ProviderID        string             `json:"provider_id"`
	PerCategoryScores map[string]float64 `json:"per_category_scores"`
	RefreshedAt       time.Time          `json:"refreshed_at"`
}

// CostLedgerEntry is the persisted rolling spend tally for one
// (user, period) pair (§6.3 `cost_ledger`, C14).
type CostLedgerEntry struct {
	UserID      string    `json:"user_id"`
	Period      string    `json:"period"` // "daily" | "monthly"
	SpentUSD    float64   `json:"spent"`
	WindowStart time.Time `json:"window_start"`
}
