package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	ListenAddr string
	LogLevel   string

	DBDSN string

	VaultEnabled  bool
	VaultPassword string // auto-unlock vault at startup if set

	DefaultMode         string
	DefaultMaxBudget    float64
	DefaultMaxLatencyMs int

	ProviderTimeoutSecs int

	// Background pricing refresh (pulls the LiteLLM pricing table).
	PricingRefreshEnabled      bool
	PricingRefreshIntervalSecs int

	// ShutdownDrainSecs bounds how long Close() waits for in-flight HTTP
	// requests to finish before forcing shutdown.
	ShutdownDrainSecs int

	// Security & hardening.
	AdminToken     string   // required for /admin/v1 access in production
	CORSOrigins    []string // allowed CORS origins; empty = ["*"]
	RateLimitRPS   int      // requests per second per IP
	RateLimitBurst int      // burst capacity per IP

	// OpenTelemetry tracing (opt-in).
	OTelEnabled     bool   // LEARNCOMPANION_OTEL_ENABLED, default false
	OTelEndpoint    string // LEARNCOMPANION_OTEL_ENDPOINT, default "localhost:4318"
	OTelServiceName string // LEARNCOMPANION_OTEL_SERVICE_NAME, default "learncompanion"

	// Temporal workflow engine.
	TemporalEnabled   bool
	TemporalHostPort  string
	TemporalNamespace string
	TemporalTaskQueue string

	// External credentials file (~/.netrc analogue for provider tokens).
	CredentialsFile string // LEARNCOMPANION_CREDENTIALS_FILE, default ~/.learncompanion/credentials

	// §6.4 core configuration surface.

	// C11 token budget clamps.
	TokenMinReasoning int
	TokenMaxReasoning int
	TokenMinResponse  int
	TokenMaxResponse  int

	// C2 emotion cache.
	CacheL1Capacity int
	CacheL2Capacity int
	CacheTTLSecs    int

	// C7/C8 circuit breaker and fallback chain.
	CircuitFailThreshold  int
	CircuitCooldownSecs   int
	FallbackChainLength   int

	// C9/C13 transport/UX.
	StreamChunkPacingMs int

	// C8 bandit exploration.
	SelectorEpsilonInitial float64
	SelectorEpsilonDecay   float64

	// C14 cost enforcer.
	BudgetDailyUSD   float64
	BudgetMonthlyUSD float64

	// C5 context assembler defaults.
	ContextRecentLimit   int
	ContextRelevantLimit int
	ContextTokenBudget   int

	// C6 benchmark registry external feed (empty = no-op feed, scores stay
	// at the neutral default until an operator configures one).
	BenchmarkFeedURL      string
	BenchmarkRefreshHours int

	// Nightly reconciliation: request log retention window.
	LogRetentionDays int
}

func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr: getEnv("LEARNCOMPANION_LISTEN_ADDR", ":8080"),
		LogLevel:   getEnv("LEARNCOMPANION_LOG_LEVEL", "info"),
		DBDSN:      getEnv("LEARNCOMPANION_DB_DSN", "file:/data/learncompanion.sqlite"),
		VaultEnabled:  getEnvBool("LEARNCOMPANION_VAULT_ENABLED", true),
		VaultPassword: getEnv("LEARNCOMPANION_VAULT_PASSWORD", ""),

		DefaultMode: getEnv("LEARNCOMPANION_DEFAULT_MODE", "normal"),
		DefaultMaxBudget: getEnvFloat("LEARNCOMPANION_DEFAULT_MAX_BUDGET_USD", 0.05),
		DefaultMaxLatencyMs: getEnvInt("LEARNCOMPANION_DEFAULT_MAX_LATENCY_MS", 20000),

		ProviderTimeoutSecs: getEnvInt("LEARNCOMPANION_PROVIDER_TIMEOUT_SECS", 30),

		PricingRefreshEnabled:      getEnvBool("LEARNCOMPANION_PRICING_REFRESH_ENABLED", false),
		PricingRefreshIntervalSecs: getEnvInt("LEARNCOMPANION_PRICING_REFRESH_INTERVAL_SECS", 3600),

		ShutdownDrainSecs: getEnvInt("LEARNCOMPANION_SHUTDOWN_DRAIN_SECS", 30),

		AdminToken:     getEnv("LEARNCOMPANION_ADMIN_TOKEN", ""),
		CORSOrigins:    getEnvStringSlice("LEARNCOMPANION_CORS_ORIGINS", nil),
		RateLimitRPS:   getEnvInt("LEARNCOMPANION_RATE_LIMIT_RPS", 60),
		RateLimitBurst: getEnvInt("LEARNCOMPANION_RATE_LIMIT_BURST", 120),

		OTelEnabled:     getEnvBool("LEARNCOMPANION_OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("LEARNCOMPANION_OTEL_ENDPOINT", "localhost:4318"),
		OTelServiceName: getEnv("LEARNCOMPANION_OTEL_SERVICE_NAME", "learncompanion"),

		TemporalEnabled:   getEnvBool("LEARNCOMPANION_TEMPORAL_ENABLED", false),
		TemporalHostPort:  getEnv("LEARNCOMPANION_TEMPORAL_HOST", "localhost:7233"),
		TemporalNamespace: getEnv("LEARNCOMPANION_TEMPORAL_NAMESPACE", "learncompanion"),
		TemporalTaskQueue: getEnv("LEARNCOMPANION_TEMPORAL_TASK_QUEUE", "learncompanion-tasks"),

		CredentialsFile: getEnv("LEARNCOMPANION_CREDENTIALS_FILE", defaultCredentialsPath()),

		TokenMinReasoning: getEnvInt("LEARNCOMPANION_TOKEN_MIN_REASONING", 128),
		TokenMaxReasoning: getEnvInt("LEARNCOMPANION_TOKEN_MAX_REASONING", 4096),
		TokenMinResponse:  getEnvInt("LEARNCOMPANION_TOKEN_MIN_RESPONSE", 256),
		TokenMaxResponse:  getEnvInt("LEARNCOMPANION_TOKEN_MAX_RESPONSE", 4096),

		CacheL1Capacity: getEnvInt("LEARNCOMPANION_CACHE_L1_CAPACITY", 256),
		CacheL2Capacity: getEnvInt("LEARNCOMPANION_CACHE_L2_CAPACITY", 2048),
		CacheTTLSecs:    getEnvInt("LEARNCOMPANION_CACHE_TTL_SECONDS", 600),

		CircuitFailThreshold: getEnvInt("LEARNCOMPANION_CIRCUIT_FAIL_THRESHOLD", 5),
		CircuitCooldownSecs:  getEnvInt("LEARNCOMPANION_CIRCUIT_COOLDOWN_SECONDS", 30),
		FallbackChainLength:  getEnvInt("LEARNCOMPANION_FALLBACK_CHAIN_LENGTH", 3),

		StreamChunkPacingMs: getEnvInt("LEARNCOMPANION_STREAM_CHUNK_PACING_MS", 30),

		SelectorEpsilonInitial: getEnvFloat("LEARNCOMPANION_SELECTOR_EPSILON_INITIAL", 0.1),
		SelectorEpsilonDecay:   getEnvFloat("LEARNCOMPANION_SELECTOR_EPSILON_DECAY", 0.001),

		BudgetDailyUSD:   getEnvFloat("LEARNCOMPANION_BUDGET_DAILY_USD", 5.0),
		BudgetMonthlyUSD: getEnvFloat("LEARNCOMPANION_BUDGET_MONTHLY_USD", 100.0),

		ContextRecentLimit:   getEnvInt("LEARNCOMPANION_CONTEXT_RECENT_LIMIT", 10),
		ContextRelevantLimit: getEnvInt("LEARNCOMPANION_CONTEXT_RELEVANT_LIMIT", 5),
		ContextTokenBudget:   getEnvInt("LEARNCOMPANION_CONTEXT_TOKEN_BUDGET", 2000),

		BenchmarkFeedURL:      getEnv("LEARNCOMPANION_BENCHMARK_FEED_URL", ""),
		BenchmarkRefreshHours: getEnvInt("LEARNCOMPANION_BENCHMARK_REFRESH_HOURS", 6),

		LogRetentionDays: getEnvInt("LEARNCOMPANION_LOG_RETENTION_DAYS", 90),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("LEARNCOMPANION_RATE_LIMIT_RPS must be > 0, got %d", c.RateLimitRPS)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("LEARNCOMPANION_RATE_LIMIT_BURST must be > 0, got %d", c.RateLimitBurst)
	}
	if c.ProviderTimeoutSecs <= 0 {
		return fmt.Errorf("LEARNCOMPANION_PROVIDER_TIMEOUT_SECS must be > 0, got %d", c.ProviderTimeoutSecs)
	}
	if c.DefaultMaxBudget < 0 {
		return fmt.Errorf("LEARNCOMPANION_DEFAULT_MAX_BUDGET_USD must be >= 0, got %f", c.DefaultMaxBudget)
	}
	if c.DefaultMaxLatencyMs <= 0 {
		return fmt.Errorf("LEARNCOMPANION_DEFAULT_MAX_LATENCY_MS must be > 0, got %d", c.DefaultMaxLatencyMs)
	}
	if c.TokenMinReasoning < 0 || c.TokenMaxReasoning < c.TokenMinReasoning {
		return fmt.Errorf("LEARNCOMPANION_TOKEN_MAX_REASONING must be >= LEARNCOMPANION_TOKEN_MIN_REASONING")
	}
	if c.TokenMinResponse < 0 || c.TokenMaxResponse < c.TokenMinResponse {
		return fmt.Errorf("LEARNCOMPANION_TOKEN_MAX_RESPONSE must be >= LEARNCOMPANION_TOKEN_MIN_RESPONSE")
	}
	if c.BudgetDailyUSD < 0 || c.BudgetMonthlyUSD < 0 {
		return fmt.Errorf("budget limits must be >= 0")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}

func defaultCredentialsPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".learncompanion", "credentials")
	}
	return ""
}
