package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestLatency   *prometheus.HistogramVec
	CostUSD          *prometheus.CounterVec
	RateLimitedTotal prometheus.Counter
	TemporalUp       prometheus.Gauge

	// Circuit breaker metrics.
	TemporalCircuitState prometheus.Gauge   // 0=closed, 1=open, 2=half-open
	TemporalFallbackTotal prometheus.Counter // count of requests that fell back to direct engine

	// Learning pipeline metrics (C1-C14).
	EmotionCacheHitsTotal      prometheus.Counter
	EmotionCacheMissesTotal    prometheus.Counter
	EmotionDegradedTotal       prometheus.Counter
	AbilityUpdatesTotal        *prometheus.CounterVec // subject
	AbilityConfidence         *prometheus.GaugeVec    // user_id, subject
	DifficultyTransitionsTotal *prometheus.CounterVec // from, to
	ContextAssembleLatencyMs  prometheus.Histogram
	BenchmarkAgeSeconds       *prometheus.GaugeVec // provider
	ProviderCircuitState      *prometheus.GaugeVec // provider: 0=closed,1=open,2=half-open
	BanditSelectionsTotal     *prometheus.CounterVec // provider, explore_or_exploit
	TokenBudgetUtilization    prometheus.Histogram
	StreamEventsTotal         *prometheus.CounterVec // event_type
	BudgetRejectionsTotal     *prometheus.CounterVec // period
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "learncompanion_requests_total",
			Help: "Total requests routed through learncompanion",
		}, []string{"mode", "model", "provider", "status"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "learncompanion_request_latency_ms",
			Help: "Request latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}, []string{"mode", "model", "provider"}),
		CostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "learncompanion_cost_usd_total",
			Help: "Estimated USD cost",
		}, []string{"model", "provider"}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "learncompanion_rate_limited_total",
			Help: "Total requests rejected by rate limiter",
		}),
		TemporalUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "learncompanion_temporal_up",
			Help: "Whether Temporal workflow engine is connected (1=up, 0=down/disabled)",
		}),
		TemporalCircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "learncompanion_temporal_circuit_state",
			Help: "Temporal circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		TemporalFallbackTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "learncompanion_temporal_fallback_total",
			Help: "Total requests that fell back to direct engine due to circuit breaker",
		}),
		EmotionCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "learncompanion_emotion_cache_hits_total",
			Help: "Emotion cache hits",
		}),
		EmotionCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "learncompanion_emotion_cache_misses_total",
			Help: "Emotion cache misses",
		}),
		EmotionDegradedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "learncompanion_emotion_degraded_total",
			Help: "Emotion inference calls that fell back to the neutral degraded result",
		}),
		AbilityUpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "learncompanion_ability_updates_total",
			Help: "IRT ability updates applied",
		}, []string{"subject"}),
		AbilityConfidence: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "learncompanion_ability_confidence",
			Help: "Current ability confidence per user/subject",
		}, []string{"user_id", "subject"}),
		DifficultyTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "learncompanion_difficulty_transitions_total",
			Help: "Difficulty level transitions",
		}, []string{"from", "to"}),
		ContextAssembleLatencyMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "learncompanion_context_assemble_latency_ms",
			Help:    "Latency of context assembly (C5)",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		BenchmarkAgeSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "learncompanion_benchmark_age_seconds",
			Help: "Age of the last successful benchmark refresh per provider",
		}, []string{"provider"}),
		ProviderCircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "learncompanion_provider_circuit_state",
			Help: "Provider circuit state (0=closed, 1=open, 2=half-open)",
		}, []string{"provider"}),
		BanditSelectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "learncompanion_bandit_selections_total",
			Help: "Provider selections made by the selector bandit",
		}, []string{"provider", "branch"}),
		TokenBudgetUtilization: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "learncompanion_token_budget_utilization",
			Help:    "Fraction of provider_max_tokens consumed by reasoning+response",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		StreamEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "learncompanion_stream_events_total",
			Help: "Streaming protocol events emitted",
		}, []string{"event_type"}),
		BudgetRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "learncompanion_budget_rejections_total",
			Help: "Requests rejected by the cost enforcer",
		}, []string{"period"}),
	}
	reg.MustRegister(m.RequestsTotal, m.RequestLatency, m.CostUSD, m.RateLimitedTotal, m.TemporalUp, m.TemporalCircuitState, m.TemporalFallbackTotal,
		m.EmotionCacheHitsTotal, m.EmotionCacheMissesTotal, m.EmotionDegradedTotal, m.AbilityUpdatesTotal, m.AbilityConfidence,
		m.DifficultyTransitionsTotal, m.ContextAssembleLatencyMs, m.BenchmarkAgeSeconds, m.ProviderCircuitState, m.BanditSelectionsTotal,
		m.TokenBudgetUtilization, m.StreamEventsTotal, m.BudgetRejectionsTotal)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
