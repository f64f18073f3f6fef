package router

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jordanhubbard/learncompanion/internal/store"
)

// BenchmarkRegistry is C6: per-provider quality scores partitioned by task
// category, refreshed from an external feed on a schedule. Grounded on
// StartRefreshLoop's periodic-refresh shape, extended with exponential
// backoff on failure (§4.6) instead of a fixed interval on error.
type BenchmarkRegistry struct {
	mu    sync.RWMutex
	byID  map[string]map[string]float64 // provider_id -> category -> score
	asOf  map[string]time.Time          // provider_id -> refreshed_at
}

// NewBenchmarkRegistry constructs an empty registry. Until the first
// refresh succeeds, Score returns a neutral default so selection never
// blocks on benchmark availability (§4.6 "never blocks request processing").
func NewBenchmarkRegistry() *BenchmarkRegistry {
	return &BenchmarkRegistry{
		byID: make(map[string]map[string]float64),
		asOf: make(map[string]time.Time),
	}
}

// defaultQualityScore is used for a (provider, category) pair with no
// benchmark data yet.
const defaultQualityScore = 0.5

// Score returns the quality score in [0,1] for a provider/category pair,
// falling back to defaultQualityScore when no benchmark is known (§4.6
// "stale data is used until fresh data arrives" — an unknown pair is
// treated the same as maximally stale).
func (r *BenchmarkRegistry) Score(providerID, category string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cats, ok := r.byID[providerID]; ok {
		if s, ok := cats[category]; ok {
			return s
		}
	}
	return defaultQualityScore
}

// HasCategory reports whether a provider has any benchmark score recorded
// for the category, used by the selector to exclude providers that "lack
// the category" (§4.8 step 1).
func (r *BenchmarkRegistry) HasCategory(providerID, category string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cats, ok := r.byID[providerID]
	if !ok {
		return false
	}
	_, ok = cats[category]
	return ok
}

// RefreshedAt returns when a provider's benchmark data was last refreshed,
// zero if never.
func (r *BenchmarkRegistry) RefreshedAt(providerID string) time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.asOf[providerID]
}

// Update replaces one provider's per-category scores with freshly fetched
// data.
func (r *BenchmarkRegistry) Update(providerID string, scores map[string]float64, refreshedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make(map[string]float64, len(scores))
	for k, v := range scores {
		cp[k] = v
	}
	r.byID[providerID] = cp
	r.asOf[providerID] = refreshedAt
}

// BenchmarkFeed fetches the latest per-provider, per-category scores from
// an external source. The server wiring supplies this, e.g. backed by a
// vendor benchmark API or a periodically-updated document.
type BenchmarkFeed func(ctx context.Context) (map[string]map[string]float64, error)

// BenchmarkRefreshConfig configures C6's refresh loop (§6.4 implied cadence
// "every 6h").
type BenchmarkRefreshConfig struct {
	Interval       time.Duration
	MinBackoff     time.Duration
	MaxBackoff     time.Duration
}

func (c BenchmarkRefreshConfig) withDefaults() BenchmarkRefreshConfig {
	if c.Interval <= 0 {
		c.Interval = 6 * time.Hour
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = 30 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Minute
	}
	return c
}

// StartBenchmarkRefreshLoop periodically refreshes the registry from feed,
// persisting each successful refresh to the store so a restart begins from
// the last known-good snapshot. On failure it retries with exponential
// backoff (capped at MaxBackoff) instead of waiting a full Interval, so
// transient feed outages recover quickly while steady state stays on the
// configured cadence. Returns a stop function.
func StartBenchmarkRefreshLoop(cfg BenchmarkRefreshConfig, reg *BenchmarkRegistry, db store.Store, feed BenchmarkFeed, logger *slog.Logger) func() {
	cfg = cfg.withDefaults()
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)

		loadPersisted(reg, db, logger)

		backoff := cfg.MinBackoff
		timer := time.NewTimer(0)
		defer timer.Stop()

		for {
			select {
			case <-timer.C:
				if err := RefreshOnce(reg, db, feed, logger); err != nil {
					if logger != nil {
						logger.Warn("benchmark registry: refresh failed, backing off",
							slog.String("error", err.Error()), slog.Duration("backoff", backoff))
					}
					timer.Reset(backoff)
					backoff *= 2
					if backoff > cfg.MaxBackoff {
						backoff = cfg.MaxBackoff
					}
					continue
				}
				backoff = cfg.MinBackoff
				timer.Reset(cfg.Interval)
			case <-stop:
				return
			}
		}
	}()

	return func() {
		close(stop)
		<-done
	}
}

func loadPersisted(reg *BenchmarkRegistry, db store.Store, logger *slog.Logger) {
	if db == nil {
		return
	}
	records, err := db.LoadBenchmarks(context.Background())
	if err != nil {
		if logger != nil {
			logger.Warn("benchmark registry: failed to load persisted snapshot", slog.String("error", err.Error()))
		}
		return
	}
	for _, rec := range records {
		reg.Update(rec.ProviderID, rec.PerCategoryScores, rec.RefreshedAt)
	}
}

// RefreshOnce performs a single feed fetch and registry/store update. It is
// the shared body behind both StartBenchmarkRefreshLoop's in-process ticker
// and the BenchmarkRefreshWorkflow Temporal activity, so the two refresh
// paths can never drift apart.
func RefreshOnce(reg *BenchmarkRegistry, db store.Store, feed BenchmarkFeed, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data, err := feed(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	for providerID, scores := range data {
		reg.Update(providerID, scores, now)
		if db != nil {
			rec := store.BenchmarkRecord{ProviderID: providerID, PerCategoryScores: scores, RefreshedAt: now}
			if err := db.SaveBenchmark(ctx, rec); err != nil && logger != nil {
				logger.Warn("benchmark registry: failed to persist refreshed scores",
					slog.String("provider_id", providerID), slog.String("error", err.Error()))
			}
		}
	}
	return nil
}
