// Package cost implements C14: per-user daily/monthly spend enforcement.
// Grounded on the teacher's internal/apikey.BudgetChecker TTL-cached-spend
// pattern, repointed at (user_id, period) rolling windows instead of
// per-API-key monthly caps.
package cost

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jordanhubbard/learncompanion/internal/store"
)

const spendCacheTTL = 10 * time.Second

// Period names match store.CostLedgerEntry.Period.
const (
	Daily   = "daily"
	Monthly = "monthly"
)

// ExhaustedError is returned when a pre-flight check projects the request
// would exceed the user's remaining allowance for a period. It maps to the
// BUDGET_EXHAUSTED wire error code and is terminal (not retryable), per
// §4.14 and §7.
type ExhaustedError struct {
	Period    string
	BudgetUSD float64
	SpentUSD  float64
	Projected float64
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s budget exhausted: spent=$%.4f projected=$%.4f budget=$%.2f", e.Period, e.SpentUSD, e.Projected, e.BudgetUSD)
}

type cachedSpend struct {
	amount    float64
	expiresAt time.Time
}

// Limits are the configured allowances (§6.4 BUDGET_DAILY_USD/BUDGET_MONTHLY_USD).
type Limits struct {
	DailyUSD   float64
	MonthlyUSD float64
}

// Enforcer is C14. Reads for pre-flight checks are served from a short TTL
// cache and are eventually consistent by design (§4.14 discipline); writes
// go straight to the store so the "no indefinite overrun" invariant is
// enforced by the post-flight path regardless of cache staleness.
type Enforcer struct {
	db     store.Store
	limits Limits

	mu    sync.RWMutex
	cache map[string]cachedSpend // "userID|period" -> cached spend
}

// NewEnforcer wraps a document store as C14's cost enforcer.
func NewEnforcer(db store.Store, limits Limits) *Enforcer {
	return &Enforcer{db: db, limits: limits, cache: make(map[string]cachedSpend)}
}

func cacheKey(userID, period string) string { return userID + "|" + period }

// CheckPreflight rejects the request with an *ExhaustedError if the
// projected cost would push either the daily or monthly tally over its
// configured limit. A zero-valued limit means unlimited for that period.
func (e *Enforcer) CheckPreflight(ctx context.Context, userID string, projectedUSD float64) error {
	if err := e.checkPeriod(ctx, userID, Daily, e.limits.DailyUSD, projectedUSD); err != nil {
		return err
	}
	return e.checkPeriod(ctx, userID, Monthly, e.limits.MonthlyUSD, projectedUSD)
}

func (e *Enforcer) checkPeriod(ctx context.Context, userID, period string, limit, projectedUSD float64) error {
	if limit <= 0 {
		return nil
	}
	spent, err := e.getSpend(ctx, userID, period)
	if err != nil {
		return fmt.Errorf("cost: preflight check: %w", err)
	}
	if spent+projectedUSD > limit {
		return &ExhaustedError{Period: period, BudgetUSD: limit, SpentUSD: spent, Projected: projectedUSD}
	}
	return nil
}

// RecordActual adds the actual cost of a completed request to both the
// daily and monthly tallies (§4.14 post-flight). This is the write-through
// path that bounds any overrun the eventually-consistent pre-flight reads
// might have missed.
func (e *Enforcer) RecordActual(ctx context.Context, userID string, actualUSD float64) error {
	now := time.Now()
	if err := e.addCost(ctx, userID, Daily, dayWindowStart(now), actualUSD); err != nil {
		return err
	}
	return e.addCost(ctx, userID, Monthly, monthWindowStart(now), actualUSD)
}

func (e *Enforcer) addCost(ctx context.Context, userID, period string, windowStart time.Time, deltaUSD float64) error {
	entry, err := e.db.AddCost(ctx, userID, period, windowStart, deltaUSD)
	if err != nil {
		return fmt.Errorf("cost: add: %w", err)
	}
	e.mu.Lock()
	e.cache[cacheKey(userID, period)] = cachedSpend{amount: entry.SpentUSD, expiresAt: time.Now().Add(spendCacheTTL)}
	e.mu.Unlock()
	return nil
}

func (e *Enforcer) getSpend(ctx context.Context, userID, period string) (float64, error) {
	key := cacheKey(userID, period)

	e.mu.RLock()
	if cached, ok := e.cache[key]; ok && time.Now().Before(cached.expiresAt) {
		e.mu.RUnlock()
		return cached.amount, nil
	}
	e.mu.RUnlock()

	entry, err := e.db.GetCostLedger(ctx, userID, period)
	if err != nil {
		return 0, err
	}
	var spent float64
	if entry != nil {
		spent = entry.SpentUSD
	}

	e.mu.Lock()
	e.cache[key] = cachedSpend{amount: spent, expiresAt: time.Now().Add(spendCacheTTL)}
	e.mu.Unlock()

	return spent, nil
}

func dayWindowStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func monthWindowStart(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}
