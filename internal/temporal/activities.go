package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/jordanhubbard/learncompanion/internal/apikey"
	"github.com/jordanhubbard/learncompanion/internal/events"
	"github.com/jordanhubbard/learncompanion/internal/router"
	"github.com/jordanhubbard/learncompanion/internal/store"
)

// Activities holds dependencies for Temporal activity implementations. Two
// background maintenance workflows run against these: BenchmarkRefreshWorkflow
// (C6) and ReconcileWorkflow (log retention and budget cache hygiene).
type Activities struct {
	Registry      *router.BenchmarkRegistry
	BenchmarkFeed router.BenchmarkFeed
	Store         store.Store
	BudgetChecker *apikey.BudgetChecker
	EventBus      *events.Bus
	Logger        *slog.Logger
}

// RefreshBenchmarks fetches the latest per-provider benchmark scores and
// updates the registry, sharing its body with the in-process refresh loop
// via router.RefreshOnce so both paths stay identical.
func (a *Activities) RefreshBenchmarks(ctx context.Context, input BenchmarkRefreshInput) (BenchmarkRefreshOutput, error) {
	if a.Registry == nil || a.BenchmarkFeed == nil {
		return BenchmarkRefreshOutput{}, fmt.Errorf("benchmark refresh: registry or feed not configured")
	}

	activity.RecordHeartbeat(ctx, "refreshing")
	if err := router.RefreshOnce(a.Registry, a.Store, a.BenchmarkFeed, a.Logger); err != nil {
		if a.EventBus != nil {
			a.EventBus.Publish(events.Event{
				Type:      events.EventWorkflowFailed,
				RequestID: input.RequestID,
				ErrorMsg:  err.Error(),
			})
		}
		return BenchmarkRefreshOutput{Error: err.Error()}, err
	}

	if a.EventBus != nil {
		a.EventBus.Publish(events.Event{
			Type:      events.EventWorkflowCompleted,
			RequestID: input.RequestID,
		})
	}
	return BenchmarkRefreshOutput{}, nil
}

// PruneLogs deletes request logs older than retention, returning the number
// of rows removed.
func (a *Activities) PruneLogs(ctx context.Context, retention time.Duration) (int64, error) {
	if a.Store == nil {
		return 0, nil
	}
	activity.RecordHeartbeat(ctx, "pruning logs")
	return a.Store.PruneOldLogs(ctx, retention)
}

// ClearBudgetCache drops every cached per-key spend figure so the next
// budget check for each key recomputes from the store, returning the number
// of entries cleared.
func (a *Activities) ClearBudgetCache(ctx context.Context) (int, error) {
	if a.BudgetChecker == nil {
		return 0, nil
	}
	activity.RecordHeartbeat(ctx, "clearing budget cache")
	return a.BudgetChecker.ClearCache(), nil
}
