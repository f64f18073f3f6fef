package temporal

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	refreshActivityTimeout   = 60 * time.Second
	reconcileActivityTimeout = 5 * time.Minute
)

// BenchmarkRefreshWorkflow drives C6's periodic benchmark refresh (§4.6)
// through Temporal instead of an in-process goroutine, so refresh history is
// visible in the Temporal UI and retries survive a server restart.
func BenchmarkRefreshWorkflow(ctx workflow.Context, input BenchmarkRefreshInput) (BenchmarkRefreshOutput, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: refreshActivityTimeout,
		HeartbeatTimeout:    15 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    30 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Minute,
			MaximumAttempts:    5,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var out BenchmarkRefreshOutput
	err := workflow.ExecuteActivity(ctx, (*Activities).RefreshBenchmarks, input).Get(ctx, &out)
	if err != nil {
		return BenchmarkRefreshOutput{Error: err.Error()}, err
	}
	return out, nil
}

// ReconcileWorkflow runs the nightly maintenance sweep: it prunes request
// logs past their retention window and clears the API key budget cache so
// every key's next check recomputes from the store rather than trusting a
// cache entry that may have gone stale overnight.
func ReconcileWorkflow(ctx workflow.Context, input ReconcileInput) (ReconcileOutput, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: reconcileActivityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	retention := input.LogRetention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}

	var pruned int64
	if err := workflow.ExecuteActivity(ctx, (*Activities).PruneLogs, retention).Get(ctx, &pruned); err != nil {
		return ReconcileOutput{Error: err.Error()}, err
	}

	var cleared int
	if err := workflow.ExecuteActivity(ctx, (*Activities).ClearBudgetCache).Get(ctx, &cleared); err != nil {
		return ReconcileOutput{PrunedLogCount: pruned, Error: err.Error()}, err
	}

	return ReconcileOutput{PrunedLogCount: pruned, ClearedBudgetCacheN: cleared}, nil
}
