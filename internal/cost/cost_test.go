package cost

import (
	"context"
	"errors"
	"testing"

	"github.com/jordanhubbard/learncompanion/internal/store"
)

func newTestDB(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCheckPreflightAllowsUnderBudget(t *testing.T) {
	e := NewEnforcer(newTestDB(t), Limits{DailyUSD: 10, MonthlyUSD: 100})
	if err := e.CheckPreflight(context.Background(), "u1", 1.0); err != nil {
		t.Fatalf("expected preflight to pass, got %v", err)
	}
}

func TestCheckPreflightRejectsOverBudget(t *testing.T) {
	e := NewEnforcer(newTestDB(t), Limits{DailyUSD: 1.0, MonthlyUSD: 100})
	ctx := context.Background()

	if err := e.RecordActual(ctx, "u1", 0.9); err != nil {
		t.Fatalf("RecordActual: %v", err)
	}

	err := e.CheckPreflight(ctx, "u1", 0.5)
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected *ExhaustedError, got %v", err)
	}
	if exhausted.Period != Daily {
		t.Fatalf("expected daily period to be the one exhausted, got %s", exhausted.Period)
	}
}

func TestUnlimitedBudgetNeverRejects(t *testing.T) {
	e := NewEnforcer(newTestDB(t), Limits{})
	ctx := context.Background()
	if err := e.RecordActual(ctx, "u1", 1000); err != nil {
		t.Fatalf("RecordActual: %v", err)
	}
	if err := e.CheckPreflight(ctx, "u1", 1000); err != nil {
		t.Fatalf("expected unlimited budget to never reject, got %v", err)
	}
}

func TestRecordActualAccumulatesAcrossCalls(t *testing.T) {
	e := NewEnforcer(newTestDB(t), Limits{DailyUSD: 5})
	ctx := context.Background()

	if err := e.RecordActual(ctx, "u1", 2.0); err != nil {
		t.Fatalf("RecordActual: %v", err)
	}
	if err := e.RecordActual(ctx, "u1", 2.0); err != nil {
		t.Fatalf("RecordActual: %v", err)
	}

	err := e.CheckPreflight(ctx, "u1", 2.0)
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected accumulated spend (4.0) + projected (2.0) to exceed the 5.0 daily limit, got %v", err)
	}
}
