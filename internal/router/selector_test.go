package router

import (
	"errors"
	"testing"
	"time"

	"github.com/jordanhubbard/learncompanion/internal/engineerr"
	"github.com/jordanhubbard/learncompanion/internal/health"
)

func TestSelectorFiltersOutUnsupportedCategory(t *testing.T) {
	s := NewSelector(nil, nil, SelectorConfig{})
	candidates := []ProviderDescriptor{
		{ID: "p1", Categories: []string{"math"}, MaxContextTokens: 4096},
	}
	_, err := s.Select("coding", "", 100, candidates)
	var npa *engineerr.NoProviderAvailable
	if !errors.As(err, &npa) {
		t.Fatalf("expected *engineerr.NoProviderAvailable, got %v", err)
	}
}

func TestSelectorExcludesOpenCircuits(t *testing.T) {
	ht := health.NewTracker(health.TrackerConfig{FailThreshold: 1, Cooldown: 0})
	ht.RecordError("down", "connection refused")

	s := NewSelector(ht, NewBenchmarkRegistry(), SelectorConfig{})
	candidates := []ProviderDescriptor{
		{ID: "down", Categories: []string{"general"}, MaxContextTokens: 4096},
		{ID: "up", Categories: []string{"general"}, MaxContextTokens: 4096},
	}
	sel, err := s.Select("general", "", 100, candidates)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	for _, p := range sel.Ranked {
		if p.ID == "down" {
			t.Fatal("expected the open-circuit provider to be excluded from ranking")
		}
	}
}

func TestSelectorFiltersOutInsufficientContext(t *testing.T) {
	s := NewSelector(nil, nil, SelectorConfig{})
	candidates := []ProviderDescriptor{
		{ID: "small", Categories: []string{"general"}, MaxContextTokens: 100},
		{ID: "big", Categories: []string{"general"}, MaxContextTokens: 100000},
	}
	sel, err := s.Select("general", "", 4096, candidates)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(sel.Ranked) != 1 || sel.Ranked[0].ID != "big" {
		t.Fatalf("Ranked = %+v, want only 'big'", sel.Ranked)
	}
}

func TestSortByScoreDescTieBreaksOnCostThenP95ThenID(t *testing.T) {
	scored := []scoredProvider{
		{provider: ProviderDescriptor{ID: "z", CostPer1KTokens: 0.1}, score: 1.0, p95Latency: 100},
		{provider: ProviderDescriptor{ID: "a", CostPer1KTokens: 0.1}, score: 1.0, p95Latency: 100},
		{provider: ProviderDescriptor{ID: "slow", CostPer1KTokens: 0.1}, score: 1.0, p95Latency: 500},
		{provider: ProviderDescriptor{ID: "expensive", CostPer1KTokens: 0.5}, score: 1.0, p95Latency: 0},
	}
	sortByScoreDesc(scored)

	want := []string{"a", "z", "slow", "expensive"}
	got := make([]string, len(scored))
	for i, sp := range scored {
		got[i] = sp.provider.ID
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ranking = %v, want %v (cost, then p95 latency, then id)", got, want)
		}
	}
}

func TestSelectorPopulatesP95LatencyFromHealthTracker(t *testing.T) {
	ht := health.NewTracker(health.DefaultConfig())
	ht.RecordSuccess("p1", 250)

	s := NewSelector(ht, NewBenchmarkRegistry(), SelectorConfig{})
	scored := s.score("general", []ProviderDescriptor{{ID: "p1"}})
	if len(scored) != 1 {
		t.Fatalf("score() returned %d entries, want 1", len(scored))
	}
	if scored[0].p95Latency != ht.GetStats("p1").P95LatencyMs {
		t.Fatalf("p95Latency = %v, want %v", scored[0].p95Latency, ht.GetStats("p1").P95LatencyMs)
	}
}

func TestSelectorRanksTrustedQualityHigher(t *testing.T) {
	bench := NewBenchmarkRegistry()
	bench.Update("good", map[string]float64{"coding": 0.95}, time.Now())
	bench.Update("bad", map[string]float64{"coding": 0.1}, time.Now())

	s := NewSelector(nil, bench, SelectorConfig{EpsilonInitial: 0})
	candidates := []ProviderDescriptor{
		{ID: "bad", Categories: []string{"coding"}, MaxContextTokens: 4096},
		{ID: "good", Categories: []string{"coding"}, MaxContextTokens: 4096},
	}
	sel, err := s.Select("coding", "", 100, candidates)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.Primary().ID != "good" {
		t.Fatalf("Primary = %q, want good", sel.Primary().ID)
	}
}

func TestSelectionFallbacksExcludesPrimary(t *testing.T) {
	sel := Selection{Ranked: []ProviderDescriptor{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	fb := sel.Fallbacks()
	if len(fb) != 2 || fb[0].ID != "b" || fb[1].ID != "c" {
		t.Fatalf("Fallbacks = %+v, want [b c]", fb)
	}
	single := Selection{Ranked: []ProviderDescriptor{{ID: "a"}}}
	if single.Fallbacks() != nil {
		t.Fatal("expected nil fallbacks for a single-candidate selection")
	}
}

func TestSelectorTruncatesToFallbackChainLength(t *testing.T) {
	s := NewSelector(nil, nil, SelectorConfig{FallbackChainLength: 1})
	candidates := []ProviderDescriptor{
		{ID: "a", Categories: []string{"general"}, MaxContextTokens: 4096},
		{ID: "b", Categories: []string{"general"}, MaxContextTokens: 4096},
		{ID: "c", Categories: []string{"general"}, MaxContextTokens: 4096},
	}
	sel, err := s.Select("general", "", 100, candidates)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(sel.Ranked) != 2 {
		t.Fatalf("Ranked length = %d, want 2 (primary + 1 fallback)", len(sel.Ranked))
	}
}
