package router

import (
	"math/rand"
	"sort"
	"sync/atomic"

	"github.com/jordanhubbard/learncompanion/internal/engineerr"
	"github.com/jordanhubbard/learncompanion/internal/health"
)

// ProviderDescriptor is C8's view of one configured provider.
type ProviderDescriptor struct {
	ID               string
	Model            string // model id passed to the provider adapter's Send/SendStream
	Tier             string // e.g. "premium", "standard", "economy"
	Categories       []string
	MaxContextTokens int
	CostPer1KTokens  float64
	OutputCostPer1KTokens float64
}

func (p ProviderDescriptor) supports(category string) bool {
	for _, c := range p.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// SelectorWeights are the scoring coefficients from §4.8 step 2.
type SelectorWeights struct {
	Quality float64
	Health  float64
	Cost    float64
	Latency float64
}

func (w SelectorWeights) withDefaults() SelectorWeights {
	if w.Quality == 0 && w.Health == 0 && w.Cost == 0 && w.Latency == 0 {
		return SelectorWeights{Quality: 0.4, Health: 0.3, Cost: 0.15, Latency: 0.15}
	}
	return w
}

// SelectorConfig configures C8 (§6.4 SELECTOR_EPSILON_INITIAL/DECAY,
// FALLBACK_CHAIN_LENGTH).
type SelectorConfig struct {
	Weights            SelectorWeights
	EpsilonInitial     float64
	EpsilonDecay       float64
	FallbackChainLength int
}

func (c SelectorConfig) withDefaults() SelectorConfig {
	c.Weights = c.Weights.withDefaults()
	if c.EpsilonInitial <= 0 {
		c.EpsilonInitial = 0.1
	}
	if c.EpsilonDecay <= 0 {
		c.EpsilonDecay = 0.001
	}
	if c.FallbackChainLength <= 0 {
		c.FallbackChainLength = 3
	}
	return c
}

// Selection is C8's output: a ranked candidate list. Primary() is the head;
// Fallbacks() is the remainder, bounded by FallbackChainLength.
type Selection struct {
	Ranked []ProviderDescriptor
}

// Primary returns the top-ranked provider.
func (s Selection) Primary() ProviderDescriptor { return s.Ranked[0] }

// Fallbacks returns the remainder of the ranked list.
func (s Selection) Fallbacks() []ProviderDescriptor {
	if len(s.Ranked) <= 1 {
		return nil
	}
	return s.Ranked[1:]
}

// Selector is C8: the provider selector. It scores candidates with a
// multi-objective function, explores with a decaying-epsilon bandit, and
// excludes providers whose circuit is open (§8 property 7).
type Selector struct {
	health     *health.Tracker
	benchmarks *BenchmarkRegistry
	cfg        SelectorConfig

	requests atomic.Int64
}

// NewSelector wires C7's health tracker and C6's benchmark registry into a
// selector.
func NewSelector(h *health.Tracker, b *BenchmarkRegistry, cfg SelectorConfig) *Selector {
	return &Selector{health: h, benchmarks: b, cfg: cfg.withDefaults()}
}

// Select implements §4.8's algorithm end to end.
func (s *Selector) Select(category string, preferredTier string, budgetTotal int, candidates []ProviderDescriptor) (Selection, error) {
	eligible := s.filter(category, budgetTotal, candidates)
	if len(eligible) == 0 {
		return Selection{}, &engineerr.NoProviderAvailable{Category: category}
	}

	scored := s.score(category, eligible)
	s.applyTierPreference(scored, preferredTier)

	s.requests.Add(1)
	ranked := s.exploreOrExploit(scored)

	if len(ranked) > 1+s.cfg.FallbackChainLength {
		ranked = ranked[:1+s.cfg.FallbackChainLength]
	}
	return Selection{Ranked: ranked}, nil
}

// filter drops providers whose circuit is open, whose context window is too
// small for the requested budget, or which don't support the category
// (§4.8 step 1).
func (s *Selector) filter(category string, budgetTotal int, candidates []ProviderDescriptor) []ProviderDescriptor {
	var out []ProviderDescriptor
	for _, c := range candidates {
		if s.health != nil && !s.health.IsAvailable(c.ID) {
			continue
		}
		if c.MaxContextTokens < budgetTotal {
			continue
		}
		if !c.supports(category) {
			continue
		}
		out = append(out, c)
	}
	return out
}

type scoredProvider struct {
	provider   ProviderDescriptor
	score      float64
	p95Latency float64
}

// score implements §4.8 step 2: score = wq*quality + wh*health - wc*cost -
// wl*latency, with cost and latency normalized against the candidate set's
// maximum so the weights stay meaningful regardless of absolute units.
func (s *Selector) score(category string, candidates []ProviderDescriptor) []scoredProvider {
	maxCost := 0.0
	maxLatency := 0.0
	latencies := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		if c.CostPer1KTokens > maxCost {
			maxCost = c.CostPer1KTokens
		}
		lat := 0.0
		if s.health != nil {
			lat = s.health.GetAvgLatencyMs(c.ID)
		}
		latencies[c.ID] = lat
		if lat > maxLatency {
			maxLatency = lat
		}
	}

	w := s.cfg.Weights
	out := make([]scoredProvider, 0, len(candidates))
	for _, c := range candidates {
		quality := defaultQualityScore
		if s.benchmarks != nil {
			quality = s.benchmarks.Score(c.ID, category)
		}
		healthScore := 1.0
		if s.health != nil {
			healthScore = 1 - s.health.GetErrorRate(c.ID)
		}
		normCost := normalize(c.CostPer1KTokens, maxCost)
		normLatency := normalize(latencies[c.ID], maxLatency)

		sc := w.Quality*quality + w.Health*healthScore - w.Cost*normCost - w.Latency*normLatency
		p95 := 0.0
		if s.health != nil {
			p95 = s.health.GetStats(c.ID).P95LatencyMs
		}
		out = append(out, scoredProvider{provider: c, score: sc, p95Latency: p95})
	}
	return out
}

func normalize(v, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return v / max
}

// applyTierPreference gives a small score bonus to providers matching the
// caller's preferred tier, without excluding others (an unmet preference is
// a soft signal, not a hard filter — §4.8 only lists circuit/context/
// category as hard filters).
func (s *Selector) applyTierPreference(scored []scoredProvider, preferredTier string) {
	if preferredTier == "" {
		return
	}
	for i := range scored {
		if scored[i].provider.Tier == preferredTier {
			scored[i].score += 0.05
		}
	}
}

// exploreOrExploit applies §4.8 step 3-4: with probability epsilon (decaying
// with total requests), sample proportional to score; otherwise rank by
// descending score with the documented tie-break (lower cost, then lower
// p95 latency, then provider ID).
func (s *Selector) exploreOrExploit(scored []scoredProvider) []ProviderDescriptor {
	epsilon := s.cfg.EpsilonInitial / (1 + s.cfg.EpsilonDecay*float64(s.requests.Load()))

	sortByScoreDesc(scored)

	if rand.Float64() >= epsilon || len(scored) <= 1 {
		out := make([]ProviderDescriptor, len(scored))
		for i, sp := range scored {
			out[i] = sp.provider
		}
		return out
	}

	return weightedShuffle(scored)
}

func sortByScoreDesc(scored []scoredProvider) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		if scored[i].provider.CostPer1KTokens != scored[j].provider.CostPer1KTokens {
			return scored[i].provider.CostPer1KTokens < scored[j].provider.CostPer1KTokens
		}
		if scored[i].p95Latency != scored[j].p95Latency {
			return scored[i].p95Latency < scored[j].p95Latency
		}
		return scored[i].provider.ID < scored[j].provider.ID
	})
}

// weightedShuffle draws a full ranking proportional to score, used for the
// bandit's exploration branch. Non-positive scores are floored to a small
// epsilon so every provider retains a nonzero chance of being tried.
func weightedShuffle(scored []scoredProvider) []ProviderDescriptor {
	remaining := append([]scoredProvider(nil), scored...)
	out := make([]ProviderDescriptor, 0, len(remaining))

	for len(remaining) > 0 {
		total := 0.0
		for _, sp := range remaining {
			total += weightFloor(sp.score)
		}
		pick := rand.Float64() * total
		idx := 0
		cum := 0.0
		for i, sp := range remaining {
			cum += weightFloor(sp.score)
			if pick <= cum {
				idx = i
				break
			}
		}
		out = append(out, remaining[idx].provider)
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}
	return out
}

func weightFloor(score float64) float64 {
	const floor = 0.01
	if score < floor {
		return floor
	}
	return score
}
