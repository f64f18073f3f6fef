// Package budget implements C11: turning a query, emotion state, and ability
// estimate into a reasoning/response token split bounded by a provider's
// context window.
package budget

import (
	"regexp"
	"strings"

	"github.com/jordanhubbard/learncompanion/internal/ability"
	"github.com/jordanhubbard/learncompanion/internal/emotion"
)

// Clamps mirror §6.4's TOKEN_MIN_REASONING/TOKEN_MAX_REASONING/
// TOKEN_MIN_RESPONSE/TOKEN_MAX_RESPONSE configuration surface.
type Clamps struct {
	MinReasoning int
	MaxReasoning int
	MinResponse  int
	MaxResponse  int
}

func (c Clamps) withDefaults() Clamps {
	if c.MinReasoning <= 0 {
		c.MinReasoning = 128
	}
	if c.MaxReasoning <= 0 {
		c.MaxReasoning = 2048
	}
	if c.MinResponse <= 0 {
		c.MinResponse = 256
	}
	if c.MaxResponse <= 0 {
		c.MaxResponse = 4096
	}
	return c
}

// TokenBudget is the result handed to the prompt builder and provider
// client (§3).
type TokenBudget struct {
	Total     int
	Reasoning int
	Response  int
}

var (
	questionWordRe = regexp.MustCompile(`(?i)\b(why|how|what|when|where|which|explain|compare|analyze)\b`)
	codeMarkerRe   = regexp.MustCompile("```|\\bfunc\\b|\\bclass\\b|\\bdef\\b|[{};]")
	mathMarkerRe   = regexp.MustCompile(`[=+\-*/^]|\b(integral|derivative|equation|solve)\b`)
	abstractRe     = regexp.MustCompile(`(?i)\b(concept|theory|philosophy|meaning|principle|framework)\b`)
)

// estimateComplexity is the documented fallback heuristic from §4.11: a
// weighted combination of length and lexical markers, clamped to [0,1].
// Once a learner has observation history (sampleCount > 0), a thin
// ability-aware adjustment stands in for "a trained regressor when history
// exists" — the same raw text reads as more complex for a lower-ability
// learner, since complexity is relative to the reader.
func estimateComplexity(query string, sampleCount int64, theta float64) float64 {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return 0
	}

	lengthScore := float64(len(trimmed)) / 400.0
	if lengthScore > 1 {
		lengthScore = 1
	}

	score := 0.35 * lengthScore
	if questionWordRe.MatchString(trimmed) {
		score += 0.2
	}
	if codeMarkerRe.MatchString(trimmed) {
		score += 0.2
	}
	if mathMarkerRe.MatchString(trimmed) {
		score += 0.15
	}
	if abstractRe.MatchString(trimmed) {
		score += 0.1
	}

	if sampleCount > 0 {
		score += 0.15 * (0.5 - theta)
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// emotionFactor adjusts reasoning allocation: confusion/nervousness merit
// more deliberate reasoning; annoyance/disappointment (overwhelm-adjacent)
// merit less (§4.11).
func emotionFactor(primary emotion.Label) float64 {
	switch primary {
	case emotion.Confusion, emotion.Nervousness:
		return 1.2
	case emotion.Annoyance, emotion.Disappointment:
		return 0.85
	default:
		return 1.0
	}
}

// loadFactor is the inverse of cognitive load: heavier load shrinks the
// reasoning allocation.
func loadFactor(load emotion.CognitiveLoad) float64 {
	switch load {
	case emotion.MinimalLoad:
		return 1.15
	case emotion.LowLoad:
		return 1.05
	case emotion.ModerateLoad:
		return 1.0
	case emotion.HighLoad:
		return 0.85
	case emotion.Overload:
		return 0.65
	default:
		return 1.0
	}
}

// readinessFactor: higher readiness allows more reasoning budget.
func readinessFactor(r emotion.Readiness) float64 {
	switch r {
	case emotion.NotReady:
		return 0.8
	case emotion.LowReadiness:
		return 0.9
	case emotion.ModerateReadiness:
		return 1.0
	case emotion.HighReadiness:
		return 1.1
	case emotion.Optimal:
		return 1.2
	default:
		return 1.0
	}
}

// Allocate implements §4.11's algorithm end to end, enforcing both
// invariants from §8 property 3: reasoning+response <= providerMaxTokens and
// response >= clamps.MinResponse.
func Allocate(query string, emo emotion.Result, abl ability.Estimate, providerMaxTokens int, clamps Clamps) TokenBudget {
	clamps = clamps.withDefaults()

	complexity := estimateComplexity(query, abl.SampleCount, abl.Theta)
	baseReasoning := float64(clamps.MinReasoning) + float64(clamps.MaxReasoning-clamps.MinReasoning)*complexity

	factor := emotionFactor(emo.PrimaryEmotion) * loadFactor(emo.CognitiveLoad) * readinessFactor(emo.LearningReadiness)
	reasoning := clampInt(int(baseReasoning*factor), clamps.MinReasoning, clamps.MaxReasoning)

	response := clampInt(providerMaxTokens-reasoning, clamps.MinResponse, clamps.MaxResponse)

	if reasoning+response > providerMaxTokens {
		total := reasoning + response
		scale := float64(providerMaxTokens) / float64(total)
		reasoning = int(float64(reasoning) * scale)
		response = providerMaxTokens - reasoning
		if response < clamps.MinResponse {
			response = clamps.MinResponse
			reasoning = providerMaxTokens - response
			if reasoning < 0 {
				reasoning = 0
			}
		}
	}

	// reasoning+response <= providerMaxTokens (§8 property 3) holds
	// unconditionally, even in the degenerate case where providerMaxTokens
	// is itself smaller than clamps.MinResponse and the clamp above cannot
	// be satisfied alongside it.
	if reasoning+response > providerMaxTokens {
		response = providerMaxTokens - reasoning
		if response < 0 {
			response = 0
			reasoning = providerMaxTokens
		}
	}

	return TokenBudget{Total: providerMaxTokens, Reasoning: reasoning, Response: response}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
