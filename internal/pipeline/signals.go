package pipeline

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/jordanhubbard/learncompanion/internal/ability"
	"github.com/jordanhubbard/learncompanion/internal/convo"
	"github.com/jordanhubbard/learncompanion/internal/difficulty"
	"github.com/jordanhubbard/learncompanion/internal/emotion"
	"github.com/jordanhubbard/learncompanion/internal/router"
)

// signals bundles step 2's concurrently-gathered inputs (§4.12 step 2: "any
// failure degrades gracefully").
type signals struct {
	emotion emotion.Result
	context convo.Context
	ability ability.Estimate
}

// gatherSignals runs C1 (via C2), C5, and C3 concurrently. C1 never errors
// (it returns a degraded neutral Result instead, per §4.1); C5 and C3 errors
// degrade to an empty context / prior estimate respectively rather than
// failing the request, per §4.12 step 2.
func (e *Engine) gatherSignals(ctx context.Context, userID, sessionID, subject, message string) signals {
	var out signals
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		hint := emotion.AbilityHint{}
		if est, err := e.abilityStore.Get(ctx, userID, subject); err == nil {
			hint.Theta = est.Theta
		}
		out.emotion = e.emotionCache.Get(ctx, message, userID, hint)
	}()

	go func() {
		defer wg.Done()
		c, err := e.assembler.Assemble(ctx, sessionID, userID, time.Now(), nil, "")
		if err != nil {
			e.logger.Warn("context assembly degraded", "error", err.Error())
			c = convo.Context{}
		}
		out.context = c
	}()

	go func() {
		defer wg.Done()
		est, err := e.abilityStore.Get(ctx, userID, subject)
		if err != nil {
			e.logger.Warn("ability read degraded to prior", "error", err.Error())
			est = ability.Estimate{UserID: userID, Subject: subject}
		}
		out.ability = est
	}()

	wg.Wait()
	return out
}

var (
	codeMarkerRe = regexp.MustCompile("```|\\bfunc\\b|\\bclass\\b|\\bdef\\b|[{};]")
	mathMarkerRe = regexp.MustCompile(`(?i)[=+\-/^]|\b(integral|derivative|equation|solve|theorem)\b`)
)

// deriveCategory maps a query onto one of C6/C8's five benchmark categories.
// The data model carries no explicit category field (§6.1 only lists
// subject/message/options), so this heuristic stands in for a classifier an
// operator could swap in later; subject is consulted first since it is the
// more reliable signal when present.
func deriveCategory(subject, message string) string {
	switch subject {
	case "coding", "programming", "software":
		return "coding"
	case "math", "mathematics":
		return "math"
	case "creative", "writing":
		return "creative"
	}
	if codeMarkerRe.MatchString(message) {
		return "coding"
	}
	if mathMarkerRe.MatchString(message) {
		return "math"
	}
	return "general"
}

// buildCandidates turns the router's registered models into C8's provider
// descriptors. Categories default to all five since no per-model category
// metadata exists on router.Model; a model that only handles a subset would
// need that metadata added to types.go first.
var allCategories = []string{"coding", "reasoning", "general", "creative", "math"}

func (e *Engine) buildCandidates() []router.ProviderDescriptor {
	models := e.router.ListModels()
	out := make([]router.ProviderDescriptor, 0, len(models))
	for _, m := range models {
		if !m.Enabled {
			continue
		}
		if e.router.GetAdapter(m.ProviderID) == nil {
			continue
		}
		out = append(out, router.ProviderDescriptor{
			ID:                    m.ProviderID,
			Model:                 m.ID,
			Tier:                  "standard",
			Categories:            allCategories,
			MaxContextTokens:      m.MaxContextTokens,
			CostPer1KTokens:       m.InputPer1K,
			OutputCostPer1KTokens: m.OutputPer1K,
		})
	}
	return out
}

// inferOutcome derives the Bayesian update's y∈{0,1} signal from the
// learner's emotional state rather than an explicit correctness label: this
// request path is free-form conversation, not a graded quiz item, and §6.1
// carries no correctness field. High readiness/flow stands in for "this
// difficulty level is landing," everything else for "it isn't" — a
// documented simplification of §4.3's outcome contract, not a hardcoded
// emotion threshold on the classification itself (§4.1's own zero-threshold
// rule governs the classifier, not this downstream mapping).
func inferOutcome(emo emotion.Result) int {
	if emo.LearningReadiness == emotion.HighReadiness || emo.LearningReadiness == emotion.Optimal || emo.FlowState == emotion.Flow {
		return 1
	}
	return 0
}

// difficultyToIRT returns the IRT item difficulty/discrimination inputs
// (b, a) for ability.Update: the difficulty level
// chosen for this request, normalized to the IRT [0,1] theta scale, with a
// fixed population-average discrimination (the same constant C4 uses
// internally, since item-specific discrimination is not observable here).
func difficultyToIRT(level difficulty.Level) (b, a float64) {
	return float64(level) / float64(difficulty.Expert), 1.0
}
