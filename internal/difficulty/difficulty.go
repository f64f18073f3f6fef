// Package difficulty implements C4: given a learner's ability estimate and
// current emotional state, pick the next DifficultyLevel to target.
package difficulty

import (
	"math"

	"github.com/jordanhubbard/learncompanion/internal/emotion"
)

// Level is the ordered difficulty enum from §3. Numeric values are strictly
// ordered so callers can compare levels directly.
type Level int

const (
	Trivial Level = iota
	Easy
	Moderate
	Hard
	Expert
)

var levels = []Level{Trivial, Easy, Moderate, Hard, Expert}

func (l Level) String() string {
	switch l {
	case Trivial:
		return "TRIVIAL"
	case Easy:
		return "EASY"
	case Moderate:
		return "MODERATE"
	case Hard:
		return "HARD"
	case Expert:
		return "EXPERT"
	default:
		return "UNKNOWN"
	}
}

// itemDifficulty is the fixed IRT difficulty parameter (b) assigned to each
// level, on the same [-1.5, 1.5] scale item authors use elsewhere.
var itemDifficulty = map[Level]float64{
	Trivial:  -1.5,
	Easy:     -0.75,
	Moderate: 0,
	Hard:     0.75,
	Expert:   1.5,
}

// discrimination is the fixed discrimination (a) used when projecting a
// learner's success probability against a candidate difficulty level. Item-
// specific discrimination is only known once an item is chosen, which is
// downstream of this decision, so difficulty selection uses this reasonable
// population-average value.
const discrimination = 1.0

func successProbability(theta float64, l Level) float64 {
	z := discrimination * (theta - itemDifficulty[l])
	return 1.0 / (1.0 + math.Exp(-z))
}

// band is a target success-probability range (§4.4).
type band struct{ low, high float64 }

var defaultBand = band{low: 0.55, high: 0.75}

// Select picks the next difficulty level. current is nil for a learner's
// first message in a session (sample_count=0): there is no prior level to
// stay within one step of, and ties break toward the easier level, per
// §4.4's tie-break rule — which falls out naturally here since levels are
// scanned in ascending order and only strictly closer candidates replace
// the running best.
func Select(current *Level, theta float64, sampleCount int64, load emotion.CognitiveLoad, flow emotion.FlowState, readiness emotion.Readiness) Level {
	b := defaultBand

	nominal := pickInBand(theta, b)

	switch load {
	case emotion.HighLoad, emotion.Overload:
		nominal = step(nominal, -1)
	}
	if flow == emotion.Bored && (readiness == emotion.HighReadiness || readiness == emotion.Optimal) {
		nominal = step(nominal, 1)
	}

	if current == nil || sampleCount == 0 {
		return nominal
	}
	return clampStep(*current, nominal)
}

// pickInBand returns the level whose success probability falls inside the
// band, or is nearest to it if none do. Ties favor the earlier (easier)
// level because levels are scanned in ascending order and replacement
// requires a strictly smaller distance.
func pickInBand(theta float64, b band) Level {
	best := levels[0]
	bestDist := math.MaxFloat64
	for _, l := range levels {
		p := successProbability(theta, l)
		var dist float64
		switch {
		case p < b.low:
			dist = b.low - p
		case p > b.high:
			dist = p - b.high
		default:
			dist = 0
		}
		if dist < bestDist {
			bestDist = dist
			best = l
		}
	}
	return best
}

// step moves a level by delta, clamped to the valid range.
func step(l Level, delta int) Level {
	v := int(l) + delta
	if v < int(Trivial) {
		v = int(Trivial)
	}
	if v > int(Expert) {
		v = int(Expert)
	}
	return Level(v)
}

// clampStep enforces "never skip more than one level per request" (§4.4).
func clampStep(current, target Level) Level {
	if target > current {
		return step(current, 1)
	}
	if target < current {
		return step(current, -1)
	}
	return current
}
