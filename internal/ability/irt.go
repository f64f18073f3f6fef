// Package ability implements C3: per-(user, subject) latent ability tracked
// with a two-parameter logistic (2PL) item response model, persisted through
// the store's ability_estimates collection.
package ability

import "math"

// priorTheta and priorVariance describe the Gaussian prior placed on theta
// before any observation: centered at the midpoint of the [0,1] scale with a
// wide enough variance that the first observation can move theta
// substantially (§4.3).
const (
	priorTheta    = 0.5
	priorVariance = 1.0
)

// probabilityCorrect is the 2PL item response function: the probability a
// learner with ability theta answers an item of difficulty b and
// discrimination a correctly.
func probabilityCorrect(theta, difficulty, discrimination float64) float64 {
	z := discrimination * (theta - difficulty)
	return 1.0 / (1.0 + math.Exp(-z))
}

// precisionFromConfidence inverts the confidence <-> precision relationship
// confidence = precision/(precision+1), so successive updates can resume
// accumulating Fisher information without needing a second persisted field.
// confidence=0 (no observations yet) maps to precision=0, i.e. the flat
// prior.
func precisionFromConfidence(confidence float64) float64 {
	if confidence <= 0 {
		return 0
	}
	if confidence >= 1 {
		// Asymptotically unreachable in practice; guard against division by
		// zero for safety.
		confidence = 0.999999
	}
	return confidence / (1 - confidence)
}

// bayesianStep applies a single Bayesian update to (theta, confidence) given
// one graded outcome at the given item difficulty/discrimination. Fisher
// information from the new observation is added to the accumulated
// precision (so confidence is monotonically non-decreasing, §8 property 6),
// and theta moves by a Newton step scaled by the resulting posterior
// precision.
func bayesianStep(theta, confidence float64, difficulty, discrimination float64, outcome int) (newTheta, newConfidence float64) {
	p := probabilityCorrect(theta, difficulty, discrimination)
	fisher := discrimination * discrimination * p * (1 - p)

	priorPrecision := precisionFromConfidence(confidence)
	if priorPrecision == 0 {
		priorPrecision = 1 / priorVariance
	}
	posteriorPrecision := priorPrecision + fisher

	gradient := discrimination * (float64(outcome) - p)
	step := gradient / posteriorPrecision

	newTheta = clamp01(theta + step)
	newConfidence = posteriorPrecision / (posteriorPrecision + 1)
	return newTheta, newConfidence
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
