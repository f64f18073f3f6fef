// Package emotion implements the emotion inference pipeline (C1) and the
// multi-tier cache that guards it (C2): from raw learner text it produces an
// emotion distribution, PAD dimensions, learning readiness, cognitive load,
// flow state, and an intervention recommendation.
package emotion

import "sort"

// Label is one of the ~27 emotion categories drawn from a public taxonomy
// (GoEmotions), plus "neutral".
type Label string

const (
	Admiration    Label = "admiration"
	Amusement     Label = "amusement"
	Anger         Label = "anger"
	Annoyance     Label = "annoyance"
	Approval      Label = "approval"
	Caring        Label = "caring"
	Confusion     Label = "confusion"
	Curiosity     Label = "curiosity"
	Desire        Label = "desire"
	Disappointment Label = "disappointment"
	Disapproval   Label = "disapproval"
	Disgust       Label = "disgust"
	Embarrassment Label = "embarrassment"
	Excitement    Label = "excitement"
	Fear          Label = "fear"
	Gratitude     Label = "gratitude"
	Grief         Label = "grief"
	Joy           Label = "joy"
	Love          Label = "love"
	Nervousness   Label = "nervousness"
	Optimism      Label = "optimism"
	Pride         Label = "pride"
	Realization   Label = "realization"
	Relief        Label = "relief"
	Remorse       Label = "remorse"
	Sadness       Label = "sadness"
	Surprise      Label = "surprise"
	Neutral       Label = "neutral"
)

// Labels lists every label the classifier scores, in a fixed, stable order.
var Labels = []Label{
	Admiration, Amusement, Anger, Annoyance, Approval, Caring, Confusion,
	Curiosity, Desire, Disappointment, Disapproval, Disgust, Embarrassment,
	Excitement, Fear, Gratitude, Grief, Joy, Love, Nervousness, Optimism,
	Pride, Realization, Relief, Remorse, Sadness, Surprise, Neutral,
}

// Distribution maps each label to its probability. Well-formedness (sums to
// 1, every value in [0,1]) is an invariant the inference pipeline maintains,
// not something callers need to re-check.
type Distribution map[Label]float64

// Argmax returns the label with the highest probability. Ties break toward
// whichever label sorts first in Labels, so the result is deterministic.
func (d Distribution) Argmax() Label {
	best := Neutral
	bestScore := -1.0
	for _, l := range Labels {
		if v := d[l]; v > bestScore {
			bestScore = v
			best = l
		}
	}
	return best
}

// TopK returns the k highest-probability labels in descending order.
func (d Distribution) TopK(k int) []Label {
	type kv struct {
		l Label
		p float64
	}
	pairs := make([]kv, 0, len(d))
	for l, p := range d {
		pairs = append(pairs, kv{l, p})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].p > pairs[j].p })
	if k > len(pairs) {
		k = len(pairs)
	}
	out := make([]Label, k)
	for i := 0; i < k; i++ {
		out[i] = pairs[i].l
	}
	return out
}

// PAD is the Pleasure/Arousal/Dominance continuous emotion space (§3).
type PAD struct {
	Pleasure  float64 `json:"pleasure"`
	Arousal   float64 `json:"arousal"`
	Dominance float64 `json:"dominance"`
}

// Readiness is the learner's inferred readiness to keep learning.
type Readiness string

const (
	NotReady Readiness = "NOT_READY"
	LowReadiness Readiness = "LOW"
	ModerateReadiness Readiness = "MODERATE"
	HighReadiness Readiness = "HIGH"
	Optimal Readiness = "OPTIMAL"
)

// CognitiveLoad is the inferred mental workload the learner is carrying.
type CognitiveLoad string

const (
	MinimalLoad  CognitiveLoad = "MINIMAL"
	LowLoad      CognitiveLoad = "LOW"
	ModerateLoad CognitiveLoad = "MODERATE"
	HighLoad     CognitiveLoad = "HIGH"
	Overload     CognitiveLoad = "OVERLOAD"
)

// FlowState is the Csikszentmihalyi-style challenge/skill quadrant the
// learner currently occupies.
type FlowState string

const (
	Bored      FlowState = "BORED"
	Anxious    FlowState = "ANXIOUS"
	Apathy     FlowState = "APATHY"
	ControlState FlowState = "CONTROL"
	Flow       FlowState = "FLOW"
	Arousal    FlowState = "AROUSAL"
	Worry      FlowState = "WORRY"
	Relaxation FlowState = "RELAXATION"
)

// Intervention is the recommendation the pipeline attaches to a Result.
type Intervention struct {
	Recommended bool    `json:"recommended"`
	Kind        string  `json:"kind,omitempty"`
	Strength    float64 `json:"strength"`
}

// Result is one inference outcome (§3 EmotionResult).
type Result struct {
	PrimaryEmotion    Label         `json:"primary_emotion"`
	Distribution      Distribution  `json:"distribution"`
	Intensity         float64       `json:"intensity"`
	PAD               PAD           `json:"pad"`
	LearningReadiness Readiness     `json:"learning_readiness"`
	CognitiveLoad     CognitiveLoad `json:"cognitive_load"`
	FlowState         FlowState     `json:"flow_state"`
	Intervention      Intervention  `json:"intervention"`
	// Degraded is true when the classifier failed or timed out and this
	// Result is the neutral fallback (§4.1 failure semantics).
	Degraded bool `json:"degraded"`
}

// neutralResult is the fixed fallback returned whenever inference cannot
// complete within its time budget, per §4.1.
func neutralResult() Result {
	dist := make(Distribution, len(Labels))
	for _, l := range Labels {
		dist[l] = 0
	}
	dist[Neutral] = 1
	return Result{
		PrimaryEmotion:    Neutral,
		Distribution:      dist,
		Intensity:         0.3,
		PAD:               PAD{},
		LearningReadiness: ModerateReadiness,
		CognitiveLoad:     ModerateLoad,
		FlowState:         ControlState,
		Intervention:      Intervention{Recommended: false},
		Degraded:          true,
	}
}
