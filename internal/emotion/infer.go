package emotion

import (
	"context"
	"math"
	"regexp"
	"strings"
	"time"
)

// AbilityHint carries the one piece of C3 state C1's flow-state classifier
// needs: the learner's current ability estimate for the skill_proxy feature
// (§4.1 step 4). Zero value is the IRT prior (theta=0.5).
type AbilityHint struct {
	Theta float64
}

// Config controls classifier behavior.
type Config struct {
	// Timeout bounds a single Infer call; on expiry the neutral fallback is
	// returned with Degraded=true (§4.1 failure semantics).
	Timeout time.Duration
	// ReadinessWeightsPath/CognitiveLoadWeightsPath/FlowWeightsPath optionally
	// override the embedded default artifacts (e.g. to load a freshly
	// trained model without a binary rebuild).
	ReadinessWeightsPath     string
	CognitiveLoadWeightsPath string
	FlowWeightsPath          string
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 200 * time.Millisecond
	}
	return c
}

// Classifier is C1: the emotion inference pipeline.
type Classifier struct {
	cfg       Config
	lex       *lexicon
	readiness *LinearModel
	cogLoad   *LinearModel
	flow      *LinearModel
}

// NewClassifier loads the trained linear models (embedded defaults, or the
// override paths in cfg) and returns a ready-to-use classifier.
func NewClassifier(cfg Config) (*Classifier, error) {
	cfg = cfg.withDefaults()

	readiness, err := loadLinearModel(cfg.ReadinessWeightsPath, "readiness.json")
	if err != nil {
		return nil, err
	}
	cogLoad, err := loadLinearModel(cfg.CognitiveLoadWeightsPath, "cognitive_load.json")
	if err != nil {
		return nil, err
	}
	flow, err := loadLinearModel(cfg.FlowWeightsPath, "flow_state.json")
	if err != nil {
		return nil, err
	}

	return &Classifier{cfg: cfg, lex: defaultLexicon, readiness: readiness, cogLoad: cogLoad, flow: flow}, nil
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// Normalize applies §4.1 step (1): strip, lower, collapse whitespace.
func Normalize(text string) string {
	return whitespaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), " ")
}

// Infer runs the full §4.1 pipeline and never returns an error to the
// caller for a model/timeout failure — it returns the neutral, degraded
// result instead, per "never fail the enclosing request on emotion error".
func (c *Classifier) Infer(ctx context.Context, text string, ability AbilityHint) Result {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resultCh := make(chan Result, 1)
	go func() {
		resultCh <- c.infer(text, ability)
	}()

	select {
	case r := <-resultCh:
		return r
	case <-ctx.Done():
		return neutralResult()
	}
}

func (c *Classifier) infer(text string, ability AbilityHint) Result {
	normalized := Normalize(text)
	if normalized == "" {
		return neutralResult()
	}

	raw := c.lex.score(normalized)
	dist := softmaxOverLabels(raw)
	primary := dist.Argmax()
	intensity := clamp01(raw[primary] / 2.0)
	if primary == Neutral && raw[Neutral] == 0 {
		intensity = 0.1
	}

	pad := padFromDistribution(dist)

	top3 := dist.TopK(3)
	top3probs := make([]float64, 3)
	for i, l := range top3 {
		top3probs[i] = dist[l]
	}
	readinessFeatures := []float64{
		top3probs[0], top3probs[1], top3probs[2],
		pad.Arousal, pad.Pleasure, math.Abs(pad.Arousal), math.Abs(pad.Pleasure),
	}

	readinessClass, _ := c.readiness.Predict(readinessFeatures)
	cogLoadClass, _ := c.cogLoad.Predict(readinessFeatures)

	theta := ability.Theta
	if theta == 0 {
		theta = 0.5
	}
	engagementProxy := clamp01(0.5 + pad.Arousal*0.5)
	challengeProxy := clamp01(complexityProxy(normalized))
	skillProxy := clamp01(theta)
	flowClass, _ := c.flow.Predict([]float64{engagementProxy, challengeProxy, skillProxy})

	readiness := Readiness(readinessClass)
	cogLoad := CognitiveLoad(cogLoadClass)

	return Result{
		PrimaryEmotion:    primary,
		Distribution:      dist,
		Intensity:         intensity,
		PAD:               pad,
		LearningReadiness: readiness,
		CognitiveLoad:     cogLoad,
		FlowState:         FlowState(flowClass),
		Intervention:      intervention(readiness, cogLoad),
		Degraded:          false,
	}
}

// intervention implements §4.1 step (5): recommended iff readiness is
// NOT_READY/LOW or load is HIGH/OVERLOAD; strength monotonic in severity.
func intervention(r Readiness, l CognitiveLoad) Intervention {
	var severity float64
	var kind string
	switch r {
	case NotReady:
		severity = math.Max(severity, 1.0)
		kind = "readiness"
	case LowReadiness:
		severity = math.Max(severity, 0.6)
		kind = "readiness"
	}
	switch l {
	case Overload:
		if 1.0 > severity {
			severity = 1.0
			kind = "cognitive_load"
		}
	case HighLoad:
		if 0.6 > severity {
			severity = 0.6
			kind = "cognitive_load"
		}
	}
	if severity == 0 {
		return Intervention{Recommended: false}
	}
	return Intervention{Recommended: true, Kind: kind, Strength: severity}
}

// softmaxOverLabels turns raw lexicon scores into a well-formed distribution
// over every label in Labels (§8 property 2): every label gets a floor
// probability so distribution[l] is always well-defined, and the result
// always sums to 1.
func softmaxOverLabels(raw map[Label]float64) Distribution {
	const floor = 0.01
	exps := make(map[Label]float64, len(Labels))
	var sum float64
	maxRaw := 0.0
	for _, l := range Labels {
		if raw[l] > maxRaw {
			maxRaw = raw[l]
		}
	}
	if maxRaw == 0 {
		dist := make(Distribution, len(Labels))
		for _, l := range Labels {
			dist[l] = 0
		}
		dist[Neutral] = 1
		return dist
	}
	for _, l := range Labels {
		v := math.Exp(raw[l]-maxRaw) + floor
		exps[l] = v
		sum += v
	}
	dist := make(Distribution, len(Labels))
	for _, l := range Labels {
		dist[l] = exps[l] / sum
	}
	return dist
}

// complexityProxy estimates text challenge from length and question markers,
// the same fallback-heuristic shape §4.11 documents for query complexity.
func complexityProxy(normalized string) float64 {
	words := strings.Fields(normalized)
	lengthScore := clamp01(float64(len(words)) / 40.0)
	questionBonus := 0.0
	if strings.Contains(normalized, "?") || strings.HasPrefix(normalized, "why") || strings.HasPrefix(normalized, "how") {
		questionBonus = 0.2
	}
	return clamp01(lengthScore*0.8 + questionBonus)
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
