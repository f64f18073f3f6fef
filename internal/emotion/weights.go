package emotion

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
)

//go:embed weights/*.json
var embeddedWeights embed.FS

// linearModelFile is the on-disk/embedded artifact shape for a trained
// linear classifier: one weight row and bias per class, scored against a
// fixed feature vector. The category a feature vector maps to is whichever
// row scores highest — the threshold is baked into the learned weights, not
// written as an if/else in Go, per §4.1's "zero hardcoded thresholds"
// requirement.
type linearModelFile struct {
	Classes []string    `json:"classes"`
	Weights [][]float64 `json:"weights"`
	Bias    []float64   `json:"bias"`
}

// LinearModel is a loaded multi-class linear classifier: argmax_c(w_c·x+b_c).
type LinearModel struct {
	classes []string
	weights [][]float64
	bias    []float64
}

func newLinearModel(f linearModelFile) (*LinearModel, error) {
	if len(f.Classes) == 0 || len(f.Classes) != len(f.Weights) || len(f.Classes) != len(f.Bias) {
		return nil, fmt.Errorf("emotion: malformed linear model artifact: %d classes, %d weight rows, %d biases",
			len(f.Classes), len(f.Weights), len(f.Bias))
	}
	return &LinearModel{classes: f.Classes, weights: f.Weights, bias: f.Bias}, nil
}

// Predict returns the argmax class for the given feature vector and the
// per-class scores in class order.
func (m *LinearModel) Predict(features []float64) (string, []float64) {
	scores := make([]float64, len(m.classes))
	bestIdx := 0
	for c := range m.classes {
		s := m.bias[c]
		row := m.weights[c]
		for i, x := range features {
			if i < len(row) {
				s += row[i] * x
			}
		}
		scores[c] = s
		if s > scores[bestIdx] {
			bestIdx = c
		}
	}
	return m.classes[bestIdx], scores
}

// loadLinearModel loads a weight artifact from disk if path is non-empty,
// falling back to the embedded default on any read/parse failure (or when no
// path is configured) — the same "load parameters, fall back safely" shape
// the benchmark refresh loop (internal/router) uses for its own artifacts.
func loadLinearModel(path, embeddedName string) (*LinearModel, error) {
	var raw []byte
	var err error
	if path != "" {
		raw, err = os.ReadFile(path)
	}
	if path == "" || err != nil {
		raw, err = embeddedWeights.ReadFile("weights/" + embeddedName)
		if err != nil {
			return nil, fmt.Errorf("emotion: loading embedded weight artifact %q: %w", embeddedName, err)
		}
	}
	var f linearModelFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("emotion: parsing weight artifact %q: %w", embeddedName, err)
	}
	return newLinearModel(f)
}
