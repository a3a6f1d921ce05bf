package engagement

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"classpulse/pkg/types"
)

// Model is a multinomial linear classifier over standardized features.
// Logit(class) = Bias[class] + sum(Weights[class][i] * (x[i]-Means[i])/Scales[i])
type Model struct {
	Version string                              `json:"version"`
	Classes []types.EngagementLevel             `json:"classes"`
	Means   []float64                           `json:"means"`
	Scales  []float64                           `json:"scales"`
	Weights map[types.EngagementLevel][]float64 `json:"weights"`
	Bias    map[types.EngagementLevel]float64   `json:"bias"`
}

// DefaultModel returns the built-in weights shipped with the server.
// Correct, quick answers push towards Active; wrong, slow answers towards
// Passive; very fast answers are treated as possible guessing.
func DefaultModel() *Model {
	return &Model{
		Version: "builtin-1",
		Classes: []types.EngagementLevel{types.EngagementActive, types.EngagementModerate, types.EngagementPassive},
		// columns follow FeatureNames
		Means:   []float64{0, 20, 150, 18, 90, 0, 0, 0, 0, 0, 1.5, 0, 0},
		Scales:  []float64{1, 15, 150, 18, 10, 1, 1, 1, 1, 1, 1.5, 1, 1},
		Weights: map[types.EngagementLevel][]float64{
			types.EngagementActive:   {2.0, -0.8, -0.1, 0, 0.1, 0.5, 1.5, -0.5, -0.2, 0.1, 0.6, -0.3, 0},
			types.EngagementModerate: {0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
			types.EngagementPassive:  {-2.0, 1.0, 0.1, 0, -0.1, -0.8, -1.0, 1.0, 0.2, -0.1, -0.4, 0, 0},
		},
		Bias: map[types.EngagementLevel]float64{
			types.EngagementActive:   0,
			types.EngagementModerate: 1.0,
			types.EngagementPassive:  0,
		},
	}
}

// LoadModel reads a JSON model file and validates its shape.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file %s: %w", path, err)
	}

	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse model file %s: %w", path, err)
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model in %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks dimensions against FeatureNames.
func (m *Model) Validate() error {
	n := len(FeatureNames)
	if len(m.Classes) == 0 {
		return ErrInvalidModel
	}
	if len(m.Means) != n || len(m.Scales) != n {
		return fmt.Errorf("%w: expected %d means and scales", ErrInvalidModel, n)
	}
	for i, s := range m.Scales {
		if s == 0 {
			return fmt.Errorf("%w: zero scale for %s", ErrInvalidModel, FeatureNames[i])
		}
	}
	for _, c := range m.Classes {
		if !c.Valid() {
			return fmt.Errorf("%w: unknown class %q", ErrInvalidModel, c)
		}
		if len(m.Weights[c]) != n {
			return fmt.Errorf("%w: class %s needs %d weights", ErrInvalidModel, c, n)
		}
	}
	return nil
}

// Predict returns per-class probabilities via softmax over class logits.
func (m *Model) Predict(x []float64) map[types.EngagementLevel]float64 {
	logits := make([]float64, len(m.Classes))
	maxLogit := math.Inf(-1)
	for ci, c := range m.Classes {
		z := m.Bias[c]
		w := m.Weights[c]
		for i := range x {
			z += w[i] * (x[i] - m.Means[i]) / m.Scales[i]
		}
		logits[ci] = z
		if z > maxLogit {
			maxLogit = z
		}
	}

	// shift by the max logit so exp never overflows
	sum := 0.0
	for i, z := range logits {
		logits[i] = math.Exp(z - maxLogit)
		sum += logits[i]
	}

	probs := make(map[types.EngagementLevel]float64, len(m.Classes))
	for ci, c := range m.Classes {
		probs[c] = logits[ci] / sum
	}
	return probs
}
