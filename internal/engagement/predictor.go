package engagement

import (
	"sync"

	"go.uber.org/zap"

	"classpulse/pkg/types"
)

// Fallback is the neutral verdict returned when no model can score an answer.
func Fallback() types.Classification {
	return types.Classification{
		Label:      types.EngagementModerate,
		Confidence: 0.5,
		Probabilities: map[types.EngagementLevel]float64{
			types.EngagementActive:   0.33,
			types.EngagementModerate: 0.34,
			types.EngagementPassive:  0.33,
		},
		Fallback: true,
	}
}

// Predictor implements interfaces.Classifier over a swappable Model.
type Predictor struct {
	mu     sync.RWMutex
	model  *Model
	logger *zap.Logger
}

// NewPredictor wraps model; a nil model leaves the predictor unloaded.
func NewPredictor(model *Model, logger *zap.Logger) *Predictor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Predictor{model: model, logger: logger}
}

// NewPredictorFromFile loads the model at path, falling back to the built-in
// weights when path is empty.
func NewPredictorFromFile(path string, logger *zap.Logger) (*Predictor, error) {
	p := NewPredictor(nil, logger)
	if path == "" {
		p.SetModel(DefaultModel())
		return p, nil
	}
	if err := p.Load(path); err != nil {
		return nil, err
	}
	return p, nil
}

// Load replaces the active model with the one at path.
func (p *Predictor) Load(path string) error {
	m, err := LoadModel(path)
	if err != nil {
		return err
	}
	p.SetModel(m)
	return nil
}

func (p *Predictor) SetModel(m *Model) {
	p.mu.Lock()
	p.model = m
	p.mu.Unlock()
	if m != nil {
		p.logger.Info("engagement model loaded",
			zap.String("version", m.Version),
			zap.Int("features", len(FeatureNames)),
			zap.Int("classes", len(m.Classes)))
	}
}

// Loaded reports whether a model is installed.
func (p *Predictor) Loaded() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model != nil
}

// Info describes the installed model for diagnostics.
func (p *Predictor) Info() ModelInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.model == nil {
		return ModelInfo{}
	}
	return ModelInfo{
		Loaded:   true,
		Version:  p.model.Version,
		Classes:  append([]types.EngagementLevel(nil), p.model.Classes...),
		Features: append([]string(nil), FeatureNames...),
	}
}

// ModelInfo is the read-only view returned by Info.
type ModelInfo struct {
	Loaded   bool                    `json:"modelLoaded"`
	Version  string                  `json:"version,omitempty"`
	Classes  []types.EngagementLevel `json:"classes,omitempty"`
	Features []string                `json:"features,omitempty"`
}

// Classify scores one answer. It returns ErrModelNotLoaded when no model is
// installed; callers decide whether to substitute Fallback.
func (p *Predictor) Classify(a types.AnswerFeatures) (types.Classification, error) {
	p.mu.RLock()
	m := p.model
	p.mu.RUnlock()
	if m == nil {
		return types.Classification{}, ErrModelNotLoaded
	}

	probs := m.Predict(ExtractFeatures(a).Vector())

	var best types.EngagementLevel
	bestP := -1.0
	// iterate Classes, not the map, so ties resolve deterministically
	for _, c := range m.Classes {
		if probs[c] > bestP {
			best, bestP = c, probs[c]
		}
	}

	return types.Classification{
		Label:         best,
		Confidence:    bestP,
		Probabilities: probs,
	}, nil
}
