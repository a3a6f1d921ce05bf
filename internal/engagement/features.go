package engagement

import (
	"math"
	"strings"

	"classpulse/pkg/types"
)

// DefaultExpectedTime is used when an answer carries no expected time.
const DefaultExpectedTime = 30.0

// defaultRTT stands in for missing or non-positive RTT samples.
const defaultRTT = 100.0

// FeatureNames is the column order of Features.Vector.
var FeatureNames = []string{
	"is_correct",
	"response_time_sec",
	"rtt_ms",
	"jitter_ms",
	"stability_pct",
	"is_fast",
	"correct_and_fast",
	"is_very_fast",
	"poor_network",
	"excellent_network",
	"speed_ratio",
	"difficulty_score",
	"good_network",
}

// Features is the derived feature row for one answer.
type Features struct {
	IsCorrect        float64              `json:"isCorrect"`
	ResponseTime     float64              `json:"responseTime"`
	RTT              float64              `json:"rtt"`
	Jitter           float64              `json:"jitter"`
	Stability        float64              `json:"stability"`
	IsFast           float64              `json:"isFast"`
	CorrectAndFast   float64              `json:"correctAndFast"`
	IsVeryFast       float64              `json:"isVeryFast"`
	PoorNetwork      float64              `json:"poorNetwork"`
	ExcellentNetwork float64              `json:"excellentNetwork"`
	SpeedRatio       float64              `json:"speedRatio"`
	DifficultyScore  float64              `json:"difficultyScore"`
	NetworkQuality   types.NetworkQuality `json:"networkQuality"`
}

// ExtractFeatures derives the classifier inputs from raw telemetry.
// FUNCTIONAL DISCOVERY: only RTT is measured client-side; jitter and stability
// are estimated from it until per-connection variance is tracked
func ExtractFeatures(a types.AnswerFeatures) Features {
	expected := a.ExpectedTime
	if expected <= 0 {
		expected = DefaultExpectedTime
	}

	rtt := a.RTTMs
	if rtt <= 0 {
		rtt = defaultRTT
	}

	f := Features{
		ResponseTime: a.ResponseTime,
		RTT:          rtt,
		Jitter:       rtt * 0.12,
		Stability:    stabilityFor(rtt),
	}
	if a.IsCorrect {
		f.IsCorrect = 1
	}
	if a.ResponseTime < expected*0.8 {
		f.IsFast = 1
	}
	if a.IsCorrect && f.IsFast == 1 {
		f.CorrectAndFast = 1
	}
	if a.ResponseTime < expected*0.5 {
		f.IsVeryFast = 1
	}

	f.NetworkQuality = a.NetworkQuality.Normalize()
	if a.NetworkQuality == "" {
		f.NetworkQuality = types.NetworkGood
	}
	switch f.NetworkQuality {
	case types.NetworkPoor:
		f.PoorNetwork = 1
	case types.NetworkExcellent:
		f.ExcellentNetwork = 1
	}

	f.SpeedRatio = 1.0
	if a.ResponseTime > 0 {
		f.SpeedRatio = math.Min(expected/a.ResponseTime, 10.0)
	}

	f.DifficultyScore = difficultyScore(a.Difficulty)
	return f
}

// Vector returns the features in FeatureNames order.
func (f Features) Vector() []float64 {
	good := 0.0
	if f.NetworkQuality == types.NetworkGood {
		good = 1
	}
	return []float64{
		f.IsCorrect,
		f.ResponseTime,
		f.RTT,
		f.Jitter,
		f.Stability,
		f.IsFast,
		f.CorrectAndFast,
		f.IsVeryFast,
		f.PoorNetwork,
		f.ExcellentNetwork,
		f.SpeedRatio,
		f.DifficultyScore,
		good,
	}
}

func stabilityFor(rtt float64) float64 {
	switch {
	case rtt < 100:
		return 98
	case rtt < 200:
		return 95
	case rtt < 400:
		return 85
	default:
		return 70
	}
}

// easy questions score high, hard ones low; unknown counts as medium
func difficultyScore(d types.Difficulty) float64 {
	switch strings.ToLower(string(d)) {
	case "easy":
		return 1.0
	case "hard":
		return 0.0
	default:
		return 0.5
	}
}
