package scheduler

import (
	"time"

	"classpulse/pkg/types"
)

// Rand is the subset of *math/rand.Rand the scheduler draws from.
type Rand interface {
	Int63n(n int64) int64
}

// Interval is a half-open delay range [Min, Max).
type Interval struct {
	Min time.Duration `json:"min"`
	Max time.Duration `json:"max"`
}

// FUNCTIONAL DISCOVERY: passive students get short, irregular gaps so the
// cadence itself cannot be learned; engaged students are left alone longer
var intervals = map[types.EngagementLevel]Interval{
	types.EngagementPassive:  {Min: 120 * time.Second, Max: 300 * time.Second},
	types.EngagementModerate: {Min: 300 * time.Second, Max: 480 * time.Second},
	types.EngagementActive:   {Min: 600 * time.Second, Max: 900 * time.Second},
}

// Range is an inclusive question-count range.
type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// expected questions per 60-minute session at each label's cadence
var expectedCounts = map[types.EngagementLevel]Range{
	types.EngagementPassive:  {Min: 15, Max: 20},
	types.EngagementModerate: {Min: 8, Max: 12},
	types.EngagementActive:   {Min: 4, Max: 6},
}

// IntervalFor returns the delay range for level.
func IntervalFor(level types.EngagementLevel) (Interval, error) {
	iv, ok := intervals[level]
	if !ok {
		return Interval{}, types.ErrInvalidEngagementLevel
	}
	return iv, nil
}

// ExpectedQuestions returns how many questions a student at level should see
// in an hour.
func ExpectedQuestions(level types.EngagementLevel) (Range, error) {
	r, ok := expectedCounts[level]
	if !ok {
		return Range{}, types.ErrInvalidEngagementLevel
	}
	return r, nil
}

// NextDeadline draws now + d with d uniform in the level's [Min, Max).
func NextDeadline(level types.EngagementLevel, now time.Time, rng Rand) (time.Time, error) {
	iv, err := IntervalFor(level)
	if err != nil {
		return time.Time{}, err
	}
	span := int64(iv.Max - iv.Min)
	return now.Add(iv.Min + time.Duration(rng.Int63n(span))), nil
}
