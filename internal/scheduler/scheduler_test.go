package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classpulse/pkg/types"
)

// testClock is a settable time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// edgeRand always draws the lowest or highest value of the range.
type edgeRand struct{ high bool }

func (r edgeRand) Int63n(n int64) int64 {
	if r.high {
		return n - 1
	}
	return 0
}

type stubClassifier struct {
	label types.EngagementLevel
	err   error
}

func (s *stubClassifier) Classify(f types.AnswerFeatures) (types.Classification, error) {
	if s.err != nil {
		return types.Classification{}, s.err
	}
	return types.Classification{
		Label:         s.label,
		Confidence:    0.9,
		Probabilities: map[types.EngagementLevel]float64{s.label: 0.9},
	}, nil
}

func newTestScheduler(c *testClock, cls *stubClassifier, high bool) *Scheduler {
	opts := []Option{WithClock(c.Now), WithRand(edgeRand{high: high})}
	if cls == nil {
		return New(nil, opts...)
	}
	return New(cls, opts...)
}

func TestNextDeadline_Bounds(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		level types.EngagementLevel
		min   time.Duration
		max   time.Duration
	}{
		{types.EngagementPassive, 120 * time.Second, 300 * time.Second},
		{types.EngagementModerate, 300 * time.Second, 480 * time.Second},
		{types.EngagementActive, 600 * time.Second, 900 * time.Second},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			low, err := NextDeadline(tt.level, now, edgeRand{high: false})
			require.NoError(t, err)
			assert.Equal(t, now.Add(tt.min), low, "lower bound is inclusive")

			high, err := NextDeadline(tt.level, now, edgeRand{high: true})
			require.NoError(t, err)
			assert.True(t, high.Before(now.Add(tt.max)), "upper bound is exclusive")
			assert.Equal(t, now.Add(tt.max-time.Nanosecond), high)
		})
	}

	_, err := NextDeadline("Sleepy", now, edgeRand{})
	assert.ErrorIs(t, err, types.ErrInvalidEngagementLevel)
}

func TestExpectedQuestions(t *testing.T) {
	r, err := ExpectedQuestions(types.EngagementPassive)
	require.NoError(t, err)
	assert.Equal(t, Range{Min: 15, Max: 20}, r)

	r, _ = ExpectedQuestions(types.EngagementModerate)
	assert.Equal(t, Range{Min: 8, Max: 12}, r)

	r, _ = ExpectedQuestions(types.EngagementActive)
	assert.Equal(t, Range{Min: 4, Max: 6}, r)

	_, err = ExpectedQuestions("")
	assert.ErrorIs(t, err, types.ErrInvalidEngagementLevel)
}

func TestScheduler_MonotonicReadiness(t *testing.T) {
	clock := newTestClock()
	s := newTestScheduler(clock, &stubClassifier{label: types.EngagementActive}, true)

	require.NoError(t, s.AddStudent("S", "s1", types.EngagementActive))
	assert.Empty(t, s.ReadyStudents("S"), "not ready immediately after add")

	clock.Advance(899 * time.Second)
	assert.Empty(t, s.ReadyStudents("S"))

	clock.Advance(time.Second)
	ready := s.ReadyStudents("S")
	require.Len(t, ready, 1)
	assert.Equal(t, Ready{StudentID: "s1", EngagementLevel: types.EngagementActive}, ready[0])
}

func TestScheduler_ReadyStudentsUnknownSession(t *testing.T) {
	s := New(nil)
	assert.Empty(t, s.ReadyStudents("missing"))
}

func TestScheduler_ReclassificationReschedule(t *testing.T) {
	clock := newTestClock()
	cls := &stubClassifier{label: types.EngagementPassive}
	s := newTestScheduler(clock, cls, true)

	require.NoError(t, s.AddStudent("S", "s1", types.EngagementActive))
	before, ok := s.StudentStats("s1")
	require.True(t, ok)

	now := clock.Now()
	c, ok := s.RecordAnswer("s1", types.AnswerFeatures{IsCorrect: false, ResponseTime: 50, RTTMs: 300})
	require.True(t, ok)
	assert.Equal(t, types.EngagementPassive, c.Label)
	assert.False(t, c.Fallback)

	after, _ := s.StudentStats("s1")
	assert.Equal(t, types.EngagementPassive, after.EngagementLevel)
	assert.False(t, after.NextEligibleAt.Before(now.Add(120*time.Second)))
	assert.True(t, after.NextEligibleAt.Before(now.Add(300*time.Second)))
	assert.True(t, after.NextEligibleAt.Before(before.NextEligibleAt), "passive deadline is sooner than the active one")
	assert.Equal(t, 300.0, after.LastRTT)
	assert.Equal(t, []types.EngagementLevel{types.EngagementActive, types.EngagementPassive}, after.EngagementHistory)

	overview, _ := s.SessionOverview("S")
	assert.Equal(t, 1, overview.PassiveCount)
	assert.Equal(t, 0, overview.ActiveCount)
}

func TestScheduler_HistoryAppendsUnconditionally(t *testing.T) {
	s := newTestScheduler(newTestClock(), &stubClassifier{label: types.EngagementModerate}, false)
	require.NoError(t, s.AddStudent("S", "s1", types.EngagementModerate))

	s.RecordAnswer("s1", types.AnswerFeatures{ResponseTime: 10})
	s.RecordAnswer("s1", types.AnswerFeatures{ResponseTime: 10})

	stats, _ := s.StudentStats("s1")
	assert.Len(t, stats.EngagementHistory, 3)
}

func TestScheduler_HistoryCap(t *testing.T) {
	clock := newTestClock()
	s := New(&stubClassifier{label: types.EngagementPassive}, WithClock(clock.Now), WithRand(edgeRand{}), WithHistoryCap(3))
	require.NoError(t, s.AddStudent("S", "s1", types.EngagementActive))

	for i := 0; i < 5; i++ {
		s.RecordAnswer("s1", types.AnswerFeatures{ResponseTime: 10})
	}
	stats, _ := s.StudentStats("s1")
	assert.Equal(t, []types.EngagementLevel{types.EngagementPassive, types.EngagementPassive, types.EngagementPassive}, stats.EngagementHistory)
}

func TestScheduler_ClassifierFallback(t *testing.T) {
	s := newTestScheduler(newTestClock(), &stubClassifier{err: errors.New("model offline")}, false)
	require.NoError(t, s.AddStudent("S", "s1", types.EngagementActive))

	c, ok := s.RecordAnswer("s1", types.AnswerFeatures{IsCorrect: true, ResponseTime: 5})
	require.True(t, ok)
	assert.True(t, c.Fallback)
	assert.Equal(t, types.EngagementModerate, c.Label)
	assert.Equal(t, 0.5, c.Confidence)

	stats, _ := s.StudentStats("s1")
	assert.Equal(t, types.EngagementModerate, stats.EngagementLevel)
	assert.Equal(t, 1, stats.QuestionsAnswered)
}

func TestScheduler_NilClassifierFallsBack(t *testing.T) {
	s := New(nil, WithClock(newTestClock().Now))
	require.NoError(t, s.AddStudent("S", "s1", types.EngagementPassive))

	c, ok := s.RecordAnswer("s1", types.AnswerFeatures{ResponseTime: 5})
	require.True(t, ok)
	assert.True(t, c.Fallback)
}

func TestScheduler_StudentStatsUndefinedRatios(t *testing.T) {
	s := newTestScheduler(newTestClock(), &stubClassifier{label: types.EngagementModerate}, false)
	require.NoError(t, s.AddStudent("S", "s1", types.EngagementModerate))

	stats, ok := s.StudentStats("s1")
	require.True(t, ok)
	assert.Nil(t, stats.Accuracy, "no answers yet means accuracy is undefined")
	assert.Nil(t, stats.AverageResponseTime)
	assert.Equal(t, 100.0, stats.LastRTT)
	assert.Equal(t, types.NetworkGood, stats.LastNetworkQuality)

	s.RecordAnswer("s1", types.AnswerFeatures{IsCorrect: true, ResponseTime: 10})
	s.RecordAnswer("s1", types.AnswerFeatures{IsCorrect: false, ResponseTime: 20})

	stats, _ = s.StudentStats("s1")
	require.NotNil(t, stats.Accuracy)
	assert.InDelta(t, 0.5, *stats.Accuracy, 1e-9)
	require.NotNil(t, stats.AverageResponseTime)
	assert.InDelta(t, 15.0, *stats.AverageResponseTime, 1e-9)
}

func TestScheduler_SessionTeardownCascade(t *testing.T) {
	clock := newTestClock()
	s := newTestScheduler(clock, &stubClassifier{label: types.EngagementModerate}, false)

	require.NoError(t, s.AddStudent("S", "s1", types.EngagementActive))
	require.NoError(t, s.AddStudent("S", "s2", types.EngagementPassive))
	require.NoError(t, s.AddStudent("other", "s3", types.EngagementPassive))
	s.MarkQuestionSent("s1")

	clock.Advance(90 * time.Second)
	final, ok := s.StopSession("S")
	require.True(t, ok)
	assert.Equal(t, 2, final.TotalStudents)
	assert.Equal(t, 1, final.TotalQuestionsSent)
	assert.Equal(t, 1.5, final.DurationMinutes)

	_, found := s.StudentStats("s1")
	assert.False(t, found)
	_, found = s.StudentStats("s2")
	assert.False(t, found)
	_, found = s.StudentStats("s3")
	assert.True(t, found, "other sessions are untouched")

	_, ok = s.SessionOverview("S")
	assert.False(t, ok)
	_, ok = s.StopSession("S")
	assert.False(t, ok)
	assert.Equal(t, []string{"other"}, s.ActiveSessions())
}

func TestScheduler_StartSessionIdempotent(t *testing.T) {
	clock := newTestClock()
	s := newTestScheduler(clock, nil, false)

	assert.True(t, s.StartSession("S"))
	started, _ := s.SessionOverview("S")

	clock.Advance(time.Minute)
	assert.False(t, s.StartSession("S"))
	again, _ := s.SessionOverview("S")
	assert.Equal(t, started.StartedAt, again.StartedAt)
}

func TestScheduler_AddStudentValidation(t *testing.T) {
	s := New(nil)
	assert.ErrorIs(t, s.AddStudent("S", "s1", "Sleepy"), types.ErrInvalidEngagementLevel)
	assert.ErrorIs(t, s.AddStudent("", "s1", types.EngagementActive), ErrEmptyIdentifier)
	assert.Empty(t, s.ActiveSessions(), "rejected add does not start a session")
}

func TestScheduler_AddStudentMovesBetweenSessions(t *testing.T) {
	s := newTestScheduler(newTestClock(), nil, false)
	require.NoError(t, s.AddStudent("A", "s1", types.EngagementActive))
	require.NoError(t, s.AddStudent("B", "s1", types.EngagementPassive))

	a, _ := s.SessionOverview("A")
	b, _ := s.SessionOverview("B")
	assert.Equal(t, 0, a.TotalStudents)
	assert.Equal(t, 1, b.PassiveCount)

	stats, _ := s.StudentStats("s1")
	assert.Equal(t, "B", stats.SessionID)
}

func TestScheduler_RemoveStudent(t *testing.T) {
	s := newTestScheduler(newTestClock(), nil, false)
	require.NoError(t, s.AddStudent("S", "s1", types.EngagementActive))

	assert.True(t, s.RemoveStudent("s1"))
	assert.False(t, s.RemoveStudent("s1"))

	o, _ := s.SessionOverview("S")
	assert.Equal(t, 0, o.TotalStudents)
	_, ok := s.RecordAnswer("s1", types.AnswerFeatures{})
	assert.False(t, ok)
	assert.False(t, s.MarkQuestionSent("s1"))
}

func TestScheduler_MarkQuestionSentReschedules(t *testing.T) {
	clock := newTestClock()
	s := newTestScheduler(clock, nil, false)
	require.NoError(t, s.AddStudent("S", "s1", types.EngagementPassive))

	clock.Advance(120 * time.Second)
	require.Len(t, s.ReadyStudents("S"), 1)

	assert.True(t, s.MarkQuestionSent("s1"))
	assert.Empty(t, s.ReadyStudents("S"), "sending always pushes the deadline forward")

	stats, _ := s.StudentStats("s1")
	assert.Equal(t, 1, stats.QuestionsSent)
	assert.Equal(t, clock.Now().Add(120*time.Second), stats.NextEligibleAt)
}

func TestScheduler_UpdateNetworkFeedsClassifier(t *testing.T) {
	var seen types.AnswerFeatures
	cls := classifierFunc(func(f types.AnswerFeatures) (types.Classification, error) {
		seen = f
		return types.Classification{Label: types.EngagementModerate}, nil
	})
	s := New(cls, WithClock(newTestClock().Now), WithRand(edgeRand{}))
	require.NoError(t, s.AddStudent("S", "s1", types.EngagementModerate))

	assert.True(t, s.UpdateNetwork("s1", 420, types.NetworkPoor))
	assert.False(t, s.UpdateNetwork("ghost", 1, types.NetworkPoor))

	s.RecordAnswer("s1", types.AnswerFeatures{ResponseTime: 10, RTTMs: 400})
	assert.Equal(t, types.NetworkPoor, seen.NetworkQuality)
}

type classifierFunc func(types.AnswerFeatures) (types.Classification, error)

func (f classifierFunc) Classify(a types.AnswerFeatures) (types.Classification, error) { return f(a) }

func TestScheduler_ConcurrentSameStudent(t *testing.T) {
	s := newTestScheduler(newTestClock(), &stubClassifier{label: types.EngagementModerate}, false)
	require.NoError(t, s.AddStudent("S", "s1", types.EngagementModerate))
	require.NoError(t, s.AddStudent("S", "s2", types.EngagementModerate))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); s.RecordAnswer("s1", types.AnswerFeatures{IsCorrect: true, ResponseTime: 3}) }()
		go func() { defer wg.Done(); s.MarkQuestionSent("s1") }()
		go func() { defer wg.Done(); s.MarkQuestionSent("s2") }()
	}
	wg.Wait()

	s1, _ := s.StudentStats("s1")
	assert.Equal(t, 50, s1.QuestionsAnswered)
	assert.Equal(t, 50, s1.QuestionsCorrect)
	assert.Equal(t, 50, s1.QuestionsSent)

	o, _ := s.SessionOverview("S")
	assert.Equal(t, 100, o.TotalQuestionsSent)
}

type fakeSender struct {
	mu          sync.Mutex
	unreachable map[string]bool
	calls       []string
}

func (f *fakeSender) SendToStudent(ctx context.Context, sessionID, studentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sessionID+"/"+studentID)
	return !f.unreachable[studentID], nil
}

func TestDispatcher_TickMarksOnlyDelivered(t *testing.T) {
	clock := newTestClock()
	s := newTestScheduler(clock, nil, false)
	require.NoError(t, s.AddStudent("S", "s1", types.EngagementPassive))
	require.NoError(t, s.AddStudent("S", "s2", types.EngagementPassive))
	require.NoError(t, s.AddStudent("S", "s3", types.EngagementActive))

	sender := &fakeSender{unreachable: map[string]bool{"s2": true}}
	d := NewDispatcher(s, sender, time.Second, nil)

	clock.Advance(121 * time.Second)
	assert.Equal(t, 1, d.Tick(context.Background()))
	assert.Equal(t, []string{"S/s1", "S/s2"}, sender.calls)

	s1, _ := s.StudentStats("s1")
	s2, _ := s.StudentStats("s2")
	assert.Equal(t, 1, s1.QuestionsSent)
	assert.Equal(t, 0, s2.QuestionsSent, "unreachable student stays due")
	assert.Len(t, s.ReadyStudents("S"), 1)
}

func TestDispatcher_StartStop(t *testing.T) {
	d := NewDispatcher(New(nil), &fakeSender{}, 10*time.Millisecond, nil)
	ctx := context.Background()

	require.NoError(t, d.Start(ctx))
	assert.ErrorIs(t, d.Start(ctx), ErrDispatcherAlreadyRunning)
	require.NoError(t, d.Stop())
	assert.ErrorIs(t, d.Stop(), ErrDispatcherNotRunning)

	require.NoError(t, d.Start(ctx), "dispatcher can be restarted")
	require.NoError(t, d.Stop())
}
