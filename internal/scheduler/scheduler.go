package scheduler

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"classpulse/internal/engagement"
	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

// DefaultHistoryCap bounds each student's engagement history.
const DefaultHistoryCap = 256

const (
	initialRTT     = 100.0
	initialNetwork = types.NetworkGood
)

// Scheduler decides when each student in an adaptive session is due for
// another question.
// ARCHITECTURAL DISCOVERY: lock order is Scheduler.mu -> schedule.mu -> session.mu.
// Scheduler.mu only guards the maps, so updates for different students never
// contend once their schedule is looked up.
type Scheduler struct {
	mu        sync.RWMutex
	sessions  map[string]*adaptiveSession
	schedules map[string]*schedule // studentID -> schedule

	classifier interfaces.Classifier
	now        func() time.Time
	rngMu      sync.Mutex
	rng        Rand
	historyCap int
	logger     *zap.Logger
}

type adaptiveSession struct {
	id            string
	startedAt     time.Time
	mu            sync.Mutex
	students      map[string]types.EngagementLevel
	questionsSent int
}

type schedule struct {
	mu                sync.Mutex
	sessionID         string
	studentID         string
	level             types.EngagementLevel
	nextEligibleAt    time.Time
	questionsSent     int
	questionsAnswered int
	questionsCorrect  int
	totalResponseTime float64
	lastRTT           float64
	lastNetwork       types.NetworkQuality
	history           []types.EngagementLevel
	removed           bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithRand injects the random source used for deadlines.
func WithRand(r Rand) Option {
	return func(s *Scheduler) { s.rng = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithHistoryCap bounds engagement history; n <= 0 keeps the default.
func WithHistoryCap(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.historyCap = n
		}
	}
}

// New creates a scheduler. A nil classifier makes every answer fall back to
// the neutral Moderate label.
func New(classifier interfaces.Classifier, opts ...Option) *Scheduler {
	s := &Scheduler{
		sessions:   make(map[string]*adaptiveSession),
		schedules:  make(map[string]*schedule),
		classifier: classifier,
		now:        time.Now,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		historyCap: DefaultHistoryCap,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) nextDeadline(level types.EngagementLevel, now time.Time) time.Time {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	t, err := NextDeadline(level, now, s.rng)
	if err != nil {
		// stored labels are always valid; treat anything else as Moderate
		t, _ = NextDeadline(types.EngagementModerate, now, s.rng)
	}
	return t
}

// StartSession creates the adaptive session if absent. Returns true if it
// was created by this call.
func (s *Scheduler) StartSession(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(sessionID)
}

func (s *Scheduler) startLocked(sessionID string) bool {
	if _, exists := s.sessions[sessionID]; exists {
		return false
	}
	s.sessions[sessionID] = &adaptiveSession{
		id:        sessionID,
		startedAt: s.now(),
		students:  make(map[string]types.EngagementLevel),
	}
	s.logger.Info("adaptive session started", zap.String("session_id", sessionID))
	return true
}

// StopSession returns the final overview and deletes the session together
// with every schedule that belongs to it.
func (s *Scheduler) StopSession(sessionID string) (Overview, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[sessionID]
	if !exists {
		return Overview{}, false
	}
	overview := s.overview(sess)

	for studentID, sch := range s.schedules {
		if sch.sessionID != sessionID {
			continue
		}
		sch.mu.Lock()
		sch.removed = true
		sch.mu.Unlock()
		delete(s.schedules, studentID)
	}
	delete(s.sessions, sessionID)

	s.logger.Info("adaptive session stopped",
		zap.String("session_id", sessionID),
		zap.Float64("duration_minutes", overview.DurationMinutes),
		zap.Int("questions_sent", overview.TotalQuestionsSent))
	return overview, true
}

// AddStudent schedules studentID's first question from the initial label.
// The session is started implicitly. Re-adding a student resets its schedule
// and moves it out of any previous session.
func (s *Scheduler) AddStudent(sessionID, studentID string, initial types.EngagementLevel) error {
	if sessionID == "" || studentID == "" {
		return ErrEmptyIdentifier
	}
	if !initial.Valid() {
		return types.ErrInvalidEngagementLevel
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.startLocked(sessionID)

	if old, exists := s.schedules[studentID]; exists {
		old.mu.Lock()
		old.removed = true
		if prev, ok := s.sessions[old.sessionID]; ok {
			prev.mu.Lock()
			delete(prev.students, studentID)
			prev.mu.Unlock()
		}
		old.mu.Unlock()
	}

	now := s.now()
	sch := &schedule{
		sessionID:      sessionID,
		studentID:      studentID,
		level:          initial,
		nextEligibleAt: s.nextDeadline(initial, now),
		lastRTT:        initialRTT,
		lastNetwork:    initialNetwork,
		history:        []types.EngagementLevel{initial},
	}
	s.schedules[studentID] = sch

	sess := s.sessions[sessionID]
	sess.mu.Lock()
	sess.students[studentID] = initial
	sess.mu.Unlock()

	s.logger.Debug("student added to adaptive schedule",
		zap.String("session_id", sessionID),
		zap.String("student_id", studentID),
		zap.String("engagement", string(initial)),
		zap.Duration("next_in", sch.nextEligibleAt.Sub(now)))
	return nil
}

// RemoveStudent deletes the student's schedule. Returns false if unknown.
func (s *Scheduler) RemoveStudent(studentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sch, exists := s.schedules[studentID]
	if !exists {
		return false
	}
	sch.mu.Lock()
	sch.removed = true
	if sess, ok := s.sessions[sch.sessionID]; ok {
		sess.mu.Lock()
		delete(sess.students, studentID)
		sess.mu.Unlock()
	}
	sch.mu.Unlock()
	delete(s.schedules, studentID)
	return true
}

// lookup returns the live schedule and its session without holding s.mu.
func (s *Scheduler) lookup(studentID string) (*schedule, *adaptiveSession) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sch, exists := s.schedules[studentID]
	if !exists {
		return nil, nil
	}
	return sch, s.sessions[sch.sessionID]
}

// RecordAnswer updates counters, reclassifies the student and reschedules
// from the new label. Returns false if the student has no schedule.
func (s *Scheduler) RecordAnswer(studentID string, f types.AnswerFeatures) (types.Classification, bool) {
	sch, sess := s.lookup(studentID)
	if sch == nil {
		return types.Classification{}, false
	}

	sch.mu.Lock()
	defer sch.mu.Unlock()
	if sch.removed {
		return types.Classification{}, false
	}

	sch.questionsAnswered++
	if f.IsCorrect {
		sch.questionsCorrect++
	}
	sch.totalResponseTime += f.ResponseTime
	sch.lastRTT = f.RTTMs
	if f.NetworkQuality != "" {
		sch.lastNetwork = f.NetworkQuality
	} else {
		f.NetworkQuality = sch.lastNetwork
	}

	c := s.classify(studentID, f)

	old := sch.level
	sch.level = c.Label
	sch.history = append(sch.history, c.Label)
	if over := len(sch.history) - s.historyCap; over > 0 {
		sch.history = append(sch.history[:0:0], sch.history[over:]...)
	}
	now := s.now()
	sch.nextEligibleAt = s.nextDeadline(c.Label, now)

	if sess != nil {
		sess.mu.Lock()
		if _, tracked := sess.students[studentID]; tracked {
			sess.students[studentID] = c.Label
		}
		sess.mu.Unlock()
	}

	if old != c.Label {
		s.logger.Info("student engagement changed",
			zap.String("student_id", studentID),
			zap.String("from", string(old)),
			zap.String("to", string(c.Label)),
			zap.Float64("confidence", c.Confidence),
			zap.Bool("fallback", c.Fallback),
			zap.Duration("next_in", sch.nextEligibleAt.Sub(now)))
	}
	return c, true
}

func (s *Scheduler) classify(studentID string, f types.AnswerFeatures) types.Classification {
	if s.classifier == nil {
		return engagement.Fallback()
	}
	c, err := s.classifier.Classify(f)
	if err != nil {
		s.logger.Warn("classifier unavailable, using fallback",
			zap.String("student_id", studentID), zap.Error(err))
		return engagement.Fallback()
	}
	if !c.Label.Valid() {
		s.logger.Warn("classifier returned unknown label, using fallback",
			zap.String("student_id", studentID), zap.String("label", string(c.Label)))
		return engagement.Fallback()
	}
	return c
}

// MarkQuestionSent counts a delivered question and reschedules from the
// current label so the student is not immediately due again.
func (s *Scheduler) MarkQuestionSent(studentID string) bool {
	sch, sess := s.lookup(studentID)
	if sch == nil {
		return false
	}

	sch.mu.Lock()
	defer sch.mu.Unlock()
	if sch.removed {
		return false
	}

	sch.questionsSent++
	sch.nextEligibleAt = s.nextDeadline(sch.level, s.now())

	if sess != nil {
		sess.mu.Lock()
		sess.questionsSent++
		sess.mu.Unlock()
	}
	return true
}

// UpdateNetwork stores the latest telemetry used for the next classification.
func (s *Scheduler) UpdateNetwork(studentID string, rttMs float64, quality types.NetworkQuality) bool {
	sch, _ := s.lookup(studentID)
	if sch == nil {
		return false
	}
	sch.mu.Lock()
	defer sch.mu.Unlock()
	if sch.removed {
		return false
	}
	sch.lastRTT = rttMs
	if quality != "" {
		sch.lastNetwork = quality
	}
	return true
}

// Ready is one student due for a question.
type Ready struct {
	StudentID       string                `json:"studentId"`
	EngagementLevel types.EngagementLevel `json:"engagementLevel"`
	QuestionsSent   int                   `json:"questionsSent"`
}

// ReadyStudents returns every student of the session whose deadline has
// passed, ordered by student ID. The result is advisory.
func (s *Scheduler) ReadyStudents(sessionID string) []Ready {
	s.mu.RLock()
	sess, exists := s.sessions[sessionID]
	if !exists {
		s.mu.RUnlock()
		return nil
	}
	sess.mu.Lock()
	candidates := make([]*schedule, 0, len(sess.students))
	for studentID := range sess.students {
		if sch, ok := s.schedules[studentID]; ok {
			candidates = append(candidates, sch)
		}
	}
	sess.mu.Unlock()
	s.mu.RUnlock()

	now := s.now()
	var ready []Ready
	for _, sch := range candidates {
		sch.mu.Lock()
		if !sch.removed && !now.Before(sch.nextEligibleAt) {
			ready = append(ready, Ready{
				StudentID:       sch.studentID,
				EngagementLevel: sch.level,
				QuestionsSent:   sch.questionsSent,
			})
		}
		sch.mu.Unlock()
	}

	sort.Slice(ready, func(i, j int) bool { return ready[i].StudentID < ready[j].StudentID })
	return ready
}

// StudentStats is the read-only projection of one schedule.
// Accuracy and AverageResponseTime are nil until the first answer.
type StudentStats struct {
	StudentID           string                  `json:"studentId"`
	SessionID           string                  `json:"sessionId"`
	EngagementLevel     types.EngagementLevel   `json:"engagementLevel"`
	QuestionsSent       int                     `json:"questionsSent"`
	QuestionsAnswered   int                     `json:"questionsAnswered"`
	QuestionsCorrect    int                     `json:"questionsCorrect"`
	Accuracy            *float64                `json:"accuracy"`
	AverageResponseTime *float64                `json:"averageResponseTime"`
	LastRTT             float64                 `json:"lastRtt"`
	LastNetworkQuality  types.NetworkQuality    `json:"lastNetworkQuality"`
	NextEligibleAt      time.Time               `json:"nextEligibleAt"`
	EngagementHistory   []types.EngagementLevel `json:"engagementHistory"`
}

// StudentStats returns false when the student has no schedule.
func (s *Scheduler) StudentStats(studentID string) (StudentStats, bool) {
	sch, _ := s.lookup(studentID)
	if sch == nil {
		return StudentStats{}, false
	}

	sch.mu.Lock()
	defer sch.mu.Unlock()
	if sch.removed {
		return StudentStats{}, false
	}

	stats := StudentStats{
		StudentID:          sch.studentID,
		SessionID:          sch.sessionID,
		EngagementLevel:    sch.level,
		QuestionsSent:      sch.questionsSent,
		QuestionsAnswered:  sch.questionsAnswered,
		QuestionsCorrect:   sch.questionsCorrect,
		LastRTT:            sch.lastRTT,
		LastNetworkQuality: sch.lastNetwork,
		NextEligibleAt:     sch.nextEligibleAt,
		EngagementHistory:  append([]types.EngagementLevel(nil), sch.history...),
	}
	if sch.questionsAnswered > 0 {
		acc := float64(sch.questionsCorrect) / float64(sch.questionsAnswered)
		avg := sch.totalResponseTime / float64(sch.questionsAnswered)
		stats.Accuracy = &acc
		stats.AverageResponseTime = &avg
	}
	return stats, true
}

// Overview aggregates one adaptive session.
type Overview struct {
	SessionID          string                          `json:"sessionId"`
	StartedAt          time.Time                       `json:"startedAt"`
	DurationMinutes    float64                         `json:"durationMinutes"`
	TotalStudents      int                             `json:"totalStudents"`
	ActiveCount        int                             `json:"activeCount"`
	ModerateCount      int                             `json:"moderateCount"`
	PassiveCount       int                             `json:"passiveCount"`
	TotalQuestionsSent int                             `json:"totalQuestionsSent"`
	ExpectedQuestions  map[types.EngagementLevel]Range `json:"expectedQuestionsPerHour"`
}

// SessionOverview returns false when the session is not running.
func (s *Scheduler) SessionOverview(sessionID string) (Overview, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, exists := s.sessions[sessionID]
	if !exists {
		return Overview{}, false
	}
	return s.overview(sess), true
}

// overview requires s.mu held.
func (s *Scheduler) overview(sess *adaptiveSession) Overview {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	o := Overview{
		SessionID:          sess.id,
		StartedAt:          sess.startedAt,
		DurationMinutes:    math.Round(s.now().Sub(sess.startedAt).Minutes()*10) / 10,
		TotalStudents:      len(sess.students),
		TotalQuestionsSent: sess.questionsSent,
		ExpectedQuestions:  make(map[types.EngagementLevel]Range, len(expectedCounts)),
	}
	for _, level := range sess.students {
		switch level {
		case types.EngagementActive:
			o.ActiveCount++
		case types.EngagementModerate:
			o.ModerateCount++
		case types.EngagementPassive:
			o.PassiveCount++
		}
	}
	for level, r := range expectedCounts {
		o.ExpectedQuestions[level] = r
	}
	return o
}

// ActiveSessions lists running adaptive sessions in ID order.
func (s *Scheduler) ActiveSessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
