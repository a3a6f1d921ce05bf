package quiz

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"classpulse/internal/broadcast"
	"classpulse/internal/resolver"
	"classpulse/internal/rooms"
	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

// OutcomeNoQuestions is reported when the question pool is empty.
const OutcomeNoQuestions broadcast.Outcome = "no_questions"

// EngagementTracker receives graded answers.
type EngagementTracker interface {
	RecordAnswer(studentID string, f types.AnswerFeatures) (types.Classification, bool)
}

// Rand picks question indexes.
type Rand interface {
	Intn(n int) int
}

// TriggerResult reports one quiz push.
type TriggerResult struct {
	Reference    string            `json:"reference"`
	EffectiveKey string            `json:"effectiveKey"`
	Outcome      broadcast.Outcome `json:"outcome"`
	Sent         int               `json:"sent"`
	Failed       int               `json:"failed"`
	// Assignments maps each delivered student to the question they received.
	Assignments     map[string]string `json:"assignments"`
	ResolvedAliases []string          `json:"resolvedAliases"`
	RecordFound     bool              `json:"recordFound"`
}

// Service runs quiz triggers and takes answers.
// ARCHITECTURAL DISCOVERY: the reference is resolved once per trigger and the
// effective key is stamped into every message, so clients in an alias room
// still see which session the question belongs to
type Service struct {
	resolver *resolver.Resolver
	engine   *broadcast.Engine
	pool     interfaces.QuestionPool
	recorder interfaces.ResponseRecorder
	tracker  EngagementTracker

	rngMu sync.Mutex
	rng   Rand

	defaultExpectedTime float64
	now                 func() time.Time
	logger              *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithRecorder(r interfaces.ResponseRecorder) Option {
	return func(s *Service) { s.recorder = r }
}

func WithTracker(t EngagementTracker) Option {
	return func(s *Service) { s.tracker = t }
}

func WithRand(r Rand) Option {
	return func(s *Service) { s.rng = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithExpectedTime sets the expected answer time used when a question has
// no time limit.
func WithExpectedTime(seconds float64) Option {
	return func(s *Service) {
		if seconds > 0 {
			s.defaultExpectedTime = seconds
		}
	}
}

// NewService wires the quiz flows.
func NewService(res *resolver.Resolver, engine *broadcast.Engine, pool interfaces.QuestionPool, opts ...Option) *Service {
	s := &Service{
		resolver:            res,
		engine:              engine,
		pool:                pool,
		rng:                 rand.New(rand.NewSource(time.Now().UnixNano())),
		defaultExpectedTime: 30,
		now:                 time.Now,
		logger:              zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// recipient is one student and the room they are registered in.
type recipient struct {
	roomKey   string
	studentID string
}

// recipients flattens a resolution: the effective room first, then any
// alias rooms, each student once.
func recipients(res rooms.Resolution) []recipient {
	seen := make(map[string]bool)
	var out []recipient
	add := func(roomKey string, ps []rooms.Participant) {
		for _, p := range ps {
			if seen[p.StudentID] {
				continue
			}
			seen[p.StudentID] = true
			out = append(out, recipient{roomKey: roomKey, studentID: p.StudentID})
		}
	}
	add(res.EffectiveKey, res.Participants)
	for _, g := range res.Others {
		add(g.Key, g.Participants)
	}
	return out
}

func (s *Service) pick(questions []*types.Question) *types.Question {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return questions[s.rng.Intn(len(questions))]
}

// draw returns n questions, distinct while the pool lasts. Once every
// question has been handed out the rest are drawn with replacement.
func (s *Service) draw(questions []*types.Question, n int) []*types.Question {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	deck := make([]*types.Question, len(questions))
	copy(deck, questions)
	out := make([]*types.Question, n)
	for i := range out {
		if i < len(deck) {
			j := i + s.rng.Intn(len(deck)-i)
			deck[i], deck[j] = deck[j], deck[i]
			out[i] = deck[i]
			continue
		}
		out[i] = deck[s.rng.Intn(len(deck))]
	}
	return out
}

// TriggerQuiz sends each Joined student of the referenced session its own
// question. Students get distinct questions unless the pool is smaller
// than the class.
func (s *Service) TriggerQuiz(ctx context.Context, reference string) (TriggerResult, error) {
	return s.trigger(ctx, reference, nil)
}

// BroadcastQuestion sends the same question to every Joined student of the
// referenced session. The question need not be in the bank.
func (s *Service) BroadcastQuestion(ctx context.Context, reference string, q *types.Question) (TriggerResult, error) {
	if q == nil || strings.TrimSpace(q.Text) == "" || len(q.Options) < 2 {
		return TriggerResult{}, ErrInvalidQuestion
	}
	shared := *q
	if shared.ID == "" {
		shared.ID = uuid.NewString()
	}
	return s.trigger(ctx, reference, &shared)
}

func (s *Service) trigger(ctx context.Context, reference string, shared *types.Question) (TriggerResult, error) {
	res, err := s.resolver.Resolve(ctx, reference)
	if err != nil {
		return TriggerResult{}, err
	}
	result := newResult(res)

	targets := recipients(res.Resolution)
	if len(targets) == 0 {
		result.Outcome = s.emptyOutcome(res)
		return result, nil
	}

	var questions []*types.Question
	if shared == nil {
		questions, err = s.pool.ListQuestions(ctx)
		if err != nil {
			return TriggerResult{}, err
		}
		if len(questions) == 0 {
			result.Outcome = OutcomeNoQuestions
			return result, nil
		}
	}

	// draw before fanning out so a seeded source gives a stable assignment
	var drawn []*types.Question
	if shared != nil {
		drawn = make([]*types.Question, len(targets))
		for i := range drawn {
			drawn[i] = shared
		}
	} else {
		drawn = s.draw(questions, len(targets))
	}

	delivered := make([]bool, len(targets))
	var wg sync.WaitGroup
	for i := range targets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			delivered[i] = s.deliver(ctx, res.EffectiveKey, targets[i], drawn[i], shared == nil)
		}(i)
	}
	wg.Wait()

	for i, ok := range delivered {
		if ok {
			result.Sent++
			result.Assignments[targets[i].studentID] = drawn[i].ID
		} else {
			result.Failed++
		}
	}
	result.Outcome = broadcast.Classify(true, len(targets), result.Sent)

	s.logger.Info("quiz triggered",
		zap.String("reference", result.Reference),
		zap.String("effective_key", result.EffectiveKey),
		zap.String("outcome", string(result.Outcome)),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed))
	return result, nil
}

func newResult(res resolver.Resolution) TriggerResult {
	return TriggerResult{
		Reference:       res.Reference,
		EffectiveKey:    res.EffectiveKey,
		Assignments:     make(map[string]string),
		ResolvedAliases: res.Candidates,
		RecordFound:     res.RecordFound,
	}
}

// emptyOutcome tells "no room at all" apart from "rooms with nobody Joined".
func (s *Service) emptyOutcome(res resolver.Resolution) broadcast.Outcome {
	for _, key := range res.Candidates {
		if s.engine.Registry().Lookup(key).Exists {
			return broadcast.OutcomeNoParticipants
		}
	}
	return broadcast.OutcomeNoRoom
}

// deliver sends one question and, for bank questions, records the
// assignment on success.
func (s *Service) deliver(ctx context.Context, sessionKey string, to recipient, q *types.Question, record bool) bool {
	sentAt := s.now().UTC()
	msg := types.QuizMessage{
		Type:       types.MessageTypeQuiz,
		MessageID:  uuid.NewString(),
		StudentID:  to.studentID,
		SessionKey: sessionKey,
		RoomKey:    to.roomKey,
		QuestionID: q.ID,
		Question:   q.Text,
		Options:    q.Options,
		TimeLimit:  q.TimeLimit,
		Difficulty: q.Difficulty,
		Category:   q.Category,
		SentAt:     sentAt,
	}
	ok, _ := s.engine.SendToOne(ctx, to.roomKey, to.studentID, msg)
	if !ok {
		return false
	}

	if record && s.recorder != nil {
		err := s.recorder.RecordAssignment(ctx, &types.Assignment{
			StudentID:  to.studentID,
			QuestionID: q.ID,
			SessionKey: sessionKey,
			SentAt:     sentAt,
		})
		if err != nil {
			s.logger.Warn("failed to record assignment",
				zap.String("student_id", to.studentID),
				zap.String("question_id", q.ID),
				zap.Error(err))
		}
	}
	return true
}

// TriggerForStudent sends one fresh question to a single student of the
// referenced session, wherever among the session's rooms they are Joined.
func (s *Service) TriggerForStudent(ctx context.Context, reference, studentID string) (TriggerResult, error) {
	if err := types.ValidateStudentID(studentID); err != nil {
		return TriggerResult{}, err
	}
	res, err := s.resolver.Resolve(ctx, reference)
	if err != nil {
		return TriggerResult{}, err
	}
	result := newResult(res)

	var target *recipient
	for _, r := range recipients(res.Resolution) {
		if r.studentID == studentID {
			r := r
			target = &r
			break
		}
	}
	if target == nil {
		if res.Empty() {
			result.Outcome = s.emptyOutcome(res)
		} else {
			result.Outcome = broadcast.OutcomeNoParticipants
		}
		return result, nil
	}

	questions, err := s.pool.ListQuestions(ctx)
	if err != nil {
		return TriggerResult{}, err
	}
	if len(questions) == 0 {
		result.Outcome = OutcomeNoQuestions
		return result, nil
	}
	q := s.pick(questions)

	if s.deliver(ctx, res.EffectiveKey, *target, q, true) {
		result.Sent = 1
		result.Assignments[studentID] = q.ID
		result.Outcome = broadcast.OutcomeSent
	} else {
		result.Failed = 1
		result.Outcome = broadcast.OutcomeAllFailed
	}
	return result, nil
}

// SendToStudent lets the adaptive dispatcher push questions.
func (s *Service) SendToStudent(ctx context.Context, sessionID, studentID string) (bool, error) {
	result, err := s.TriggerForStudent(ctx, sessionID, studentID)
	if err != nil {
		return false, err
	}
	if result.Outcome != broadcast.OutcomeSent {
		s.logger.Debug("adaptive question not delivered",
			zap.String("session_id", sessionID),
			zap.String("student_id", studentID),
			zap.String("outcome", string(result.Outcome)))
	}
	return result.Sent == 1, nil
}

// AnswerResult is returned to the student after grading.
type AnswerResult struct {
	QuestionID     string                `json:"questionId"`
	Correct        bool                  `json:"correct"`
	CorrectAnswer  string                `json:"correctAnswer"`
	Tracked        bool                  `json:"tracked"`
	Classification *types.Classification `json:"classification,omitempty"`
}

// SubmitAnswer grades a, records it and feeds it to the engagement tracker.
func (s *Service) SubmitAnswer(ctx context.Context, a types.Answer) (AnswerResult, error) {
	if err := a.Validate(); err != nil {
		return AnswerResult{}, err
	}
	q, err := s.pool.GetQuestion(ctx, a.QuestionID)
	if err != nil {
		return AnswerResult{}, err
	}

	correct := strings.EqualFold(strings.TrimSpace(a.Answer), strings.TrimSpace(q.CorrectAnswer))
	result := AnswerResult{QuestionID: q.ID, Correct: correct, CorrectAnswer: q.CorrectAnswer}

	if s.recorder != nil {
		err := s.recorder.RecordAnswer(ctx, &types.AnswerRecord{
			StudentID:    a.StudentID,
			QuestionID:   q.ID,
			SessionKey:   a.SessionKey,
			Answer:       a.Answer,
			Correct:      correct,
			ResponseTime: a.ResponseTime,
			RTTMs:        a.RTTMs,
			CreatedAt:    s.now().UTC(),
		})
		if err != nil {
			s.logger.Warn("failed to record answer",
				zap.String("student_id", a.StudentID),
				zap.String("question_id", q.ID),
				zap.Error(err))
		}
	}

	if s.tracker != nil {
		expected := s.defaultExpectedTime
		if q.TimeLimit > 0 {
			expected = float64(q.TimeLimit)
		}
		classification, tracked := s.tracker.RecordAnswer(a.StudentID, types.AnswerFeatures{
			IsCorrect:      correct,
			ResponseTime:   a.ResponseTime,
			RTTMs:          a.RTTMs,
			Difficulty:     q.Difficulty,
			ExpectedTime:   expected,
			NetworkQuality: a.NetworkQuality,
		})
		if tracked {
			result.Tracked = true
			result.Classification = &classification
		}
	}
	return result, nil
}
