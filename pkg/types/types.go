package types

import (
	"strings"
	"time"
)

// EngagementLevel is the classifier label that drives question cadence.
type EngagementLevel string

const (
	EngagementActive   EngagementLevel = "Active"
	EngagementModerate EngagementLevel = "Moderate"
	EngagementPassive  EngagementLevel = "Passive"
)

// EngagementLevels lists every label in classifier output order.
var EngagementLevels = []EngagementLevel{EngagementActive, EngagementModerate, EngagementPassive}

// ParseEngagementLevel accepts any casing of a known label.
// FUNCTIONAL DISCOVERY: clients send "active", "Active" and "ACTIVE" interchangeably
func ParseEngagementLevel(s string) (EngagementLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return EngagementActive, nil
	case "moderate":
		return EngagementModerate, nil
	case "passive":
		return EngagementPassive, nil
	default:
		return "", ErrInvalidEngagementLevel
	}
}

// Valid reports whether l is one of the canonical labels.
func (l EngagementLevel) Valid() bool {
	switch l {
	case EngagementActive, EngagementModerate, EngagementPassive:
		return true
	}
	return false
}

// ParticipantStatus tracks whether a student is still reachable in a room.
type ParticipantStatus string

const (
	StatusJoined ParticipantStatus = "joined"
	StatusLeft   ParticipantStatus = "left"
)

// NetworkQuality is the coarse client-reported link quality.
type NetworkQuality string

const (
	NetworkExcellent NetworkQuality = "Excellent"
	NetworkGood      NetworkQuality = "Good"
	NetworkFair      NetworkQuality = "Fair"
	NetworkPoor      NetworkQuality = "Poor"
)

// Normalize folds the four reported grades onto the three the classifier
// was trained with. Fair counts as Good; anything unrecognised is Excellent.
func (q NetworkQuality) Normalize() NetworkQuality {
	switch strings.ToLower(strings.TrimSpace(string(q))) {
	case "poor":
		return NetworkPoor
	case "good", "fair":
		return NetworkGood
	default:
		return NetworkExcellent
	}
}

// Difficulty of a question bank entry.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// SessionRecord is the persisted identity of a live session.
// ARCHITECTURAL DISCOVERY: a session is reachable by its internal ID and,
// when backed by a meeting provider, by the provider's meeting ID as well
type SessionRecord struct {
	ID           string     `json:"id" db:"id"`
	ExternalID   string     `json:"externalId,omitempty" db:"external_id"`
	Title        string     `json:"title" db:"title"`
	InstructorID string     `json:"instructorId" db:"instructor_id"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
	EndedAt      *time.Time `json:"endedAt,omitempty" db:"ended_at"`
}

// Aliases returns the non-empty identifiers of the record in lookup order.
func (s *SessionRecord) Aliases() []string {
	var out []string
	if s.ExternalID != "" {
		out = append(out, s.ExternalID)
	}
	if s.ID != "" {
		out = append(out, s.ID)
	}
	return out
}

// Question is one entry of the question bank.
type Question struct {
	ID            string     `json:"id" db:"id"`
	Text          string     `json:"question" db:"text" validate:"required,max=2000"`
	Options       []string   `json:"options" db:"-" validate:"min=2,dive,required"`
	CorrectAnswer string     `json:"correctAnswer" db:"correct_answer" validate:"required"`
	Difficulty    Difficulty `json:"difficulty" db:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	Category      string     `json:"category" db:"category"`
	TimeLimit     int        `json:"timeLimit" db:"time_limit" validate:"gte=0,lte=3600"`
	CreatedAt     time.Time  `json:"createdAt" db:"created_at"`
}

// QuizMessage is what a student's client receives when a question is pushed.
// The embedded identity lets the client drop messages not meant for it.
type QuizMessage struct {
	Type       string     `json:"type"`
	MessageID  string     `json:"messageId"`
	StudentID  string     `json:"studentId"`
	SessionKey string     `json:"sessionId"`
	RoomKey    string     `json:"roomKey"`
	QuestionID string     `json:"questionId"`
	Question   string     `json:"question"`
	Options    []string   `json:"options"`
	TimeLimit  int        `json:"timeLimit"`
	Difficulty Difficulty `json:"difficulty"`
	Category   string     `json:"category"`
	SentAt     time.Time  `json:"timestamp"`
}

const MessageTypeQuiz = "quiz"

// AnswerFeatures is one observed answer as fed to the engagement classifier.
type AnswerFeatures struct {
	IsCorrect      bool           `json:"isCorrect"`
	ResponseTime   float64        `json:"responseTime" validate:"gte=0"`
	RTTMs          float64        `json:"rttMs" validate:"gte=0"`
	Difficulty     Difficulty     `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	ExpectedTime   float64        `json:"expectedTime" validate:"gte=0"`
	NetworkQuality NetworkQuality `json:"networkQuality"`
}

// Answer is a student's submitted response to a pushed question.
type Answer struct {
	StudentID    string  `json:"studentId" validate:"required,max=100"`
	SessionKey   string  `json:"sessionId" validate:"required,max=100"`
	QuestionID   string  `json:"questionId" validate:"required"`
	Answer       string  `json:"answer"`
	ResponseTime float64 `json:"responseTime" validate:"gte=0"`
	RTTMs        float64 `json:"rttMs" validate:"gte=0"`
	// NetworkQuality is optional; the schedule's last value is used when empty.
	NetworkQuality NetworkQuality `json:"networkQuality"`
}

// AnswerRecord is the persisted form of an Answer after grading.
type AnswerRecord struct {
	ID           string    `json:"id" db:"id"`
	StudentID    string    `json:"studentId" db:"student_id"`
	QuestionID   string    `json:"questionId" db:"question_id"`
	SessionKey   string    `json:"sessionId" db:"session_key"`
	Answer       string    `json:"answer" db:"answer"`
	Correct      bool      `json:"correct" db:"correct"`
	ResponseTime float64   `json:"responseTime" db:"response_time"`
	RTTMs        float64   `json:"rttMs" db:"rtt_ms"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// Assignment records which question a student was sent in a session.
type Assignment struct {
	ID         string    `json:"id" db:"id"`
	StudentID  string    `json:"studentId" db:"student_id"`
	QuestionID string    `json:"questionId" db:"question_id"`
	SessionKey string    `json:"sessionId" db:"session_key"`
	SentAt     time.Time `json:"sentAt" db:"sent_at"`
}

// Classification is the engagement classifier's verdict for one answer.
// Fallback marks a neutral default issued when no model could score it.
type Classification struct {
	Label         EngagementLevel             `json:"engagementLevel"`
	Confidence    float64                     `json:"confidence"`
	Probabilities map[EngagementLevel]float64 `json:"probabilities"`
	Fallback      bool                        `json:"fallback"`
}

// ErrorResponse is the JSON body of every failed HTTP request.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}
