package websocket

import (
	"time"

	"classpulse/internal/quiz"
	"classpulse/pkg/types"
)

// Inbound frame types.
const (
	FrameAnswer  = "answer"
	FrameNetwork = "network"
	FrameLeave   = "leave"
	FramePing    = "ping"
)

// inboundFrame is the union of every client frame; Type selects the fields
// that matter.
type inboundFrame struct {
	Type           string               `json:"type"`
	QuestionID     string               `json:"questionId"`
	Answer         string               `json:"answer"`
	ResponseTime   float64              `json:"responseTime"`
	RTTMs          float64              `json:"rttMs"`
	NetworkQuality types.NetworkQuality `json:"networkQuality"`
}

type sessionJoinedFrame struct {
	Type             string    `json:"type"`
	SessionID        string    `json:"sessionId"`
	StudentID        string    `json:"studentId"`
	Message          string    `json:"message"`
	ParticipantCount int       `json:"participantCount"`
	Rejoined         bool      `json:"rejoined"`
	Timestamp        time.Time `json:"timestamp"`
}

type globalJoinedFrame struct {
	Type              string    `json:"type"`
	StudentID         string    `json:"studentId"`
	GlobalConnections int       `json:"globalConnections"`
	Timestamp         time.Time `json:"timestamp"`
}

type sessionLeftFrame struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId"`
	StudentID string    `json:"studentId"`
	Timestamp time.Time `json:"timestamp"`
}

type answerResultFrame struct {
	Type string `json:"type"`
	quiz.AnswerResult
}

type pongFrame struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type errorFrame struct {
	Type    string            `json:"type"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func newErrorFrame(code string, err error) errorFrame {
	return errorFrame{Type: "error", Code: code, Message: err.Error(), Fields: types.FieldErrors(err)}
}
