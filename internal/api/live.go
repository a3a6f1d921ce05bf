package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"classpulse/pkg/types"
)

// AnnounceRequest is the body of POST /api/live/announce.
type AnnounceRequest struct {
	Message string                 `json:"message" validate:"required,max=2000"`
	Data    map[string]interface{} `json:"data"`
}

type announcement struct {
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// POST /api/live/trigger/:session_ref pushes one random question to every
// student of the referenced session, whichever alias they joined under.
func (s *Server) triggerQuiz(c *gin.Context) {
	result, err := s.deps.Quiz.TriggerQuiz(c.Request.Context(), c.Param("session_ref"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// POST /api/live/sessions/:session_key/question sends the same ad-hoc
// question to the whole session.
func (s *Server) broadcastQuestion(c *gin.Context) {
	var q types.Question
	if err := c.ShouldBindJSON(&q); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid JSON")
		return
	}
	result, err := s.deps.Quiz.BroadcastQuestion(c.Request.Context(), c.Param("session_key"), &q)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// POST /api/live/sessions/:session_key/leave/:student_id
func (s *Server) leaveRoom(c *gin.Context) {
	key, studentID := c.Param("session_key"), c.Param("student_id")
	if !s.deps.Registry.Leave(key, studentID) {
		sendError(c, http.StatusNotFound, "participant not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": key, "studentId": studentID, "status": types.StatusLeft})
}

// GET /api/live/stats/:session_key
func (s *Server) sessionRoomStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Registry.Lookup(c.Param("session_key")))
}

// GET /ws/stats
func (s *Server) roomStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Registry.Stats())
}

// POST /api/live/announce
func (s *Server) announce(c *gin.Context) {
	var req AnnounceRequest
	if !bindJSON(c, &req) {
		return
	}
	report := s.deps.Engine.BroadcastGlobal(c.Request.Context(), announcement{
		Type:      "announcement",
		Message:   req.Message,
		Data:      req.Data,
		Timestamp: time.Now().UTC(),
	})
	c.JSON(http.StatusOK, report)
}
