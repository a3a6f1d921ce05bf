package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"classpulse/internal/session"
	"classpulse/pkg/types"
)

// CreateSessionRequest is the body of POST /api/sessions.
type CreateSessionRequest struct {
	Title        string `json:"title" validate:"required,max=200"`
	InstructorID string `json:"instructorId" validate:"required,max=100"`
	// ExternalID is the meeting provider's ID, when there is one.
	ExternalID string `json:"externalId" validate:"omitempty,max=100"`
}

// SessionResponse pairs a record with the live participant counts of each
// of its rooms.
type SessionResponse struct {
	Session *types.SessionRecord `json:"session"`
	Joined  int                  `json:"joinedCount"`
}

func (s *Server) joinedAcross(rec *types.SessionRecord) int {
	total := 0
	for _, key := range rec.Aliases() {
		total += len(s.deps.Registry.ListJoined(key))
	}
	return total
}

// POST /api/sessions
func (s *Server) createSession(c *gin.Context) {
	var req CreateSessionRequest
	if !bindJSON(c, &req) {
		return
	}
	rec, err := s.deps.Sessions.CreateSession(c.Request.Context(), session.CreateRequest{
		Title:        req.Title,
		InstructorID: req.InstructorID,
		ExternalID:   req.ExternalID,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, SessionResponse{Session: rec})
}

// GET /api/sessions
func (s *Server) listSessions(c *gin.Context) {
	records := s.deps.Sessions.ListActiveSessions()
	out := make([]SessionResponse, len(records))
	for i, rec := range records {
		out[i] = SessionResponse{Session: rec, Joined: s.joinedAcross(rec)}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// GET /api/sessions/:id accepts either identifier.
func (s *Server) getSession(c *gin.Context) {
	rec, err := s.deps.Sessions.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SessionResponse{Session: rec, Joined: s.joinedAcross(rec)})
}

// DELETE /api/sessions/:id ends the session, tells every connected student
// and stops its adaptive schedule.
func (s *Server) endSession(c *gin.Context) {
	ctx := c.Request.Context()
	rec, err := s.deps.Sessions.GetSession(ctx, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	ended, err := s.deps.Sessions.EndSession(ctx, rec.ID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	notice := map[string]interface{}{
		"type":      "session_ended",
		"sessionId": ended.ID,
		"reason":    "Session ended by instructor",
	}
	notified := 0
	for _, key := range ended.Aliases() {
		notified += s.deps.Engine.BroadcastRoom(ctx, key, notice).Sent
	}
	for _, key := range ended.Aliases() {
		if s.deps.Scheduler != nil {
			s.deps.Scheduler.StopSession(key)
		}
	}

	s.logger.Info("session ended via API",
		zap.String("session_id", ended.ID),
		zap.Int("notified", notified))
	c.JSON(http.StatusOK, gin.H{
		"message":  "Session ended successfully",
		"session":  ended,
		"notified": notified,
	})
}

// GET /api/sessions/:id/summary
func (s *Server) sessionSummary(c *gin.Context) {
	summary, err := s.deps.Store.SummarizeSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// POST /api/questions
func (s *Server) createQuestion(c *gin.Context) {
	var q types.Question
	if err := c.ShouldBindJSON(&q); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid JSON")
		return
	}
	// the store applies defaults before validating
	if err := s.deps.Store.CreateQuestion(c.Request.Context(), &q); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, q)
}

// GET /api/questions
func (s *Server) listQuestions(c *gin.Context) {
	questions, err := s.deps.Store.ListQuestions(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	if questions == nil {
		questions = []*types.Question{}
	}
	c.JSON(http.StatusOK, gin.H{"questions": questions})
}

// DELETE /api/questions/:id
func (s *Server) deleteQuestion(c *gin.Context) {
	if err := s.deps.Store.DeleteQuestion(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
