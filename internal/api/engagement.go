package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"classpulse/internal/engagement"
	"classpulse/internal/scheduler"
	"classpulse/pkg/types"
)

// AddStudentRequest is the body of POST /api/engagement/sessions/:id/students.
type AddStudentRequest struct {
	StudentID string `json:"studentId" validate:"required,max=100"`
	// EngagementLevel defaults to Moderate.
	EngagementLevel string `json:"engagementLevel"`
}

// PredictResponse is the body returned by POST /api/engagement/predict.
type PredictResponse struct {
	types.Classification
	Features engagement.Features `json:"features"`
}

// POST /api/engagement/sessions/:id/start
func (s *Server) startAdaptive(c *gin.Context) {
	id := c.Param("id")
	started := s.deps.Scheduler.StartSession(id)
	overview, _ := s.deps.Scheduler.SessionOverview(id)
	c.JSON(http.StatusOK, gin.H{"sessionId": id, "started": started, "overview": overview})
}

// POST /api/engagement/sessions/:id/stop returns the final overview.
func (s *Server) stopAdaptive(c *gin.Context) {
	overview, ok := s.deps.Scheduler.StopSession(c.Param("id"))
	if !ok {
		sendError(c, http.StatusNotFound, "adaptive session not running")
		return
	}
	c.JSON(http.StatusOK, overview)
}

// POST /api/engagement/sessions/:id/students
func (s *Server) addAdaptiveStudent(c *gin.Context) {
	var req AddStudentRequest
	if !bindJSON(c, &req) {
		return
	}
	level := types.EngagementModerate
	if req.EngagementLevel != "" {
		parsed, err := types.ParseEngagementLevel(req.EngagementLevel)
		if err != nil {
			s.writeError(c, err)
			return
		}
		level = parsed
	}
	if err := s.deps.Scheduler.AddStudent(c.Param("id"), req.StudentID, level); err != nil {
		s.writeError(c, err)
		return
	}
	stats, _ := s.deps.Scheduler.StudentStats(req.StudentID)
	c.JSON(http.StatusCreated, stats)
}

// DELETE /api/engagement/students/:id
func (s *Server) removeAdaptiveStudent(c *gin.Context) {
	if !s.deps.Scheduler.RemoveStudent(c.Param("id")) {
		sendError(c, http.StatusNotFound, "student not scheduled")
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/engagement/sessions/:id/ready
func (s *Server) readyStudents(c *gin.Context) {
	ready := s.deps.Scheduler.ReadyStudents(c.Param("id"))
	if ready == nil {
		ready = []scheduler.Ready{}
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": c.Param("id"), "ready": ready})
}

// GET /api/engagement/sessions/:id/overview
func (s *Server) sessionOverview(c *gin.Context) {
	overview, ok := s.deps.Scheduler.SessionOverview(c.Param("id"))
	if !ok {
		sendError(c, http.StatusNotFound, "adaptive session not running")
		return
	}
	c.JSON(http.StatusOK, overview)
}

// GET /api/engagement/sessions
func (s *Server) activeAdaptiveSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.deps.Scheduler.ActiveSessions()})
}

// POST /api/engagement/students/:id/answers records an answer observed
// outside the quiz flow.
func (s *Server) recordAdaptiveAnswer(c *gin.Context) {
	var f types.AnswerFeatures
	if !bindJSON(c, &f) {
		return
	}
	classification, ok := s.deps.Scheduler.RecordAnswer(c.Param("id"), f)
	if !ok {
		sendError(c, http.StatusNotFound, "student not scheduled")
		return
	}
	stats, _ := s.deps.Scheduler.StudentStats(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"classification": classification, "stats": stats})
}

// GET /api/engagement/students/:id/stats
func (s *Server) studentStats(c *gin.Context) {
	stats, ok := s.deps.Scheduler.StudentStats(c.Param("id"))
	if !ok {
		sendError(c, http.StatusNotFound, "student not scheduled")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// POST /api/engagement/predict classifies without touching any schedule.
// It answers 503 when no model is installed rather than the fallback label.
func (s *Server) predict(c *gin.Context) {
	var f types.AnswerFeatures
	if !bindJSON(c, &f) {
		return
	}
	if s.deps.Predictor == nil {
		s.writeError(c, engagement.ErrModelNotLoaded)
		return
	}
	classification, err := s.deps.Predictor.Classify(f)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, PredictResponse{
		Classification: classification,
		Features:       engagement.ExtractFeatures(f),
	})
}

// GET /api/engagement/model
func (s *Server) modelInfo(c *gin.Context) {
	if s.deps.Predictor == nil {
		c.JSON(http.StatusOK, engagement.ModelInfo{})
		return
	}
	c.JSON(http.StatusOK, s.deps.Predictor.Info())
}
