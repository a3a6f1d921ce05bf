package api

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"classpulse/internal/broadcast"
	"classpulse/internal/engagement"
	"classpulse/internal/quiz"
	"classpulse/internal/rooms"
	"classpulse/internal/scheduler"
	"classpulse/internal/session"
	"classpulse/internal/store"
	"classpulse/internal/websocket"
	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

// Store is the persistence the API reads and writes directly.
type Store interface {
	CreateQuestion(ctx context.Context, q *types.Question) error
	ListQuestions(ctx context.Context) ([]*types.Question, error)
	DeleteQuestion(ctx context.Context, id string) error
	SummarizeSession(ctx context.Context, sessionKey string) (store.SessionSummary, error)
	HealthCheck(ctx context.Context) error
}

// Deps are the components behind the HTTP surface.
type Deps struct {
	Store     Store
	Sessions  *session.Directory
	Registry  *rooms.Registry
	Engine    *broadcast.Engine
	Quiz      *quiz.Service
	Scheduler *scheduler.Scheduler
	Predictor *engagement.Predictor
	Sockets   *websocket.Handler
	Logger    *zap.Logger
}

// Server is the HTTP layer: request decoding, status mapping and JSON.
// ARCHITECTURAL DISCOVERY: no business rules live here; every handler
// delegates to exactly one component operation
type Server struct {
	deps    Deps
	router  *gin.Engine
	logger  *zap.Logger
	started time.Time
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	s := &Server{
		deps:    deps,
		router:  gin.New(),
		logger:  deps.Logger,
		started: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(gin.Recovery(), s.requestLogger(), corsMiddleware())

	r.GET("/health", s.healthCheck)

	ws := r.Group("/ws")
	{
		ws.GET("/stats", s.roomStats)
		if s.deps.Sockets != nil {
			ws.GET("/session/:session_key/:student_id", s.deps.Sockets.SessionRoom)
			ws.GET("/global/:student_id", s.deps.Sockets.GlobalRoom)
		}
	}

	api := r.Group("/api")

	sessions := api.Group("/sessions")
	{
		sessions.POST("", s.createSession)
		sessions.GET("", s.listSessions)
		sessions.GET("/:id", s.getSession)
		sessions.DELETE("/:id", s.endSession)
		sessions.GET("/:id/summary", s.sessionSummary)
	}

	questions := api.Group("/questions")
	{
		questions.POST("", s.createQuestion)
		questions.GET("", s.listQuestions)
		questions.DELETE("/:id", s.deleteQuestion)
	}

	live := api.Group("/live")
	{
		live.POST("/trigger/:session_ref", s.triggerQuiz)
		live.POST("/sessions/:session_key/question", s.broadcastQuestion)
		live.POST("/sessions/:session_key/leave/:student_id", s.leaveRoom)
		live.GET("/stats/:session_key", s.sessionRoomStats)
		live.POST("/announce", s.announce)
	}

	eng := api.Group("/engagement")
	{
		eng.POST("/sessions/:id/start", s.startAdaptive)
		eng.POST("/sessions/:id/stop", s.stopAdaptive)
		eng.POST("/sessions/:id/students", s.addAdaptiveStudent)
		eng.GET("/sessions/:id/ready", s.readyStudents)
		eng.GET("/sessions/:id/overview", s.sessionOverview)
		eng.GET("/sessions", s.activeAdaptiveSessions)
		eng.POST("/students/:id/answers", s.recordAdaptiveAnswer)
		eng.DELETE("/students/:id", s.removeAdaptiveStudent)
		eng.GET("/students/:id/stats", s.studentStats)
		eng.POST("/predict", s.predict)
		eng.GET("/model", s.modelInfo)
	}
}

// ServeHTTP makes the server usable as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the underlying router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Database  string      `json:"database"`
	Rooms     rooms.Stats `json:"rooms"`
	Sessions  int         `json:"activeSessions"`
	Model     bool        `json:"modelLoaded"`
	System    SystemInfo  `json:"system"`
}

type SystemInfo struct {
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heapAllocBytes"`
	Uptime     string `json:"uptime"`
}

func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Database:  "healthy",
		Rooms:     s.deps.Registry.Stats(),
	}
	if s.deps.Store != nil {
		if err := s.deps.Store.HealthCheck(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Database = "error: " + err.Error()
		}
	}
	if s.deps.Sessions != nil {
		resp.Sessions = s.deps.Sessions.CachedCount()
	}
	if s.deps.Predictor != nil {
		resp.Model = s.deps.Predictor.Loaded()
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	resp.System = SystemInfo{
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  mem.HeapAlloc,
		Uptime:     time.Since(s.started).Round(time.Second).String(),
	}

	code := http.StatusOK
	if resp.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

// sendError writes the uniform error body.
func sendError(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, types.ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// writeError maps component errors onto HTTP statuses. Unknown errors are
// logged and reported as 500 without their text.
func (s *Server) writeError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		c.AbortWithStatusJSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   http.StatusText(http.StatusBadRequest),
			Code:    http.StatusBadRequest,
			Message: "validation failed",
			Fields:  types.FieldErrors(verrs),
		})
	case errors.Is(err, types.ErrMalformedReference),
		errors.Is(err, types.ErrInvalidStudentID),
		errors.Is(err, types.ErrInvalidRoomKey),
		errors.Is(err, types.ErrInvalidEngagementLevel),
		errors.Is(err, scheduler.ErrEmptyIdentifier),
		errors.Is(err, session.ErrInvalidTitle),
		errors.Is(err, session.ErrInvalidInstructorID),
		errors.Is(err, session.ErrInvalidExternalID),
		errors.Is(err, session.ErrSessionAlreadyEnded),
		errors.Is(err, quiz.ErrInvalidQuestion),
		errors.Is(err, store.ErrInvalidRecord):
		sendError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, interfaces.ErrSessionNotFound),
		errors.Is(err, interfaces.ErrQuestionNotFound):
		sendError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrDuplicateKey):
		sendError(c, http.StatusConflict, err.Error())
	case errors.Is(err, engagement.ErrModelNotLoaded):
		sendError(c, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		sendError(c, http.StatusInternalServerError, "internal error")
	}
}

// bindJSON decodes the body and runs struct validation on it.
func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	if err := types.Validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			c.AbortWithStatusJSON(http.StatusBadRequest, types.ErrorResponse{
				Error:   http.StatusText(http.StatusBadRequest),
				Code:    http.StatusBadRequest,
				Message: "validation failed",
				Fields:  types.FieldErrors(verrs),
			})
			return false
		}
		sendError(c, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// corsMiddleware allows any origin; browser clients are served separately.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Max-Age", "86400")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}
