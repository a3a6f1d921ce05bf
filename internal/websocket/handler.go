package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"classpulse/internal/quiz"
	"classpulse/internal/rooms"
	"classpulse/pkg/types"
)

// AnswerSubmitter grades answers sent over a session socket.
type AnswerSubmitter interface {
	SubmitAnswer(ctx context.Context, a types.Answer) (quiz.AnswerResult, error)
}

// NetworkReporter receives client-measured network conditions.
type NetworkReporter interface {
	UpdateNetwork(studentID string, rttMs float64, quality types.NetworkQuality) bool
}

// Handler upgrades HTTP requests into room members.
// ARCHITECTURAL DISCOVERY: identifiers are validated before the upgrade so a
// bad request gets a plain HTTP error instead of a socket that closes at once
type Handler struct {
	registry *rooms.Registry
	answers  AnswerSubmitter
	network  NetworkReporter
	limiter  *RateLimiter
	upgrader websocket.Upgrader
	config   Config
	logger   *zap.Logger
	now      func() time.Time

	wg sync.WaitGroup
}

// NewHandler creates a handler. answers and network may be nil, in which
// case the matching frames are rejected or ignored.
func NewHandler(registry *rooms.Registry, answers AnswerSubmitter, network NetworkReporter, cfg Config, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		registry: registry,
		answers:  answers,
		network:  network,
		limiter:  NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		upgrader: websocket.Upgrader{
			// classroom clients are served from other origins
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   cfg.ReadBufferSize,
			WriteBufferSize:  cfg.WriteBufferSize,
		},
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Limiter exposes the inbound rate limiter for periodic cleanup.
func (h *Handler) Limiter() *RateLimiter {
	return h.limiter
}

// Wait blocks until every connection goroutine has returned.
func (h *Handler) Wait() {
	h.wg.Wait()
}

func reject(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, types.ErrorResponse{
		Error:   http.StatusText(http.StatusBadRequest),
		Code:    http.StatusBadRequest,
		Message: err.Error(),
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// SessionRoom serves GET /ws/session/:session_key/:student_id.
func (h *Handler) SessionRoom(c *gin.Context) {
	roomKey := c.Param("session_key")
	studentID := c.Param("student_id")
	if err := types.ValidateRoomKey(roomKey); err != nil {
		reject(c, err)
		return
	}
	if err := types.ValidateStudentID(studentID); err != nil {
		reject(c, err)
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn := NewConnection(ws, h.config)
	conn.bind(roomKey, studentID)

	res, err := h.registry.Join(roomKey, studentID, conn, rooms.JoinOptions{
		DisplayName: firstNonEmpty(c.Query("name"), c.Query("student_name")),
		Email:       firstNonEmpty(c.Query("email"), c.Query("student_email")),
	})
	if err != nil {
		h.logger.Error("failed to join room", zap.String("room_key", roomKey), zap.Error(err))
		_ = conn.Close()
		return
	}

	if err := conn.WriteJSON(sessionJoinedFrame{
		Type:             "session_joined",
		SessionID:        roomKey,
		StudentID:        studentID,
		Message:          "Joined session " + roomKey,
		ParticipantCount: res.ParticipantCount,
		Rejoined:         res.Rejoined,
		Timestamp:        h.now().UTC(),
	}); err != nil {
		h.logger.Warn("failed to send join confirmation", zap.Error(err))
	}

	h.wg.Add(1)
	go h.serve(conn,
		func(data []byte) bool { return h.handleSessionFrame(conn, data) },
		// only the transport this loop owns is released, never a newer re-join
		func() { h.registry.Prune(roomKey, studentID, conn) },
	)
}

// GlobalRoom serves GET /ws/global/:student_id.
func (h *Handler) GlobalRoom(c *gin.Context) {
	studentID := c.Param("student_id")
	if err := types.ValidateStudentID(studentID); err != nil {
		reject(c, err)
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn := NewConnection(ws, h.config)
	conn.bind("", studentID)

	count, err := h.registry.JoinGlobal(conn)
	if err != nil {
		_ = conn.Close()
		return
	}
	_ = conn.WriteJSON(globalJoinedFrame{
		Type:              "global_joined",
		StudentID:         studentID,
		GlobalConnections: count,
		Timestamp:         h.now().UTC(),
	})
	h.logger.Info("global connection opened", zap.String("student_id", studentID), zap.Int("global_connections", count))

	h.wg.Add(1)
	go h.serve(conn,
		func(data []byte) bool { return h.handleGlobalFrame(conn, data) },
		func() { h.registry.LeaveGlobal(conn) },
	)
}

// serve runs the read loop and heartbeat of one connection. handle returns
// false to end the connection; release runs before the socket is closed.
func (h *Handler) serve(conn *Connection, handle func([]byte) bool, release func()) {
	defer h.wg.Done()
	defer func() {
		release()
		_ = conn.Close()
	}()

	ws := conn.conn
	ws.SetReadLimit(h.config.MaxMessageSize)
	if err := ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})
	go h.pingLoop(conn)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket closed unexpectedly",
					zap.String("student_id", conn.StudentID()), zap.Error(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
		if messageType != websocket.TextMessage {
			continue
		}

		if !h.limiter.Allow(conn.RoomKey() + "/" + conn.StudentID()) {
			_ = conn.WriteJSON(newErrorFrame("rate_limited", ErrRateLimited))
			continue
		}
		if !handle(data) {
			return
		}
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.config.WriteTimeout)
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}

// handleSessionFrame routes one inbound frame from a session room member.
func (h *Handler) handleSessionFrame(conn *Connection, data []byte) bool {
	if strings.TrimSpace(string(data)) == "ping" {
		_ = conn.WriteText("pong")
		return true
	}

	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		_ = conn.WriteJSON(newErrorFrame("invalid_json", ErrInvalidJSON))
		return true
	}

	roomKey, studentID := conn.RoomKey(), conn.StudentID()
	switch frame.Type {
	case FramePing:
		_ = conn.WriteJSON(pongFrame{Type: "pong", Timestamp: h.now().UTC()})

	case FrameAnswer:
		if h.answers == nil {
			_ = conn.WriteJSON(newErrorFrame("unsupported", ErrUnknownFrame))
			return true
		}
		result, err := h.answers.SubmitAnswer(conn.ctx, types.Answer{
			StudentID:      studentID,
			SessionKey:     roomKey,
			QuestionID:     frame.QuestionID,
			Answer:         frame.Answer,
			ResponseTime:   frame.ResponseTime,
			RTTMs:          frame.RTTMs,
			NetworkQuality: frame.NetworkQuality,
		})
		if err != nil {
			_ = conn.WriteJSON(newErrorFrame("answer_rejected", err))
			return true
		}
		_ = conn.WriteJSON(answerResultFrame{Type: "answer_result", AnswerResult: result})

	case FrameNetwork:
		if h.network != nil {
			h.network.UpdateNetwork(studentID, frame.RTTMs, frame.NetworkQuality)
		}

	case FrameLeave:
		h.registry.Leave(roomKey, studentID)
		_ = conn.WriteJSON(sessionLeftFrame{
			Type:      "session_left",
			SessionID: roomKey,
			StudentID: studentID,
			Timestamp: h.now().UTC(),
		})
		return false

	default:
		_ = conn.WriteJSON(newErrorFrame("unknown_frame", ErrUnknownFrame))
	}
	return true
}

// handleGlobalFrame only answers heartbeats; the global room is receive-only.
func (h *Handler) handleGlobalFrame(conn *Connection, data []byte) bool {
	if strings.TrimSpace(string(data)) == "ping" {
		_ = conn.WriteText("pong")
		return true
	}
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err == nil && frame.Type == FramePing {
		_ = conn.WriteJSON(pongFrame{Type: "pong", Timestamp: h.now().UTC()})
		return true
	}
	_ = conn.WriteJSON(newErrorFrame("unknown_frame", ErrUnknownFrame))
	return true
}
