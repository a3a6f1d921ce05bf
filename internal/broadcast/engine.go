package broadcast

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"classpulse/internal/rooms"
	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

// Outcome classifies a delivery attempt.
type Outcome string

const (
	OutcomeNoRoom         Outcome = "no_room"
	OutcomeNoParticipants Outcome = "no_participants"
	OutcomeAllFailed      Outcome = "all_failed"
	OutcomePartial        Outcome = "partial"
	OutcomeSent           Outcome = "sent"
)

// Report summarises one broadcast.
type Report struct {
	Outcome    Outcome  `json:"outcome"`
	Sent       int      `json:"sent"`
	Failed     int      `json:"failed"`
	Recipients []string `json:"recipients,omitempty"`
}

// Classify derives the outcome of a fan-out from its counts.
func Classify(roomExists bool, attempted, sent int) Outcome {
	switch {
	case !roomExists:
		return OutcomeNoRoom
	case attempted == 0:
		return OutcomeNoParticipants
	case sent == 0:
		return OutcomeAllFailed
	case sent < attempted:
		return OutcomePartial
	default:
		return OutcomeSent
	}
}

// Engine delivers messages to rooms tracked by a rooms.Registry.
// ARCHITECTURAL DISCOVERY: every write goes through deliver, which applies
// one rule: a failed write means the transport is gone and its entry is pruned
type Engine struct {
	registry *rooms.Registry
	logger   *zap.Logger
}

// NewEngine creates an engine over registry.
func NewEngine(registry *rooms.Registry, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{registry: registry, logger: logger}
}

// Registry returns the registry the engine delivers through.
func (e *Engine) Registry() *rooms.Registry {
	return e.registry
}

// target is a single recipient. roomKey is empty for the global room.
type target struct {
	roomKey   string
	studentID string
	transport interfaces.Transport
}

func (e *Engine) deliver(ctx context.Context, t target, message interface{}) bool {
	if ctx.Err() != nil {
		return false
	}
	err := t.transport.WriteJSON(message)
	if err == nil {
		return true
	}

	if t.roomKey == "" {
		e.registry.PruneGlobal(t.transport)
		e.logger.Warn("global delivery failed", zap.Error(err))
		return false
	}
	e.registry.Prune(t.roomKey, t.studentID, t.transport)
	e.logger.Warn("delivery failed",
		zap.String("room_key", t.roomKey),
		zap.String("student_id", t.studentID),
		zap.Error(err))
	return false
}

// fanOut writes message to every target concurrently and returns the IDs of
// the students that received it, in target order.
func (e *Engine) fanOut(ctx context.Context, targets []target, message interface{}) (sent int, recipients []string) {
	ok := make([]bool, len(targets))
	var wg sync.WaitGroup
	for i := range targets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok[i] = e.deliver(ctx, targets[i], message)
		}(i)
	}
	wg.Wait()

	for i, delivered := range ok {
		if !delivered {
			continue
		}
		sent++
		if targets[i].studentID != "" {
			recipients = append(recipients, targets[i].studentID)
		}
	}
	return sent, recipients
}

// BroadcastRoom sends message to every Joined participant of roomKey.
func (e *Engine) BroadcastRoom(ctx context.Context, roomKey string, message interface{}) Report {
	view := e.registry.Lookup(roomKey)
	if !view.Exists {
		return Report{Outcome: OutcomeNoRoom}
	}

	joined := e.registry.ListJoined(roomKey)
	targets := make([]target, 0, len(joined))
	for _, p := range joined {
		if p.Transport == nil {
			continue
		}
		targets = append(targets, target{roomKey: roomKey, studentID: p.StudentID, transport: p.Transport})
	}

	sent, recipients := e.fanOut(ctx, targets, message)
	report := Report{
		Outcome:    Classify(true, len(targets), sent),
		Sent:       sent,
		Failed:     len(targets) - sent,
		Recipients: recipients,
	}
	e.logger.Debug("room broadcast",
		zap.String("room_key", roomKey),
		zap.String("outcome", string(report.Outcome)),
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed))
	return report
}

// SendToOne delivers message to a single Joined participant.
func (e *Engine) SendToOne(ctx context.Context, roomKey, studentID string, message interface{}) (bool, Report) {
	p, exists := e.registry.Participant(roomKey, studentID)
	if !exists {
		if !e.registry.Lookup(roomKey).Exists {
			return false, Report{Outcome: OutcomeNoRoom}
		}
		return false, Report{Outcome: OutcomeNoParticipants}
	}
	if p.Status != types.StatusJoined || p.Transport == nil {
		return false, Report{Outcome: OutcomeNoParticipants}
	}

	if !e.deliver(ctx, target{roomKey: roomKey, studentID: studentID, transport: p.Transport}, message) {
		return false, Report{Outcome: OutcomeAllFailed, Failed: 1}
	}
	return true, Report{Outcome: OutcomeSent, Sent: 1, Recipients: []string{studentID}}
}

// BroadcastGlobal sends message to every transport in the global room.
func (e *Engine) BroadcastGlobal(ctx context.Context, message interface{}) Report {
	transports := e.registry.GlobalTransports()
	targets := make([]target, 0, len(transports))
	for _, t := range transports {
		targets = append(targets, target{transport: t})
	}

	sent, _ := e.fanOut(ctx, targets, message)
	report := Report{
		Outcome: Classify(true, len(targets), sent),
		Sent:    sent,
		Failed:  len(targets) - sent,
	}
	e.logger.Debug("global broadcast", zap.Int("sent", report.Sent), zap.Int("failed", report.Failed))
	return report
}
