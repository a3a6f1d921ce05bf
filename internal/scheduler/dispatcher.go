package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sender pushes one fresh question to one student of a session.
// delivered is false when the student could not be reached.
type Sender interface {
	SendToStudent(ctx context.Context, sessionID, studentID string) (delivered bool, err error)
}

// Dispatcher polls the scheduler on a fixed tick and sends a question to
// every ready student.
// ARCHITECTURAL DISCOVERY: readiness is advisory, so a tick that races an
// answer may send one extra question; MarkQuestionSent only follows a
// confirmed delivery so unreachable students are retried next tick
type Dispatcher struct {
	scheduler *Scheduler
	sender    Sender
	interval  time.Duration
	logger    *zap.Logger

	running  bool
	shutdown chan struct{}
	done     chan struct{}
	mu       sync.Mutex
}

// NewDispatcher creates a stopped dispatcher.
func NewDispatcher(s *Scheduler, sender Sender, interval time.Duration, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Dispatcher{
		scheduler: s,
		sender:    sender,
		interval:  interval,
		logger:    logger,
	}
}

// Start launches the polling goroutine.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ErrDispatcherAlreadyRunning
	}
	d.running = true
	d.shutdown = make(chan struct{})
	d.done = make(chan struct{})

	d.logger.Info("starting adaptive dispatcher", zap.Duration("interval", d.interval))
	go d.run(ctx, d.shutdown, d.done)
	return nil
}

// Stop signals the loop and waits for the current tick to finish.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return ErrDispatcherNotRunning
	}
	d.running = false
	close(d.shutdown)
	done := d.done
	d.mu.Unlock()

	<-done
	d.logger.Info("adaptive dispatcher stopped")
	return nil
}

func (d *Dispatcher) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.Tick(ctx)
		case <-shutdown:
			return
		case <-ctx.Done():
			d.mu.Lock()
			d.running = false
			d.mu.Unlock()
			return
		}
	}
}

// Tick runs one polling pass over every active session and returns how many
// questions were delivered.
func (d *Dispatcher) Tick(ctx context.Context) int {
	sent := 0
	for _, sessionID := range d.scheduler.ActiveSessions() {
		for _, r := range d.scheduler.ReadyStudents(sessionID) {
			if ctx.Err() != nil {
				return sent
			}
			delivered, err := d.sender.SendToStudent(ctx, sessionID, r.StudentID)
			if err != nil {
				d.logger.Warn("adaptive send failed",
					zap.String("session_id", sessionID),
					zap.String("student_id", r.StudentID),
					zap.Error(err))
				continue
			}
			if !delivered {
				continue
			}
			d.scheduler.MarkQuestionSent(r.StudentID)
			sent++
		}
	}
	if sent > 0 {
		d.logger.Debug("adaptive tick", zap.Int("sent", sent))
	}
	return sent
}
