package rooms

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrJanitorAlreadyRunning = errors.New("janitor is already running")
	ErrJanitorNotRunning     = errors.New("janitor is not running")
)

// Sweep is an extra cleanup run on every janitor pass. It returns how many
// entries it removed.
type Sweep struct {
	Name string
	Run  func() int
}

// Janitor periodically evicts Left participants older than the retention
// window and runs any registered sweeps.
// ARCHITECTURAL DISCOVERY: Left entries stay visible for diagnostics after
// a disconnect, so without eviction rooms of past sessions live forever
type Janitor struct {
	registry  *Registry
	retention time.Duration
	interval  time.Duration
	sweeps    []Sweep
	logger    *zap.Logger

	running  bool
	shutdown chan struct{}
	done     chan struct{}
	mu       sync.Mutex
}

// NewJanitor creates a stopped janitor.
func NewJanitor(registry *Registry, retention, interval time.Duration, logger *zap.Logger, sweeps ...Sweep) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Janitor{
		registry:  registry,
		retention: retention,
		interval:  interval,
		sweeps:    sweeps,
		logger:    logger,
	}
}

// Start launches the sweep goroutine.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return ErrJanitorAlreadyRunning
	}
	j.running = true
	j.shutdown = make(chan struct{})
	j.done = make(chan struct{})
	go j.run(ctx, j.shutdown, j.done)
	return nil
}

// Stop halts the goroutine and waits for an in-flight pass to finish.
func (j *Janitor) Stop() error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return ErrJanitorNotRunning
	}
	j.running = false
	close(j.shutdown)
	done := j.done
	j.mu.Unlock()

	<-done
	return nil
}

func (j *Janitor) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			j.Sweep()
		case <-shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs one pass immediately and returns the number of evicted
// participants.
func (j *Janitor) Sweep() int {
	evicted := j.registry.EvictLeft(j.registry.now().Add(-j.retention))
	for _, s := range j.sweeps {
		if n := s.Run(); n > 0 {
			j.logger.Debug("janitor sweep", zap.String("sweep", s.Name), zap.Int("removed", n))
		}
	}
	return evicted
}
