package rooms

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJanitor_SweepHonoursRetention(t *testing.T) {
	r, c := newTestRegistry()
	_, err := r.Join("a", "s1", newFake("1"), JoinOptions{})
	require.NoError(t, err)
	_, err = r.Join("a", "s2", newFake("2"), JoinOptions{})
	require.NoError(t, err)
	r.Leave("a", "s1")

	var extra atomic.Int32
	j := NewJanitor(r, time.Hour, time.Minute, nil, Sweep{
		Name: "counter",
		Run:  func() int { extra.Add(1); return 0 },
	})

	c.Advance(30 * time.Minute)
	assert.Equal(t, 0, j.Sweep(), "inside the retention window")

	c.Advance(31 * time.Minute)
	assert.Equal(t, 1, j.Sweep())
	assert.Equal(t, int32(2), extra.Load(), "extra sweeps run on every pass")

	view := r.Lookup("a")
	assert.Equal(t, 1, view.JoinedCount)
	assert.Equal(t, 0, view.LeftCount)
}

func TestJanitor_StartStop(t *testing.T) {
	r, _ := newTestRegistry()
	var passes atomic.Int32
	j := NewJanitor(r, time.Hour, 10*time.Millisecond, nil, Sweep{
		Name: "passes",
		Run:  func() int { passes.Add(1); return 0 },
	})

	require.NoError(t, j.Start(context.Background()))
	assert.ErrorIs(t, j.Start(context.Background()), ErrJanitorAlreadyRunning)

	assert.Eventually(t, func() bool { return passes.Load() >= 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, j.Stop())
	assert.ErrorIs(t, j.Stop(), ErrJanitorNotRunning)

	stopped := passes.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, passes.Load(), "no passes after Stop")

	// restartable
	require.NoError(t, j.Start(context.Background()))
	require.NoError(t, j.Stop())
}

func TestJanitor_ContextCancelEndsLoop(t *testing.T) {
	r, _ := newTestRegistry()
	j := NewJanitor(r, time.Hour, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, j.Start(ctx))
	cancel()

	done := make(chan struct{})
	go func() {
		_ = j.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked after context cancel")
	}
}
