package rooms

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classpulse/pkg/types"
)

type fakeTransport struct {
	name   string
	closed atomic.Int32
}

func (f *fakeTransport) WriteJSON(v interface{}) error { return nil }

func (f *fakeTransport) Close() error {
	f.closed.Add(1)
	return nil
}

func newFake(name string) *fakeTransport { return &fakeTransport{name: name} }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry() (*Registry, *clock) {
	c := &clock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	return NewRegistry(WithClock(c.Now)), c
}

// Functional Validation Tests
func TestRegistry_JoinValidation(t *testing.T) {
	r, _ := newTestRegistry()

	tests := []struct {
		name    string
		room    string
		student string
		tr      *fakeTransport
		wantErr error
	}{
		{"empty room", "", "s1", newFake("a"), types.ErrInvalidRoomKey},
		{"room with slash", "a/b", "s1", newFake("a"), types.ErrInvalidRoomKey},
		{"empty student", "room", "", newFake("a"), types.ErrInvalidStudentID},
		{"nil transport", "room", "s1", nil, ErrNilTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.tr == nil {
				_, err = r.Join(tt.room, tt.student, nil, JoinOptions{})
			} else {
				_, err = r.Join(tt.room, tt.student, tt.tr, JoinOptions{})
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
	assert.Empty(t, r.Stats().Rooms)
}

func TestRegistry_JoinIsIdempotentPerStudent(t *testing.T) {
	r, _ := newTestRegistry()
	first := newFake("first")
	second := newFake("second")

	res, err := r.Join("room-1", "s1", first, JoinOptions{DisplayName: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ParticipantCount)
	assert.False(t, res.Rejoined)

	res, err = r.Join("room-1", "s1", second, JoinOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ParticipantCount)
	assert.True(t, res.Rejoined)

	assert.Equal(t, int32(1), first.closed.Load(), "replaced transport is closed")
	assert.Equal(t, int32(0), second.closed.Load())

	p, ok := r.Participant("room-1", "s1")
	require.True(t, ok)
	assert.Equal(t, "Ada", p.DisplayName, "display name survives a rejoin without one")
	assert.Same(t, second, p.Transport.(*fakeTransport))
}

func TestRegistry_RejoinSameTransportDoesNotClose(t *testing.T) {
	r, _ := newTestRegistry()
	tr := newFake("a")
	_, err := r.Join("room", "s1", tr, JoinOptions{})
	require.NoError(t, err)
	_, err = r.Join("room", "s1", tr, JoinOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(0), tr.closed.Load())
}

func TestRegistry_LeaveKeepsEntry(t *testing.T) {
	r, c := newTestRegistry()
	tr := newFake("a")
	_, err := r.Join("room", "s1", tr, JoinOptions{})
	require.NoError(t, err)

	c.Advance(time.Minute)
	assert.True(t, r.Leave("room", "s1"))
	assert.False(t, r.Leave("room", "ghost"))
	assert.False(t, r.Leave("missing-room", "s1"))

	assert.Empty(t, r.ListJoined("room"))
	view := r.Lookup("room")
	assert.True(t, view.Exists)
	assert.Equal(t, 0, view.JoinedCount)
	assert.Equal(t, 1, view.LeftCount)
	require.Len(t, view.Participants, 1)
	require.NotNil(t, view.Participants[0].LeftAt)
	assert.Equal(t, c.Now(), *view.Participants[0].LeftAt)
	assert.Equal(t, int32(0), tr.closed.Load(), "leave does not close the transport")

	// leaving twice is harmless
	assert.True(t, r.Leave("room", "s1"))
}

func TestRegistry_LookupMissingRoom(t *testing.T) {
	r, _ := newTestRegistry()
	view := r.Lookup("nope")
	assert.False(t, view.Exists)
	assert.Nil(t, r.ListJoined("nope"))
}

func TestRegistry_RejoinAfterLeave(t *testing.T) {
	r, _ := newTestRegistry()
	_, err := r.Join("room", "s1", newFake("a"), JoinOptions{})
	require.NoError(t, err)
	r.Leave("room", "s1")

	res, err := r.Join("room", "s1", newFake("b"), JoinOptions{})
	require.NoError(t, err)
	assert.True(t, res.Rejoined)
	assert.Equal(t, 1, res.ParticipantCount)

	p, _ := r.Participant("room", "s1")
	assert.Equal(t, types.StatusJoined, p.Status)
	assert.Nil(t, p.LeftAt)
}

func TestRegistry_PruneIgnoresNewerTransport(t *testing.T) {
	r, _ := newTestRegistry()
	stale := newFake("stale")
	fresh := newFake("fresh")

	_, err := r.Join("room", "s1", stale, JoinOptions{})
	require.NoError(t, err)
	_, err = r.Join("room", "s1", fresh, JoinOptions{})
	require.NoError(t, err)

	assert.False(t, r.Prune("room", "s1", stale))
	p, _ := r.Participant("room", "s1")
	assert.Equal(t, types.StatusJoined, p.Status)

	assert.True(t, r.Prune("room", "s1", fresh))
	assert.Equal(t, int32(1), fresh.closed.Load())
	p, _ = r.Participant("room", "s1")
	assert.Equal(t, types.StatusLeft, p.Status)
	assert.Nil(t, p.Transport)

	assert.False(t, r.Prune("room", "s1", fresh), "second prune is a no-op")
}

func TestRegistry_ListJoinedSorted(t *testing.T) {
	r, _ := newTestRegistry()
	for _, id := range []string{"s3", "s1", "s2"} {
		_, err := r.Join("room", id, newFake(id), JoinOptions{})
		require.NoError(t, err)
	}
	r.Leave("room", "s2")

	joined := r.ListJoined("room")
	require.Len(t, joined, 2)
	assert.Equal(t, "s1", joined[0].StudentID)
	assert.Equal(t, "s3", joined[1].StudentID)
}

func TestRegistry_EvictLeftDropsEmptyRooms(t *testing.T) {
	r, c := newTestRegistry()
	_, err := r.Join("a", "s1", newFake("1"), JoinOptions{})
	require.NoError(t, err)
	_, err = r.Join("b", "s2", newFake("2"), JoinOptions{})
	require.NoError(t, err)
	_, err = r.Join("b", "s3", newFake("3"), JoinOptions{})
	require.NoError(t, err)

	r.Leave("a", "s1")
	r.Leave("b", "s2")
	c.Advance(10 * time.Minute)

	assert.Equal(t, 0, r.EvictLeft(c.Now().Add(-time.Hour)), "nothing old enough")
	assert.Equal(t, 2, r.EvictLeft(c.Now()))

	assert.False(t, r.Lookup("a").Exists)
	view := r.Lookup("b")
	assert.True(t, view.Exists)
	assert.Equal(t, 1, view.JoinedCount)
	assert.Equal(t, 0, view.LeftCount)

	// the room can be recreated after eviction
	res, err := r.Join("a", "s1", newFake("1b"), JoinOptions{})
	require.NoError(t, err)
	assert.False(t, res.Rejoined)
	assert.True(t, r.Lookup("a").Exists)
}

func TestRegistry_GlobalRoom(t *testing.T) {
	r, _ := newTestRegistry()
	a, b := newFake("a"), newFake("b")

	n, err := r.JoinGlobal(a)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = r.JoinGlobal(b)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = r.JoinGlobal(nil)
	assert.ErrorIs(t, err, ErrNilTransport)

	assert.Len(t, r.GlobalTransports(), 2)
	assert.True(t, r.PruneGlobal(a))
	assert.Equal(t, int32(1), a.closed.Load())
	assert.False(t, r.LeaveGlobal(a))
	assert.True(t, r.LeaveGlobal(b))
	assert.Equal(t, int32(0), b.closed.Load())
	assert.Equal(t, 0, r.Stats().GlobalCount)
}

func TestRegistry_Stats(t *testing.T) {
	r, _ := newTestRegistry()
	_, _ = r.Join("b", "s1", newFake("1"), JoinOptions{})
	_, _ = r.Join("a", "s2", newFake("2"), JoinOptions{})
	_, _ = r.Join("a", "s3", newFake("3"), JoinOptions{})
	r.Leave("a", "s3")
	_, _ = r.JoinGlobal(newFake("g"))

	stats := r.Stats()
	assert.Equal(t, 1, stats.GlobalCount)
	require.Len(t, stats.Rooms, 2)
	assert.Equal(t, RoomStats{Key: "a", JoinedCount: 1, LeftCount: 1}, stats.Rooms[0])
	assert.Equal(t, RoomStats{Key: "b", JoinedCount: 1}, stats.Rooms[1])
}

func TestRegistry_CloseClosesEverything(t *testing.T) {
	r, _ := newTestRegistry()
	a, g := newFake("a"), newFake("g")
	_, _ = r.Join("room", "s1", a, JoinOptions{})
	_, _ = r.JoinGlobal(g)

	r.Close()
	assert.Equal(t, int32(1), a.closed.Load())
	assert.Equal(t, int32(1), g.closed.Load())
	assert.Empty(t, r.ListJoined("room"))
}

// Technical Validation Tests
func TestRegistry_ConcurrentJoinsAcrossRooms(t *testing.T) {
	r, _ := newTestRegistry()
	const rooms, students = 8, 25

	var wg sync.WaitGroup
	for i := 0; i < rooms; i++ {
		for j := 0; j < students; j++ {
			wg.Add(1)
			go func(i, j int) {
				defer wg.Done()
				key := fmt.Sprintf("room-%d", i)
				id := fmt.Sprintf("s-%d", j)
				_, err := r.Join(key, id, newFake(id), JoinOptions{})
				assert.NoError(t, err)
				if j%5 == 0 {
					r.Leave(key, id)
				}
			}(i, j)
		}
	}
	wg.Wait()

	for i := 0; i < rooms; i++ {
		view := r.Lookup(fmt.Sprintf("room-%d", i))
		assert.Equal(t, students, view.JoinedCount+view.LeftCount)
		assert.Equal(t, students/5, view.LeftCount)
	}
}

func TestRegistry_ConcurrentJoinAndEvict(t *testing.T) {
	r, c := newTestRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s-%d", i)
			_, _ = r.Join("shared", id, newFake(id), JoinOptions{})
			r.Leave("shared", id)
		}(i)
		go func() {
			defer wg.Done()
			r.EvictLeft(c.Now().Add(time.Hour))
		}()
	}
	wg.Wait()

	_, err := r.Join("shared", "late", newFake("late"), JoinOptions{})
	require.NoError(t, err)
	assert.Len(t, r.ListJoined("shared"), 1)
}
