package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classpulse/pkg/interfaces"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func TestConnection_InterfaceCompliance(t *testing.T) {
	var _ interfaces.Transport = &Connection{}
}

// newConnectionPair returns a server-side Connection and the client socket
// talking to it.
func newConnectionPair(t *testing.T, cfg Config) (*Connection, *websocket.Conn) {
	t.Helper()
	serverSide := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverSide <- ws
	}))
	t.Cleanup(server.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case ws := <-serverSide:
		conn := NewConnection(ws, cfg)
		t.Cleanup(func() { _ = conn.Close() })
		return conn, client
	case <-time.After(2 * time.Second):
		t.Fatal("server side of the connection never arrived")
		return nil, nil
	}
}

func TestConnection_Defaults(t *testing.T) {
	conn, _ := newConnectionPair(t, Config{})
	assert.Equal(t, 100, cap(conn.writeCh))
	assert.Equal(t, 5*time.Second, conn.writeTimeout)
}

func TestConnection_WritesInOrder(t *testing.T) {
	conn, client := newConnectionPair(t, DefaultConfig())

	for i := 0; i < 20; i++ {
		require.NoError(t, conn.WriteJSON(map[string]int{"seq": i}))
	}

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	for i := 0; i < 20; i++ {
		var got map[string]int
		require.NoError(t, client.ReadJSON(&got))
		assert.Equal(t, i, got["seq"])
	}
}

func TestConnection_WriteText(t *testing.T) {
	conn, client := newConnectionPair(t, DefaultConfig())
	require.NoError(t, conn.WriteText("pong"))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "pong", string(data))
}

func TestConnection_ConcurrentWriters(t *testing.T) {
	conn, client := newConnectionPair(t, DefaultConfig())

	const writers, perWriter = 5, 10
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				assert.NoError(t, conn.WriteJSON(map[string]int{"writer": w, "seq": i}))
			}
		}(w)
	}
	wg.Wait()

	// per-writer order survives interleaving
	last := make(map[int]int)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	for i := 0; i < writers*perWriter; i++ {
		var got map[string]int
		require.NoError(t, client.ReadJSON(&got))
		if prev, seen := last[got["writer"]]; seen {
			assert.Greater(t, got["seq"], prev)
		}
		last[got["writer"]] = got["seq"]
	}
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	conn, _ := newConnectionPair(t, DefaultConfig())

	assert.NoError(t, conn.Close())
	assert.NotPanics(t, func() { _ = conn.Close() })

	select {
	case <-conn.Done():
	default:
		t.Fatal("Done should be closed after Close")
	}
	// every write after Close fails, even with room left in the queue
	for i := 0; i < 200; i++ {
		require.ErrorIs(t, conn.WriteJSON(map[string]string{"a": "b"}), ErrConnectionClosed)
		require.ErrorIs(t, conn.WriteText("x"), ErrConnectionClosed)
	}
}

func TestConnection_CloseFlushesQueuedFrames(t *testing.T) {
	conn, client := newConnectionPair(t, DefaultConfig())

	for i := 0; i < 5; i++ {
		require.NoError(t, conn.WriteJSON(map[string]int{"seq": i}))
	}
	require.NoError(t, conn.Close())

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	for i := 0; i < 5; i++ {
		var got map[string]int
		require.NoError(t, client.ReadJSON(&got))
		assert.Equal(t, i, got["seq"])
	}
	_, _, err := client.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestConnection_WriteRacingClose(t *testing.T) {
	for round := 0; round < 50; round++ {
		conn, _ := newConnectionPair(t, DefaultConfig())

		var wg sync.WaitGroup
		results := make(chan error, 100)
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 25; i++ {
					results <- conn.WriteText("tick")
				}
			}()
		}
		require.NoError(t, conn.Close())
		wg.Wait()
		close(results)

		for err := range results {
			if err != nil {
				assert.ErrorIs(t, err, ErrConnectionClosed)
			}
		}
		assert.ErrorIs(t, conn.WriteText("late"), ErrConnectionClosed)
	}
}

func TestConnection_WriteJSONRejectsUnmarshalable(t *testing.T) {
	conn, _ := newConnectionPair(t, DefaultConfig())
	assert.ErrorIs(t, conn.WriteJSON(make(chan int)), ErrInvalidJSON)
}

func TestConnection_FullQueueTimesOut(t *testing.T) {
	// no writer goroutine drains the queue
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn := &Connection{
		writeCh:      make(chan []byte, 1),
		writeTimeout: 50 * time.Millisecond,
		ctx:          ctx,
		cancel:       cancel,
	}

	require.NoError(t, conn.WriteText("one"))
	assert.ErrorIs(t, conn.WriteText("two"), ErrWriteTimeout)
}

func TestConnection_Bind(t *testing.T) {
	conn, _ := newConnectionPair(t, DefaultConfig())
	conn.bind("42", "s1")
	assert.Equal(t, "42", conn.RoomKey())
	assert.Equal(t, "s1", conn.StudentID())
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(3, time.Minute)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("s1"))
	}
	assert.False(t, rl.Allow("s1"))
	assert.True(t, rl.Allow("s2"), "limits are per key")

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("s1"), "a new window resets the count")

	now = now.Add(6 * time.Minute)
	assert.Equal(t, 2, rl.Cleanup())
	assert.Equal(t, 0, rl.Tracked())
}

func TestRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	assert.Equal(t, 100, rl.limit)
	assert.Equal(t, time.Minute, rl.window)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero ping", func(c *Config) { c.PingInterval = 0 }},
		{"read timeout not above ping", func(c *Config) { c.ReadTimeout = c.PingInterval }},
		{"zero write timeout", func(c *Config) { c.WriteTimeout = 0 }},
		{"zero handshake", func(c *Config) { c.HandshakeTimeout = 0 }},
		{"zero buffers", func(c *Config) { c.ReadBufferSize = 0 }},
		{"zero message size", func(c *Config) { c.MaxMessageSize = 0 }},
		{"zero send buffer", func(c *Config) { c.SendBuffer = 0 }},
		{"zero rate", func(c *Config) { c.RateLimit = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
