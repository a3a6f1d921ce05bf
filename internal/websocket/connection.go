package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Connection is one student's websocket, usable as an interfaces.Transport.
// ARCHITECTURAL DISCOVERY: gorilla connections allow one concurrent writer,
// so all data frames go through a single writer goroutine fed by a FIFO
// channel; that also gives per-student delivery order
type Connection struct {
	conn         *websocket.Conn
	writeCh      chan []byte
	writeTimeout time.Duration

	studentID string
	roomKey   string

	ctx    context.Context
	cancel context.CancelFunc

	// mu orders enqueues against Close: once closed is set nothing more
	// enters writeCh, so the writer can drain it completely
	mu         sync.RWMutex
	closed     bool
	closing    chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
	closeErr   error
}

// NewConnection wraps conn and starts its writer goroutine.
func NewConnection(conn *websocket.Conn, cfg Config) *Connection {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 100
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		writeCh:      make(chan []byte, cfg.SendBuffer),
		writeTimeout: cfg.WriteTimeout,
		ctx:          ctx,
		cancel:       cancel,
		closing:      make(chan struct{}),
		writerDone:   make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// bind records who the connection belongs to, for logging.
func (c *Connection) bind(roomKey, studentID string) {
	c.roomKey = roomKey
	c.studentID = studentID
}

func (c *Connection) writeLoop() {
	failed := false
	defer func() {
		close(c.writerDone)
		if failed {
			// a failed socket write ends the connection; the read loop
			// sees the close and takes the participant out of its room
			_ = c.Close()
		}
	}()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.write(data); err != nil {
				failed = true
				return
			}
		case <-c.closing:
			c.drain()
			return
		}
	}
}

func (c *Connection) write(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// drain flushes frames queued before Close, then says goodbye with a
// normal close frame.
func (c *Connection) drain() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.write(data); err != nil {
				return
			}
		default:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
			return
		}
	}
}

// WriteJSON queues v for delivery. It fails if the connection is closed or
// the queue stays full for the write timeout.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}
	return c.enqueue(data)
}

// WriteText queues a raw text frame.
func (c *Connection) WriteText(text string) error {
	return c.enqueue([]byte(text))
}

func (c *Connection) enqueue(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed || c.ctx.Err() != nil {
		return ErrConnectionClosed
	}

	timer := time.NewTimer(c.writeTimeout)
	defer timer.Stop()
	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close rejects further writes, gives the writer up to the write timeout to
// flush what is already queued, then closes the socket. Repeated calls are
// no-ops.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		// wakes enqueuers blocked on a full queue
		c.cancel()
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		if c.closing != nil {
			close(c.closing)
		}
		if c.writerDone != nil {
			timer := time.NewTimer(c.writeTimeout)
			select {
			case <-c.writerDone:
			case <-timer.C:
			}
			timer.Stop()
		}
		if c.conn != nil {
			c.closeErr = c.conn.Close()
		}
	})
	return c.closeErr
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Connection) StudentID() string { return c.studentID }

func (c *Connection) RoomKey() string { return c.roomKey }
