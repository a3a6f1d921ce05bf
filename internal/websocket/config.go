package websocket

import (
	"errors"
	"time"
)

// Config holds connection timing and sizing.
type Config struct {
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	ReadBufferSize   int
	WriteBufferSize  int
	MaxMessageSize   int64
	SendBuffer       int
	// RateLimit is the number of inbound frames a student may send per RateWindow.
	RateLimit  int
	RateWindow time.Duration
}

// DefaultConfig pings every 30s and drops clients silent for 60s.
func DefaultConfig() Config {
	return Config{
		PingInterval:     30 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		MaxMessageSize:   64 * 1024,
		SendBuffer:       100,
		RateLimit:        100,
		RateWindow:       time.Minute,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	switch {
	case c.PingInterval <= 0:
		return errors.New("ping interval must be greater than 0")
	case c.ReadTimeout <= c.PingInterval:
		return errors.New("read timeout must be longer than the ping interval")
	case c.WriteTimeout <= 0:
		return errors.New("write timeout must be greater than 0")
	case c.HandshakeTimeout <= 0:
		return errors.New("handshake timeout must be greater than 0")
	case c.ReadBufferSize <= 0 || c.WriteBufferSize <= 0:
		return errors.New("buffer sizes must be greater than 0")
	case c.MaxMessageSize <= 0:
		return errors.New("max message size must be greater than 0")
	case c.SendBuffer <= 0:
		return errors.New("send buffer must be greater than 0")
	case c.RateLimit <= 0 || c.RateWindow <= 0:
		return errors.New("rate limit and window must be greater than 0")
	}
	return nil
}
