package feed

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrAlreadyClosed = errors.New("already closed")
)

// RawMessage wraps raw feed bytes with the local receive timestamp.
type RawMessage struct {
	Data       []byte    // Raw message bytes from the stream
	ReceivedAt time.Time // Local timestamp when the message arrived
}

// Request is a streamer command frame sent to the live feed. The shape
// follows the emulated brokerage streaming API's request convention.
type Request struct {
	RequestID string         `json:"requestid"`
	Service   string         `json:"service"`
	Command   string         `json:"command"`
	Params    map[string]any `json:"parameters,omitempty"`
}

// Commands understood by the live streamer.
const (
	CommandAdd    = "ADD"
	CommandRemove = "REMOVE"
	CommandLogout = "LOGOUT"
)

// ClientConfig configures the live feed client.
type ClientConfig struct {
	URL          string        // Streamer websocket endpoint
	AccessToken  string        // Bearer token for the handshake
	BufferSize   int           // Messages channel capacity (default: 1024)
	WriteTimeout time.Duration // Per-write deadline (default: 5s)
	PingInterval time.Duration // Keepalive cadence (default: 15s)
}

func (c *ClientConfig) applyDefaults() {
	if c.BufferSize < 1 {
		c.BufferSize = 1024
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 15 * time.Second
	}
}
