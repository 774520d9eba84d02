package config

import "time"

// Modes of operation.
const (
	ModeMock = "mock"
	ModeLive = "live"
)

// Default values for optional configuration fields.
const (
	DefaultMode           = ModeMock
	DefaultStoreDir       = "data"
	DefaultUpdateInterval = 1 * time.Second
	DefaultBufferSize     = 1024
	DefaultPingInterval   = 15 * time.Second
	DefaultWriteTimeout   = 5 * time.Second
	DefaultHTTPPort       = 8000
)

func (c *ServerConfig) applyDefaults() {
	if c.Mode == "" {
		c.Mode = DefaultMode
	}
	if c.Store.Dir == "" {
		c.Store.Dir = DefaultStoreDir
	}
	if c.Stream.UpdateInterval == 0 {
		c.Stream.UpdateInterval = DefaultUpdateInterval
	}
	if c.Stream.BufferSize == 0 {
		c.Stream.BufferSize = DefaultBufferSize
	}
	if c.Feed.PingInterval == 0 {
		c.Feed.PingInterval = DefaultPingInterval
	}
	if c.Feed.WriteTimeout == 0 {
		c.Feed.WriteTimeout = DefaultWriteTimeout
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}
}
