package config

import "time"

// ServerConfig is the top-level configuration for the feed server.
type ServerConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Mode     string         `yaml:"mode"` // "mock" or "live"
	Store    StoreConfig    `yaml:"store"`
	Stream   StreamConfig   `yaml:"stream"`
	Feed     FeedConfig     `yaml:"feed"`
	HTTP     HTTPConfig     `yaml:"http"`
}

// InstanceConfig identifies this server instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	Dir string `yaml:"dir"` // Data directory holding the sqlite database
}

// StreamConfig holds mock streaming engine settings.
type StreamConfig struct {
	UpdateInterval time.Duration `yaml:"update_interval"`
	BufferSize     int           `yaml:"buffer_size"` // Ingest pipeline buffer
	Symbols        []string      `yaml:"symbols"`     // Initial watchlist
}

// FeedConfig holds live-mode streamer settings. Unused in mock mode.
type FeedConfig struct {
	URL          string        `yaml:"url"`
	AccessToken  string        `yaml:"access_token"`
	PingInterval time.Duration `yaml:"ping_interval"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// HTTPConfig holds the HTTP/WebSocket gateway settings.
type HTTPConfig struct {
	Port int `yaml:"port"`
}
