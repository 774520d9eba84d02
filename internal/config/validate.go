package config

import (
	"errors"
	"fmt"
	"time"
)

// Validate checks that all required fields are set and values are valid.
func (c *ServerConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Mode != ModeMock && c.Mode != ModeLive {
		return fmt.Errorf("mode must be %q or %q, got %q", ModeMock, ModeLive, c.Mode)
	}

	if c.Store.Dir == "" {
		return errors.New("store.dir is required")
	}

	if c.Stream.UpdateInterval < 100*time.Millisecond {
		return fmt.Errorf("stream.update_interval must be >= 100ms, got %s", c.Stream.UpdateInterval)
	}
	if c.Stream.BufferSize < 1 {
		return errors.New("stream.buffer_size must be >= 1")
	}
	for _, s := range c.Stream.Symbols {
		if s == "" {
			return errors.New("stream.symbols must not contain empty entries")
		}
	}

	if c.Mode == ModeLive {
		if c.Feed.URL == "" {
			return errors.New("feed.url is required in live mode")
		}
		if c.Feed.AccessToken == "" {
			return errors.New("feed.access_token is required in live mode")
		}
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	return nil
}
