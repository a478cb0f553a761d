package cdp

import (
	"errors"
	"strings"
	"time"
)

// Config controls how the adapter reaches the shared browser process.
type Config struct {
	// ControlURL is the DevTools websocket (ws://host:9222/devtools/browser/...)
	// or the HTTP debugging address of the browser.
	ControlURL        string
	ConnectTimeout    time.Duration
	OperationTimeout  time.Duration
	ExistsTimeout     time.Duration
	ScreencastQuality int
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		ControlURL:        "ws://127.0.0.1:9222",
		ConnectTimeout:    10 * time.Second,
		OperationTimeout:  30 * time.Second,
		ExistsTimeout:     500 * time.Millisecond,
		ScreencastQuality: 80,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(c.ControlURL) != "" {
		defaults.ControlURL = strings.TrimSpace(c.ControlURL)
	}
	if c.ConnectTimeout != 0 {
		defaults.ConnectTimeout = c.ConnectTimeout
	}
	if c.OperationTimeout != 0 {
		defaults.OperationTimeout = c.OperationTimeout
	}
	if c.ExistsTimeout != 0 {
		defaults.ExistsTimeout = c.ExistsTimeout
	}
	if c.ScreencastQuality != 0 {
		defaults.ScreencastQuality = c.ScreencastQuality
	}
	return defaults
}

// Validate checks whether the config is usable.
func (c Config) Validate() error {
	url := strings.TrimSpace(c.ControlURL)
	if url == "" {
		return errors.New("control_url is required")
	}
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") &&
		!strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return errors.New("control_url must be a ws(s):// or http(s):// address")
	}
	if c.ConnectTimeout < 0 {
		return errors.New("connect_timeout must be zero or positive")
	}
	if c.OperationTimeout < 0 {
		return errors.New("operation_timeout must be zero or positive")
	}
	if c.ScreencastQuality < 0 || c.ScreencastQuality > 100 {
		return errors.New("screencast_quality must be between 0 and 100")
	}
	return nil
}
