package browser

import (
	"strings"
	"time"
)

// Viewport defines the browser viewport size.
type Viewport struct {
	Width             int     `json:"width" yaml:"width"`
	Height            int     `json:"height" yaml:"height"`
	DeviceScaleFactor float64 `json:"device_scale_factor,omitempty" yaml:"device_scale_factor,omitempty"`
}

// FrameFormat identifies the image format for a frame payload.
type FrameFormat string

const (
	FrameFormatPNG  FrameFormat = "png"
	FrameFormatJPEG FrameFormat = "jpeg"
)

// Frame is a single visual frame from the browser.
type Frame struct {
	Seq       int         `json:"seq"`
	Width     int         `json:"width"`
	Height    int         `json:"height"`
	Format    FrameFormat `json:"format"`
	Data      []byte      `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// StreamOptions configures a screencast subscription.
type StreamOptions struct {
	Format     FrameFormat
	Quality    int
	EveryNth   int
	BufferSize int
}

// Key names a non-printable key understood by Press. Printable single
// characters are passed through as-is.
type Key string

const (
	KeyEnter      Key = "Enter"
	KeyEscape     Key = "Escape"
	KeyTab        Key = "Tab"
	KeyBackspace  Key = "Backspace"
	KeyDelete     Key = "Delete"
	KeyArrowDown  Key = "ArrowDown"
	KeyArrowUp    Key = "ArrowUp"
	KeyArrowLeft  Key = "ArrowLeft"
	KeyArrowRight Key = "ArrowRight"
	KeyHome       Key = "Home"
	KeyEnd        Key = "End"
	KeyPageUp     Key = "PageUp"
	KeyPageDown   Key = "PageDown"
	KeyF1         Key = "F1"
	KeyF2         Key = "F2"
	KeyF3         Key = "F3"
	KeyF4         Key = "F4"
	KeyF5         Key = "F5"
	KeyF6         Key = "F6"
	KeyF7         Key = "F7"
	KeyF8         Key = "F8"
	KeyF9         Key = "F9"
	KeyF10        Key = "F10"
	KeyF11        Key = "F11"
	KeyF12        Key = "F12"
)

// ParseKey normalizes a key name. Named keys are matched case-insensitively
// so "escape" and "Escape" are the same key.
func ParseKey(raw string) Key {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Key(raw)
	}
	for _, k := range namedKeys {
		if strings.EqualFold(string(k), trimmed) {
			return k
		}
	}
	return Key(raw)
}

// Named reports whether k is one of the named keys.
func (k Key) Named() bool {
	for _, named := range namedKeys {
		if k == named {
			return true
		}
	}
	return false
}

var namedKeys = []Key{
	KeyEnter, KeyEscape, KeyTab, KeyBackspace, KeyDelete,
	KeyArrowDown, KeyArrowUp, KeyArrowLeft, KeyArrowRight,
	KeyHome, KeyEnd, KeyPageUp, KeyPageDown,
	KeyF1, KeyF2, KeyF3, KeyF4, KeyF5, KeyF6, KeyF7, KeyF8, KeyF9, KeyF10, KeyF11, KeyF12,
}

// SessionConfig configures a new browser session.
type SessionConfig struct {
	SessionID        string
	InitialURL       string
	Viewport         Viewport
	OperationTimeout time.Duration
}

// DefaultSessionConfig returns a baseline session config.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Viewport: Viewport{
			Width:  1920,
			Height: 1000,
		},
		OperationTimeout: 30 * time.Second,
	}
}
