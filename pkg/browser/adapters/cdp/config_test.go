package cdp

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/chromedp/kb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/intest/pkg/browser"
)

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{ControlURL: " ws://browser:9222/devtools/browser/abc "}.withDefaults()

	assert.Equal(t, "ws://browser:9222/devtools/browser/abc", cfg.ControlURL)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.OperationTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.ExistsTimeout)
	assert.Equal(t, 80, cfg.ScreencastQuality)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "ws url", cfg: Config{ControlURL: "ws://localhost:9222"}},
		{name: "http url", cfg: Config{ControlURL: "http://localhost:9222"}},
		{name: "empty", cfg: Config{}, wantErr: "control_url is required"},
		{name: "bad scheme", cfg: Config{ControlURL: "localhost:9222"}, wantErr: "ws(s)://"},
		{name: "quality", cfg: Config{ControlURL: "ws://x", ScreencastQuality: 101}, wantErr: "screencast_quality"},
		{name: "negative timeout", cfg: Config{ControlURL: "ws://x", ConnectTimeout: -1}, wantErr: "connect_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewRuntimeRejectsInvalidConfig(t *testing.T) {
	_, err := NewRuntime(Config{ControlURL: "ftp://nope"})
	require.Error(t, err)
}

func TestNewSessionRequiresConnect(t *testing.T) {
	rt, err := NewRuntime(DefaultConfig())
	require.NoError(t, err)

	_, err = rt.NewSession(context.Background(), browser.SessionConfig{SessionID: "worker-1"})
	assert.ErrorIs(t, err, browser.ErrUnavailable)

	_, err = rt.NewSession(context.Background(), browser.SessionConfig{})
	assert.Error(t, err)

	require.NoError(t, rt.Close())
	_, err = rt.NewSession(context.Background(), browser.SessionConfig{SessionID: "worker-1"})
	assert.ErrorIs(t, err, browser.ErrSessionClosed)
}

func TestNormalizeSessionConfig(t *testing.T) {
	got := normalizeSessionConfig(browser.SessionConfig{
		SessionID: "w1",
		Viewport:  browser.Viewport{Width: 1280},
	}, 5*time.Second)

	assert.Equal(t, "w1", got.SessionID)
	assert.Equal(t, 1280, got.Viewport.Width)
	assert.Equal(t, 1000, got.Viewport.Height)
	assert.Equal(t, 5*time.Second, got.OperationTimeout)
}

func TestKeySequence(t *testing.T) {
	assert.Equal(t, kb.Enter, keySequence(browser.KeyEnter))
	assert.Equal(t, kb.Escape, keySequence("escape"))
	assert.Equal(t, kb.ArrowDown, keySequence("ArrowDown"))
	assert.Equal(t, kb.F5, keySequence("f5"))
	assert.Equal(t, "a", keySequence("a"))
}

func TestClosedSessionRejectsCalls(t *testing.T) {
	var s *Session
	assert.ErrorIs(t, s.Navigate(context.Background(), "about:blank"), browser.ErrSessionClosed)
	assert.NoError(t, s.Close())
	assert.Empty(t, s.ID())
}
