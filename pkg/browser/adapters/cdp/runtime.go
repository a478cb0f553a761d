package cdp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/odvcencio/intest/pkg/browser"
)

// Runtime is a chromedp-backed runtime attached to one remote browser.
// Sessions are isolated browser contexts on that browser.
type Runtime struct {
	cfg Config

	mu          sync.Mutex
	allocCancel context.CancelFunc
	rootCtx     context.Context
	rootCancel  context.CancelFunc
	closed      bool
}

// NewRuntime creates a chromedp runtime adapter. Connect must be called
// before sessions can be created.
func NewRuntime(cfg Config) (*Runtime, error) {
	merged := cfg.withDefaults()
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return &Runtime{cfg: merged}, nil
}

// Connect attaches to the remote browser's control endpoint.
func (r *Runtime) Connect(ctx context.Context) error {
	if r == nil {
		return browser.ErrUnavailable
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return browser.ErrSessionClosed
	}
	if r.rootCtx != nil {
		return nil
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), r.cfg.ControlURL)
	rootCtx, rootCancel := chromedp.NewContext(allocCtx)

	if err := attach(ctx, rootCtx, r.cfg.ConnectTimeout); err != nil {
		rootCancel()
		allocCancel()
		return fmt.Errorf("%w: connect %s: %v", browser.ErrUnavailable, r.cfg.ControlURL, err)
	}
	r.allocCancel = allocCancel
	r.rootCtx, r.rootCancel = rootCtx, rootCancel
	return nil
}

// NewSession opens a fresh browser context with a single page.
func (r *Runtime) NewSession(ctx context.Context, sessionCfg browser.SessionConfig) (browser.BrowserSession, error) {
	if r == nil {
		return nil, browser.ErrUnavailable
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(sessionCfg.SessionID) == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	r.mu.Lock()
	rootCtx := r.rootCtx
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, browser.ErrSessionClosed
	}
	if rootCtx == nil {
		return nil, browser.ErrUnavailable
	}

	normalized := normalizeSessionConfig(sessionCfg, r.cfg.OperationTimeout)
	tabCtx, tabCancel := chromedp.NewContext(rootCtx, chromedp.WithNewBrowserContext())

	sess := &Session{
		id:               normalized.SessionID,
		cfg:              normalized,
		ctx:              tabCtx,
		cancel:           tabCancel,
		operationTimeout: normalized.OperationTimeout,
		existsTimeout:    r.cfg.ExistsTimeout,
		quality:          r.cfg.ScreencastQuality,
	}

	actions := []chromedp.Action{
		chromedp.EmulateViewport(int64(normalized.Viewport.Width), int64(normalized.Viewport.Height)),
	}
	if normalized.InitialURL != "" {
		actions = append(actions, chromedp.Navigate(normalized.InitialURL))
	}
	if err := attach(ctx, tabCtx, sess.operationTimeout); err != nil {
		tabCancel()
		return nil, fmt.Errorf("open session %s: %w", normalized.SessionID, err)
	}
	if err := sess.run(ctx, sess.operationTimeout, actions...); err != nil {
		tabCancel()
		return nil, fmt.Errorf("open session %s: %w", normalized.SessionID, err)
	}
	return sess, nil
}

// Close detaches from the remote browser. Sessions still open are
// cancelled with it.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.rootCancel != nil {
		r.rootCancel()
	}
	if r.allocCancel != nil {
		r.allocCancel()
	}
	return nil
}

// attach performs the first chromedp.Run on a context. That call binds the
// browser (or target) lifetime to the context it is given, so it must run on
// the chromedp context itself rather than on a derived timeout context.
func attach(ctx, chromeCtx context.Context, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(chromeCtx)
	}()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return browser.ErrOperationTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func normalizeSessionConfig(cfg browser.SessionConfig, operationTimeout time.Duration) browser.SessionConfig {
	merged := browser.DefaultSessionConfig()
	merged.SessionID = cfg.SessionID
	merged.InitialURL = cfg.InitialURL
	if cfg.Viewport.Width != 0 {
		merged.Viewport.Width = cfg.Viewport.Width
	}
	if cfg.Viewport.Height != 0 {
		merged.Viewport.Height = cfg.Viewport.Height
	}
	if cfg.Viewport.DeviceScaleFactor != 0 {
		merged.Viewport.DeviceScaleFactor = cfg.Viewport.DeviceScaleFactor
	}
	if cfg.OperationTimeout != 0 {
		merged.OperationTimeout = cfg.OperationTimeout
	} else if operationTimeout != 0 {
		merged.OperationTimeout = operationTimeout
	}
	return merged
}
