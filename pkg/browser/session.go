package browser

import (
	"context"
	"time"
)

// Runtime manages browser sessions on one shared control endpoint.
type Runtime interface {
	NewSession(ctx context.Context, cfg SessionConfig) (BrowserSession, error)
	Close() error
}

//go:generate mockgen -package=mocks -destination=mocks/mock_session.go github.com/odvcencio/intest/pkg/browser BrowserSession

// BrowserSession is the page port implemented by browser runtime adapters.
// Every session is an isolated browser context with a single page.
type BrowserSession interface {
	ID() string
	Navigate(ctx context.Context, url string) error
	SetViewport(ctx context.Context, viewport Viewport) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Exists(ctx context.Context, selector string) (bool, error)
	Click(ctx context.Context, selector string, clicks int) error
	Type(ctx context.Context, selector, text string, delay time.Duration) error
	Press(ctx context.Context, key Key) error
	Evaluate(ctx context.Context, script string, out any) error
	Screenshot(ctx context.Context) ([]byte, error)
	Stream(ctx context.Context, opts StreamOptions) (<-chan Frame, error)
	Close() error
}
