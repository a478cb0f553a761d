package cdp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/odvcencio/intest/pkg/browser"
)

// Session is one isolated browser context driven through chromedp.
type Session struct {
	id     string
	cfg    browser.SessionConfig
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool

	operationTimeout time.Duration
	existsTimeout    time.Duration
	quality          int
}

// ID returns the session identifier.
func (s *Session) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := s.run(ctx, s.operationTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// SetViewport resizes the page.
func (s *Session) SetViewport(ctx context.Context, viewport browser.Viewport) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	opts := []chromedp.EmulateViewportOption{}
	if viewport.DeviceScaleFactor > 0 {
		opts = append(opts, chromedp.EmulateScale(viewport.DeviceScaleFactor))
	}
	return s.run(ctx, s.operationTimeout,
		chromedp.EmulateViewport(int64(viewport.Width), int64(viewport.Height), opts...))
}

// WaitVisible blocks until selector matches a visible element or timeout
// elapses. Expiry is reported as a *browser.ElementError.
func (s *Session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	err := s.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
	return elementError(selector, timeout, err)
}

// Exists checks for selector without waiting for it to appear.
func (s *Session) Exists(ctx context.Context, selector string) (bool, error) {
	if err := s.ensureOpen(); err != nil {
		return false, err
	}
	var nodes []*cdp.Node
	err := s.run(ctx, s.existsTimeout, chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0)))
	if errors.Is(err, context.DeadlineExceeded) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

// Click clicks the first element matching selector clicks times.
func (s *Session) Click(ctx context.Context, selector string, clicks int) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	var action chromedp.Action
	switch {
	case clicks == 2:
		action = chromedp.DoubleClick(selector, chromedp.ByQuery, chromedp.NodeVisible)
	case clicks <= 1:
		action = chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)
	default:
		tasks := make(chromedp.Tasks, 0, clicks)
		for i := 0; i < clicks; i++ {
			tasks = append(tasks, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
		}
		action = tasks
	}
	err := s.run(ctx, s.operationTimeout, action)
	return elementError(selector, s.operationTimeout, err)
}

// Type focuses selector and sends text one key event at a time, pausing
// delay between keystrokes.
func (s *Session) Type(ctx context.Context, selector, text string, delay time.Duration) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	tasks := chromedp.Tasks{chromedp.Focus(selector, chromedp.ByQuery)}
	for _, r := range text {
		tasks = append(tasks, chromedp.KeyEvent(string(r)))
		if delay > 0 {
			tasks = append(tasks, chromedp.Sleep(delay))
		}
	}
	timeout := s.operationTimeout + time.Duration(len(text))*delay
	err := s.run(ctx, timeout, tasks)
	return elementError(selector, timeout, err)
}

// Press sends a single key to the focused element.
func (s *Session) Press(ctx context.Context, key browser.Key) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := s.run(ctx, s.operationTimeout, chromedp.KeyEvent(keySequence(key))); err != nil {
		return fmt.Errorf("press %s: %w", key, err)
	}
	return nil
}

// Evaluate runs script in the page and decodes its JSON result into out.
// A nil out discards the result.
func (s *Session) Evaluate(ctx context.Context, script string, out any) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := s.run(ctx, s.operationTimeout, chromedp.Evaluate(script, out)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// Screenshot captures the viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	var buf []byte
	if err := s.run(ctx, s.operationTimeout, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

// Stream starts a screencast and delivers frames until ctx is done or the
// session closes.
func (s *Session) Stream(ctx context.Context, opts browser.StreamOptions) (<-chan browser.Frame, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	quality := opts.Quality
	if quality == 0 {
		quality = s.quality
	}
	everyNth := opts.EveryNth
	if everyNth <= 0 {
		everyNth = 1
	}
	buffer := opts.BufferSize
	if buffer <= 0 {
		buffer = 16
	}
	format := page.ScreencastFormatJpeg
	frameFormat := browser.FrameFormatJPEG
	if opts.Format == browser.FrameFormatPNG {
		format = page.ScreencastFormatPng
		frameFormat = browser.FrameFormatPNG
	}

	// Listener lifetime follows the stream, not the session.
	listenCtx, stopListening := context.WithCancel(s.ctx)
	frames := make(chan browser.Frame, buffer)
	raw := make(chan *page.EventScreencastFrame, buffer)
	chromedp.ListenTarget(listenCtx, func(ev any) {
		if frame, ok := ev.(*page.EventScreencastFrame); ok {
			select {
			case raw <- frame:
			default:
			}
		}
	})

	start := chromedp.ActionFunc(func(ctx context.Context) error {
		return page.StartScreencast().
			WithFormat(format).
			WithQuality(int64(quality)).
			WithEveryNthFrame(int64(everyNth)).
			Do(ctx)
	})
	if err := s.run(ctx, s.operationTimeout, start); err != nil {
		stopListening()
		return nil, fmt.Errorf("start screencast: %w", err)
	}

	go func() {
		defer close(frames)
		defer stopListening()
		defer func() {
			stopCtx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
			defer cancel()
			_ = chromedp.Run(stopCtx, chromedp.ActionFunc(func(ctx context.Context) error {
				return page.StopScreencast().Do(ctx)
			}))
		}()

		seq := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.ctx.Done():
				return
			case ev := <-raw:
				ack := ev.SessionID
				_ = chromedp.Run(s.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
					return page.ScreencastFrameAck(ack).Do(ctx)
				}))
				data, err := base64.StdEncoding.DecodeString(ev.Data)
				if err != nil {
					continue
				}
				seq++
				frame := browser.Frame{
					Seq:       seq,
					Format:    frameFormat,
					Data:      data,
					Timestamp: time.Now(),
				}
				if ev.Metadata != nil {
					frame.Width = int(ev.Metadata.DeviceWidth)
					frame.Height = int(ev.Metadata.DeviceHeight)
				}
				select {
				case frames <- frame:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return frames, nil
}

// Close disposes the browser context.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

func (s *Session) ensureOpen() error {
	if s == nil {
		return browser.ErrSessionClosed
	}
	if s.ctx == nil {
		return browser.ErrUnavailable
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed || s.ctx.Err() != nil {
		return browser.ErrSessionClosed
	}
	return nil
}

// run executes actions on the session's chromedp context bounded by
// timeout and by the caller's ctx.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	if ctx != nil {
		stop := context.AfterFunc(ctx, cancel)
		defer stop()
	}
	err := chromedp.Run(runCtx, actions...)
	if err != nil && s.ctx.Err() != nil {
		return fmt.Errorf("%w: %v", browser.ErrSessionClosed, err)
	}
	if err != nil && ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func elementError(selector string, timeout time.Duration, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return browser.NewElementError(selector, timeout, err)
	}
	return err
}
