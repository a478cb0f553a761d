// Package recorder captures screenshots and screencasts of a worker's page.
// Every operation is a no-op unless recording is enabled.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/odvcencio/intest/pkg/browser"
	"github.com/odvcencio/intest/pkg/logging"
)

// ErrAlreadyRecording is returned when a second recording is started.
var ErrAlreadyRecording = errors.New("recording already in progress")

// Recorder writes media for one page.
type Recorder struct {
	page   browser.BrowserSession
	logger *logging.Logger
	opts   browser.StreamOptions

	mu       sync.Mutex
	enabled  bool
	dir      string
	last     string
	cancel   context.CancelFunc
	done     chan struct{}
	frames   int
	writeErr error
}

// New creates a recorder for page. dir is the default media directory.
func New(page browser.BrowserSession, logger *logging.Logger, enabled bool, dir string) *Recorder {
	return &Recorder{
		page:    page,
		logger:  logger,
		enabled: enabled,
		dir:     dir,
		opts:    browser.StreamOptions{Format: browser.FrameFormatJPEG},
	}
}

// SetEnabled toggles recording for subsequent calls.
func (r *Recorder) SetEnabled(enabled bool) {
	r.mu.Lock()
	r.enabled = enabled
	r.mu.Unlock()
}

// Enabled reports whether recording is on.
func (r *Recorder) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// SetDir changes the media directory.
func (r *Recorder) SetDir(dir string) {
	r.mu.Lock()
	r.dir = dir
	r.mu.Unlock()
}

// LastArtifact returns the name of the last started recording.
func (r *Recorder) LastArtifact() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// ResetArtifact forgets the last recording name.
func (r *Recorder) ResetArtifact() {
	r.mu.Lock()
	r.last = ""
	r.mu.Unlock()
}

// Recording reports whether a screencast is running.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

// Screenshot saves <dir>/<name>.png.
func (r *Recorder) Screenshot(ctx context.Context, name string) error {
	r.mu.Lock()
	enabled, dir := r.enabled, r.dir
	r.mu.Unlock()
	if !enabled || r.page == nil {
		return nil
	}

	data, err := r.page.Screenshot(ctx)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create media dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".png"), data, 0644); err != nil {
		return fmt.Errorf("write screenshot: %w", err)
	}
	r.logger.Info(logging.CategoryRecorder, "screenshot", "Screenshot saved: "+name+".png", nil)
	return nil
}

// StartRecording streams frames into <dir>/<name>/ as numbered JPEGs until
// StopRecording is called.
func (r *Recorder) StartRecording(ctx context.Context, name string) error {
	r.mu.Lock()
	if !r.enabled || r.page == nil {
		r.mu.Unlock()
		return nil
	}
	if r.cancel != nil {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	target := filepath.Join(r.dir, name)
	r.mu.Unlock()

	if err := os.MkdirAll(target, 0755); err != nil {
		return fmt.Errorf("create recording dir: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	frames, err := r.page.Stream(streamCtx, r.opts)
	if err != nil {
		cancel()
		return fmt.Errorf("start screencast: %w", err)
	}

	done := make(chan struct{})
	r.mu.Lock()
	r.cancel = cancel
	r.done = done
	r.last = name
	r.frames = 0
	r.writeErr = nil
	r.mu.Unlock()

	go r.consume(frames, target, done)
	r.logger.Info(logging.CategoryRecorder, "recording_started", "Recording started: "+name, nil)
	return nil
}

func (r *Recorder) consume(frames <-chan browser.Frame, target string, done chan struct{}) {
	defer close(done)
	for frame := range frames {
		ext := ".jpg"
		if frame.Format == browser.FrameFormatPNG {
			ext = ".png"
		}
		path := filepath.Join(target, fmt.Sprintf("frame-%06d%s", frame.Seq, ext))
		err := os.WriteFile(path, frame.Data, 0644)
		r.mu.Lock()
		if err != nil && r.writeErr == nil {
			r.writeErr = err
		}
		if err == nil {
			r.frames++
		}
		r.mu.Unlock()
	}
}

// StopRecording ends the running screencast and waits for the last frame
// to be written. Without a running recording it does nothing.
func (r *Recorder) StopRecording() error {
	r.mu.Lock()
	if !r.enabled && r.cancel == nil {
		r.mu.Unlock()
		return nil
	}
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	<-done

	r.mu.Lock()
	frames, err := r.frames, r.writeErr
	r.mu.Unlock()
	r.logger.Info(logging.CategoryRecorder, "recording_stopped", "Recording stopped",
		map[string]any{"frames": frames})
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
