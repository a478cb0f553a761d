package browser

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// Metrics tracks browser runtime counters.
type Metrics struct {
	SessionsCreated atomic.Int64
	SessionsClosed  atomic.Int64
	ActiveSessions  atomic.Int64

	NavigateCount atomic.Int64
	ActionCount   atomic.Int64
	ScriptCount   atomic.Int64

	ActionSuccessCount atomic.Int64
	ActionFailureCount atomic.Int64
	ElementMissCount   atomic.Int64

	FramesDelivered atomic.Int64
	ActionLatency   atomic.Int64 // nanoseconds sum for averaging
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordSessionCreated increments session creation counter.
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Add(1)
	m.ActiveSessions.Add(1)
}

// RecordSessionClosed increments session close counter.
func (m *Metrics) RecordSessionClosed() {
	if m == nil {
		return
	}
	m.SessionsClosed.Add(1)
	m.ActiveSessions.Add(-1)
}

// RecordNavigate increments navigation counter.
func (m *Metrics) RecordNavigate() {
	if m == nil {
		return
	}
	m.NavigateCount.Add(1)
}

// RecordScript increments the in-page script counter.
func (m *Metrics) RecordScript() {
	if m == nil {
		return
	}
	m.ScriptCount.Add(1)
}

// RecordAction tracks an input action (wait, click, type, key press).
func (m *Metrics) RecordAction(err error, latency time.Duration) {
	if m == nil {
		return
	}
	m.ActionCount.Add(1)
	m.ActionLatency.Add(latency.Nanoseconds())
	if err == nil {
		m.ActionSuccessCount.Add(1)
		return
	}
	m.ActionFailureCount.Add(1)
	if errors.Is(err, ErrElementNotFound) {
		m.ElementMissCount.Add(1)
	}
}

// RecordFrameDelivered counts a screencast frame.
func (m *Metrics) RecordFrameDelivered() {
	if m == nil {
		return
	}
	m.FramesDelivered.Add(1)
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	successCount := m.ActionSuccessCount.Load()
	failCount := m.ActionFailureCount.Load()
	total := successCount + failCount
	successRate := float64(1.0)
	avgLatency := time.Duration(0)
	if total > 0 {
		successRate = float64(successCount) / float64(total)
		avgLatency = time.Duration(m.ActionLatency.Load() / total)
	}
	return MetricsSnapshot{
		SessionsCreated:      m.SessionsCreated.Load(),
		SessionsClosed:       m.SessionsClosed.Load(),
		ActiveSessions:       m.ActiveSessions.Load(),
		NavigateCount:        m.NavigateCount.Load(),
		ActionCount:          m.ActionCount.Load(),
		ScriptCount:          m.ScriptCount.Load(),
		ActionSuccessCount:   successCount,
		ActionFailureCount:   failCount,
		ActionSuccessRate:    successRate,
		ElementMissCount:     m.ElementMissCount.Load(),
		FramesDelivered:      m.FramesDelivered.Load(),
		AverageActionLatency: avgLatency,
	}
}

// MetricsSnapshot is a point-in-time copy of browser metrics.
type MetricsSnapshot struct {
	SessionsCreated      int64
	SessionsClosed       int64
	ActiveSessions       int64
	NavigateCount        int64
	ActionCount          int64
	ScriptCount          int64
	ActionSuccessCount   int64
	ActionFailureCount   int64
	ActionSuccessRate    float64
	ElementMissCount     int64
	FramesDelivered      int64
	AverageActionLatency time.Duration
}

// instrumented decorates a session with metric recording.
type instrumented struct {
	BrowserSession
	metrics *Metrics
}

func instrument(sess BrowserSession, m *Metrics) BrowserSession {
	if m == nil || sess == nil {
		return sess
	}
	return &instrumented{BrowserSession: sess, metrics: m}
}

func (s *instrumented) Navigate(ctx context.Context, url string) error {
	s.metrics.RecordNavigate()
	return s.BrowserSession.Navigate(ctx, url)
}

func (s *instrumented) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	start := time.Now()
	err := s.BrowserSession.WaitVisible(ctx, selector, timeout)
	s.metrics.RecordAction(err, time.Since(start))
	return err
}

func (s *instrumented) Click(ctx context.Context, selector string, clicks int) error {
	start := time.Now()
	err := s.BrowserSession.Click(ctx, selector, clicks)
	s.metrics.RecordAction(err, time.Since(start))
	return err
}

func (s *instrumented) Type(ctx context.Context, selector, text string, delay time.Duration) error {
	start := time.Now()
	err := s.BrowserSession.Type(ctx, selector, text, delay)
	s.metrics.RecordAction(err, time.Since(start))
	return err
}

func (s *instrumented) Press(ctx context.Context, key Key) error {
	start := time.Now()
	err := s.BrowserSession.Press(ctx, key)
	s.metrics.RecordAction(err, time.Since(start))
	return err
}

func (s *instrumented) Evaluate(ctx context.Context, script string, out any) error {
	s.metrics.RecordScript()
	return s.BrowserSession.Evaluate(ctx, script, out)
}

func (s *instrumented) Stream(ctx context.Context, opts StreamOptions) (<-chan Frame, error) {
	frames, err := s.BrowserSession.Stream(ctx, opts)
	if err != nil {
		return nil, err
	}
	out := make(chan Frame)
	go func() {
		defer close(out)
		for frame := range frames {
			s.metrics.RecordFrameDelivered()
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
