package browser

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRuntime struct {
	mu       sync.Mutex
	sessions []*stubSession
	closed   bool
	err      error
}

func (r *stubRuntime) NewSession(_ context.Context, cfg SessionConfig) (BrowserSession, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sess := &stubSession{id: cfg.SessionID}
	r.sessions = append(r.sessions, sess)
	return sess, nil
}

func (r *stubRuntime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type stubSession struct {
	id        string
	closed    bool
	clickErr  error
	frameData [][]byte
}

func (s *stubSession) ID() string                                   { return s.id }
func (s *stubSession) Navigate(context.Context, string) error       { return nil }
func (s *stubSession) SetViewport(context.Context, Viewport) error  { return nil }
func (s *stubSession) Exists(context.Context, string) (bool, error) { return true, nil }
func (s *stubSession) Press(context.Context, Key) error             { return nil }
func (s *stubSession) Evaluate(context.Context, string, any) error  { return nil }
func (s *stubSession) Screenshot(context.Context) ([]byte, error)   { return []byte("png"), nil }
func (s *stubSession) Type(context.Context, string, string, time.Duration) error {
	return nil
}

func (s *stubSession) WaitVisible(_ context.Context, selector string, timeout time.Duration) error {
	if selector == "#missing" {
		return NewElementError(selector, timeout, context.DeadlineExceeded)
	}
	return nil
}

func (s *stubSession) Click(context.Context, string, int) error { return s.clickErr }

func (s *stubSession) Stream(context.Context, StreamOptions) (<-chan Frame, error) {
	ch := make(chan Frame, len(s.frameData))
	for i, data := range s.frameData {
		ch <- Frame{Seq: i + 1, Data: data}
	}
	close(ch)
	return ch, nil
}

func (s *stubSession) Close() error {
	s.closed = true
	return nil
}

func TestManagerCreateAndClose(t *testing.T) {
	rt := &stubRuntime{}
	m := NewManager(rt, NewMetrics())
	ctx := context.Background()

	sess, err := m.CreateSession(ctx, SessionConfig{SessionID: "worker-1"})
	require.NoError(t, err)
	assert.Equal(t, "worker-1", sess.ID())

	_, err = m.CreateSession(ctx, SessionConfig{SessionID: "worker-1"})
	assert.ErrorIs(t, err, ErrSessionExists)
	assert.Equal(t, 1, m.Active())

	_, err = m.CreateSession(ctx, SessionConfig{})
	assert.Error(t, err)

	got, ok := m.Session("worker-1")
	require.True(t, ok)
	assert.Equal(t, sess, got)

	require.NoError(t, m.CloseSession("worker-1"))
	assert.True(t, rt.sessions[0].closed)
	assert.ErrorIs(t, m.CloseSession("worker-1"), ErrSessionClosed)
	assert.Equal(t, 0, m.Active())

	snap := m.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.SessionsCreated)
	assert.Equal(t, int64(0), snap.ActiveSessions)
}

func TestManagerCloseReleasesEverything(t *testing.T) {
	rt := &stubRuntime{}
	m := NewManager(rt, nil)
	for _, id := range []string{"a", "b"} {
		_, err := m.CreateSession(context.Background(), SessionConfig{SessionID: id})
		require.NoError(t, err)
	}

	require.NoError(t, m.Close())
	assert.True(t, rt.closed)
	for _, s := range rt.sessions {
		assert.True(t, s.closed)
	}
	_, ok := m.Session("a")
	assert.False(t, ok)
}

func TestManagerUnavailable(t *testing.T) {
	var m *Manager
	_, err := m.CreateSession(context.Background(), SessionConfig{SessionID: "x"})
	assert.ErrorIs(t, err, ErrUnavailable)

	rt := &stubRuntime{err: ErrConnectionLost}
	mgr := NewManager(rt, nil)
	_, err = mgr.CreateSession(context.Background(), SessionConfig{SessionID: "x"})
	assert.True(t, IsConnectionError(err))
	assert.True(t, IsRetryableError(err))

	// A failed open releases the id for the next attempt.
	rt.err = nil
	_, err = mgr.CreateSession(context.Background(), SessionConfig{SessionID: "x"})
	assert.NoError(t, err)
}

func TestInstrumentedSessionRecordsActions(t *testing.T) {
	metrics := NewMetrics()
	rt := &stubRuntime{}
	m := NewManager(rt, metrics)
	ctx := context.Background()

	sess, err := m.CreateSession(ctx, SessionConfig{SessionID: "w"})
	require.NoError(t, err)
	rt.sessions[0].frameData = [][]byte{[]byte("f1"), []byte("f2")}

	require.NoError(t, sess.Navigate(ctx, "about:blank"))
	require.NoError(t, sess.WaitVisible(ctx, "#ok", time.Second))
	err = sess.WaitVisible(ctx, "#missing", time.Second)
	require.Error(t, err)
	rt.sessions[0].clickErr = errors.New("boom")
	require.Error(t, sess.Click(ctx, "#ok", 1))
	require.NoError(t, sess.Evaluate(ctx, "1", nil))

	frames, err := sess.Stream(ctx, StreamOptions{})
	require.NoError(t, err)
	count := 0
	for range frames {
		count++
	}
	assert.Equal(t, 2, count)

	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap.NavigateCount)
	assert.Equal(t, int64(3), snap.ActionCount)
	assert.Equal(t, int64(1), snap.ActionSuccessCount)
	assert.Equal(t, int64(2), snap.ActionFailureCount)
	assert.Equal(t, int64(1), snap.ElementMissCount)
	assert.Equal(t, int64(1), snap.ScriptCount)
	assert.Equal(t, int64(2), snap.FramesDelivered)
	assert.InDelta(t, 1.0/3.0, snap.ActionSuccessRate, 0.001)
}

func TestElementError(t *testing.T) {
	err := NewElementError(`[id="save"]`, 5*time.Second, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrElementNotFound)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), `[id="save"]`)

	var elemErr *ElementError
	require.True(t, errors.As(err, &elemErr))
	assert.Equal(t, 5*time.Second, elemErr.Timeout)
}

func TestParseKey(t *testing.T) {
	assert.Equal(t, KeyEscape, ParseKey("escape"))
	assert.Equal(t, KeyArrowDown, ParseKey(" ARROWDOWN "))
	assert.Equal(t, Key("x"), ParseKey("x"))
	assert.True(t, KeyEnter.Named())
	assert.False(t, Key("x").Named())
}
