package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/odvcencio/intest/pkg/browser"
	apperrors "github.com/odvcencio/intest/pkg/errors"
	"github.com/odvcencio/intest/pkg/interpreter"
	"github.com/odvcencio/intest/pkg/logging"
	"github.com/odvcencio/intest/pkg/macro"
	"github.com/odvcencio/intest/pkg/storage"
	"github.com/odvcencio/intest/pkg/telemetry"
	"github.com/odvcencio/intest/pkg/worker"
)

const missingElement = "does-not-exist"

// fakeApp records every call the workers make, in order.
type fakeApp struct {
	mu     sync.Mutex
	calls  []string
	runs   map[string]int
	gate   chan struct{}
	inRun  atomic.Int32
	peak   atomic.Int32
	delay  time.Duration
	noInit map[int]bool
	broken map[int]bool
}

func newFakeApp() *fakeApp {
	return &fakeApp{runs: make(map[string]int), noInit: make(map[int]bool), broken: make(map[int]bool)}
}

func (a *fakeApp) record(call string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, call)
}

func (a *fakeApp) history() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

func (a *fakeApp) runCount(macroID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runs[macroID]
}

type fakeSession struct {
	slot    int
	app     *fakeApp
	macroID string
}

func (f *fakeSession) call(name string) { f.app.record(fmt.Sprintf("%d:%s", f.slot, name)) }

func (f *fakeSession) Open(context.Context) error {
	f.call("open")
	if f.app.broken[f.slot] {
		return errors.New("browser context crashed")
	}
	return nil
}

func (f *fakeSession) Login(context.Context) error {
	f.call("login")
	if f.app.noInit[f.slot] {
		return errors.New("timeout waiting for home marker")
	}
	return nil
}

func (f *fakeSession) CheckNoLicense(context.Context) (bool, error) {
	return f.app.noInit[f.slot], nil
}

func (f *fakeSession) Logout(context.Context) error { f.call("logout"); return nil }
func (f *fakeSession) Relogin(context.Context) error {
	f.call("relogin")
	return nil
}

func (f *fakeSession) RunMacro(ctx context.Context, entries []macro.Entry) error {
	n := f.app.inRun.Add(1)
	defer f.app.inRun.Add(-1)
	for {
		peak := f.app.peak.Load()
		if n <= peak || f.app.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	f.app.mu.Lock()
	f.app.runs[f.macroID]++
	f.app.calls = append(f.app.calls, fmt.Sprintf("%d:run:%s", f.slot, f.macroID))
	gate := f.app.gate
	f.app.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.app.delay > 0 {
		time.Sleep(f.app.delay)
	}
	for i, entry := range entries {
		if entry.Key == missingElement {
			return &interpreter.StepError{
				Index: i,
				Entry: entry,
				Err:   browser.NewElementError(`[id="`+entry.Key+`"]`, time.Second, context.DeadlineExceeded),
			}
		}
	}
	return nil
}

func (f *fakeSession) ApplyOverrides(macro.Overrides)                  {}
func (f *fakeSession) Bind(_, macroID string)                          { f.macroID = macroID }
func (f *fakeSession) StartRecording(context.Context, string) error    { return nil }
func (f *fakeSession) StopRecording() error                            { return nil }
func (f *fakeSession) Screenshot(context.Context, string) error        { return nil }
func (f *fakeSession) DumpLog(context.Context, string) (string, error) { return "", nil }
func (f *fakeSession) Artifacts() (string, string)                     { return "", f.macroID + "-log" }
func (f *fakeSession) Close() error                                    { return nil }

type fakeEndpoint struct {
	connectErr error
	connected  atomic.Int32
	closed     atomic.Int32
}

func (e *fakeEndpoint) Connect(context.Context) error {
	e.connected.Add(1)
	return e.connectErr
}

func (e *fakeEndpoint) Close() error {
	e.closed.Add(1)
	return nil
}

type pool struct {
	s        *Scheduler
	store    *storage.Store
	endpoint *fakeEndpoint
	app      *fakeApp
}

func quietLogger() *logging.Logger {
	return logging.New(logging.Options{Output: log.New(io.Discard, "", 0)})
}

func newPool(t *testing.T, app *fakeApp) *pool {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "intest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.CreateSession(context.Background(), &storage.Session{
		Token:     "tok",
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	endpoint := &fakeEndpoint{}
	s := New(store, endpoint, func(slot int) (worker.Session, error) {
		return &fakeSession{slot: slot, app: app}, nil
	}, Options{PollInterval: 10 * time.Millisecond, BarrierTimeout: 5 * time.Second}, quietLogger(), nil)
	t.Cleanup(func() { _ = s.Close() })
	return &pool{s: s, store: store, endpoint: endpoint, app: app}
}

func (p *pool) submit(t *testing.T, macroID string, entries ...macro.Entry) {
	t.Helper()
	require.NoError(t, p.store.CreateMacro(context.Background(), &storage.MacroRecord{
		SessionToken: "tok",
		MacroID:      macroID,
		Entries:      entries,
	}))
	require.NoError(t, p.s.Submit(macro.Task{
		Action:       macro.ActionTest,
		SessionToken: "tok",
		MacroID:      macroID,
		Entries:      entries,
	}))
}

func (p *pool) finished(t *testing.T, macroID string) *storage.MacroRecord {
	t.Helper()
	var rec *storage.MacroRecord
	require.Eventually(t, func() bool {
		got, err := p.store.GetMacro(context.Background(), "tok", macroID)
		if err != nil || !got.Status.Terminal() {
			return false
		}
		rec = got
		return true
	}, 5*time.Second, 5*time.Millisecond, "macro %s never finished", macroID)
	return rec
}

func TestStartInitializesEveryWorker(t *testing.T) {
	p := newPool(t, newFakeApp())
	require.NoError(t, p.s.Start(context.Background(), 3))
	assert.Equal(t, int32(1), p.endpoint.connected.Load())

	require.Eventually(t, func() bool {
		records, err := p.s.Workers(context.Background())
		if err != nil || len(records) != 3 {
			return false
		}
		for _, rec := range records {
			if rec.Status != macro.StatusCompleted || rec.Action != macro.ActionInit || rec.Claimed {
				return false
			}
		}
		return true
	}, 5*time.Second, 5*time.Millisecond)

	records, err := p.s.Workers(context.Background())
	require.NoError(t, err)
	for i, rec := range records {
		assert.Equal(t, i, rec.ID)
		assert.NotEmpty(t, rec.UnitID)
		assert.Equal(t, logging.SystemToken, rec.SessionToken)
	}
}

func TestStartFailsWhenEndpointUnavailable(t *testing.T) {
	p := newPool(t, newFakeApp())
	p.endpoint.connectErr = browser.ErrUnavailable

	err := p.s.Start(context.Background(), 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, browser.ErrUnavailable)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeBrowserUnavailable))

	records, err := p.store.ListWorkers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStartRejectsEmptyPool(t *testing.T) {
	p := newPool(t, newFakeApp())
	err := p.s.Start(context.Background(), 0)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))
}

func TestMacroCompletes(t *testing.T) {
	p := newPool(t, newFakeApp())
	require.NoError(t, p.s.Start(context.Background(), 1))

	p.submit(t, "M1", macro.Entry{Type: macro.EntryMenu, Key: "000"})

	rec := p.finished(t, "M1")
	assert.Equal(t, macro.StatusCompleted, rec.Status)
	assert.NotEmpty(t, rec.Message)
	require.NotNil(t, rec.StartedAt)
	require.NotNil(t, rec.CompletedAt)
	assert.False(t, rec.CompletedAt.Before(*rec.StartedAt))
	assert.Equal(t, "M1-log", rec.LogArtifact)
	assert.Equal(t, 0, p.s.QueueLen())
}

func TestMacroFailureResetsSessionBeforeNextTask(t *testing.T) {
	app := newFakeApp()
	p := newPool(t, app)
	require.NoError(t, p.s.Start(context.Background(), 1))

	missing := macro.Entry{Type: macro.EntryClick, Key: missingElement}
	p.submit(t, "M2", macro.Entry{Type: macro.EntryMenu, Key: "000"}, missing)
	p.submit(t, "M3", macro.Entry{Type: macro.EntryMenu, Key: "000"})

	failed := p.finished(t, "M2")
	assert.Equal(t, macro.StatusFailed, failed.Status)
	assert.Contains(t, failed.Message, missing.String())
	assert.Equal(t, macro.StatusCompleted, p.finished(t, "M3").Status)

	assert.Equal(t, []string{
		"0:open", "0:login",
		"0:run:M2", "0:logout", "0:relogin",
		"0:run:M3",
	}, app.history())
}

func TestSingleWorkerRunsMacrosSequentially(t *testing.T) {
	app := newFakeApp()
	app.delay = 20 * time.Millisecond
	p := newPool(t, app)
	require.NoError(t, p.s.Start(context.Background(), 1))

	p.submit(t, "first", macro.Entry{Type: macro.EntryMenu, Key: "000"})
	p.submit(t, "second", macro.Entry{Type: macro.EntryMenu, Key: "000"})

	first := p.finished(t, "first")
	second := p.finished(t, "second")
	require.NotNil(t, first.CompletedAt)
	require.NotNil(t, second.StartedAt)
	assert.False(t, second.StartedAt.Before(*first.CompletedAt),
		"second started %s before first completed %s", second.StartedAt, first.CompletedAt)
	assert.Equal(t, int32(1), app.peak.Load())
}

func TestEveryTaskRunsExactlyOnce(t *testing.T) {
	app := newFakeApp()
	app.delay = 2 * time.Millisecond
	p := newPool(t, app)
	require.NoError(t, p.s.Start(context.Background(), 3))

	const n = 20
	for i := 0; i < n; i++ {
		p.submit(t, fmt.Sprintf("M%02d", i), macro.Entry{Type: macro.EntryMenu, Key: "000"})
	}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("M%02d", i)
		assert.Equal(t, macro.StatusCompleted, p.finished(t, id).Status)
		assert.Equal(t, 1, app.runCount(id), id)
	}
	assert.LessOrEqual(t, app.peak.Load(), int32(3))
}

func TestTeardownWaitsForRunningMacro(t *testing.T) {
	app := newFakeApp()
	app.gate = make(chan struct{})
	p := newPool(t, app)
	require.NoError(t, p.s.Start(context.Background(), 2))

	p.submit(t, "slow", macro.Entry{Type: macro.EntryMenu, Key: "000"})
	require.Eventually(t, func() bool { return app.runCount("slow") == 1 }, 5*time.Second, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- p.s.Teardown(context.Background()) }()

	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("teardown returned while a macro was running: %v", err)
	default:
	}
	for _, call := range app.history() {
		assert.NotContains(t, call, "logout", "teardown sent before the macro finished")
	}
	assert.ErrorIs(t, p.s.Submit(macro.Task{Action: macro.ActionTest}), ErrPoolClosed)

	close(app.gate)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("teardown did not finish")
	}

	rec, err := p.store.GetMacro(context.Background(), "tok", "slow")
	require.NoError(t, err)
	assert.Equal(t, macro.StatusCompleted, rec.Status)

	records, err := p.store.ListWorkers(context.Background())
	require.NoError(t, err)
	for _, w := range records {
		assert.True(t, w.Exited, "worker %d", w.ID)
		assert.Equal(t, macro.ActionTeardown, w.Action)
		assert.Equal(t, macro.StatusCompleted, w.Status)
	}
	assert.Equal(t, int32(1), p.endpoint.closed.Load())
}

func TestTeardownBarrierTimesOut(t *testing.T) {
	app := newFakeApp()
	app.gate = make(chan struct{})
	p := newPool(t, app)
	p.s.opts.BarrierTimeout = 50 * time.Millisecond
	require.NoError(t, p.s.Start(context.Background(), 1))

	p.submit(t, "stuck", macro.Entry{Type: macro.EntryMenu, Key: "000"})
	require.Eventually(t, func() bool { return app.runCount("stuck") == 1 }, 5*time.Second, 5*time.Millisecond)

	err := p.s.Teardown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBarrierTimeout)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeBarrierTimeout))

	require.NoError(t, p.s.Close())
	assert.Equal(t, int32(1), p.endpoint.closed.Load())
}

func TestNoLicenseWorkerIsSkipped(t *testing.T) {
	app := newFakeApp()
	app.noInit[0] = true
	p := newPool(t, app)
	require.NoError(t, p.s.Start(context.Background(), 2))

	p.submit(t, "M1", macro.Entry{Type: macro.EntryMenu, Key: "000"})
	assert.Equal(t, macro.StatusCompleted, p.finished(t, "M1").Status)

	rec, err := p.store.GetWorker(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, macro.StatusFailed, rec.Status)
	assert.Equal(t, macro.ActionInit, rec.Action)

	for _, call := range app.history() {
		assert.NotEqual(t, "0:run:M1", call)
	}
	require.NoError(t, p.s.Teardown(context.Background()))
}

func TestSubmitBeforeStartIsDispatchedLater(t *testing.T) {
	p := newPool(t, newFakeApp())
	p.submit(t, "early", macro.Entry{Type: macro.EntryMenu, Key: "000"})
	assert.Equal(t, 1, p.s.QueueLen())

	require.NoError(t, p.s.Start(context.Background(), 1))
	assert.Equal(t, macro.StatusCompleted, p.finished(t, "early").Status)
}

func TestCloseReturnsFirstWorkerFault(t *testing.T) {
	app := newFakeApp()
	app.broken[1] = true
	p := newPool(t, app)
	require.NoError(t, p.s.Start(context.Background(), 2))

	require.Eventually(t, func() bool {
		rec, err := p.store.GetWorker(context.Background(), 1)
		return err == nil && rec.Exited
	}, 5*time.Second, 5*time.Millisecond)

	err := p.s.Close()
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeWorkerFault))
	assert.Contains(t, err.Error(), "worker 1")
	assert.Contains(t, err.Error(), "browser context crashed")
	assert.Equal(t, int32(1), p.endpoint.closed.Load())

	// a second Close reports the same outcome
	assert.Equal(t, err, p.s.Close())
}

func TestCloseWithoutFaultsIsClean(t *testing.T) {
	p := newPool(t, newFakeApp())
	require.NoError(t, p.s.Start(context.Background(), 2))
	p.submit(t, "M1", macro.Entry{Type: macro.EntryMenu, Key: "000"})
	p.finished(t, "M1")

	require.NoError(t, p.s.Close())
}

func TestDispatchIsTraced(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	p := newPool(t, newFakeApp())
	require.NoError(t, p.s.Start(context.Background(), 1))
	p.submit(t, "M1", macro.Entry{Type: macro.EntryMenu, Key: "000"})
	p.finished(t, "M1")
	require.NoError(t, p.s.Teardown(context.Background()))

	var dispatch sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		if span.Name() == "scheduler.dispatch" {
			dispatch = span
		}
	}
	require.NotNil(t, dispatch, "no dispatch span recorded")
	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range dispatch.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "M1", attrs[telemetry.AttrMacroID].AsString())
	assert.Equal(t, string(macro.ActionTest), attrs[telemetry.AttrAction].AsString())
	assert.Equal(t, int64(0), attrs[telemetry.AttrWorkerID].AsInt64())
}
