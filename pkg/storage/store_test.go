package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/intest/pkg/logging"
	"github.com/odvcencio/intest/pkg/macro"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "intest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createSession(t *testing.T, store *Store, token string, expires time.Time) *Session {
	t.Helper()
	session := &Session{
		Token:     token,
		JobNumber: 4711,
		System:    "PROD",
		Operator:  "007",
		Tenant:    "0001",
		ExpiresAt: expires,
	}
	require.NoError(t, store.CreateSession(context.Background(), session))
	return session
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now()

	createSession(t, store, "tok-valid", now.Add(time.Hour))
	createSession(t, store, "tok-expired", now.Add(-time.Minute))

	got, err := store.ValidSession(ctx, "tok-valid", now)
	require.NoError(t, err)
	assert.Equal(t, 4711, got.JobNumber)
	assert.Equal(t, "007", got.Operator)

	_, err = store.ValidSession(ctx, "tok-expired", now)
	assert.ErrorIs(t, err, ErrSessionExpired)

	_, err = store.ValidSession(ctx, "tok-unknown", now)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Expired sessions stay until cleaned up explicitly.
	_, err = store.GetSession(ctx, "tok-expired")
	require.NoError(t, err)

	err = store.CreateSession(ctx, &Session{Token: "tok-valid", ExpiresAt: now.Add(time.Hour)})
	assert.ErrorIs(t, err, ErrSessionExists)

	removed, err := store.CleanupExpiredSessions(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = store.GetSession(ctx, "tok-expired")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.GetSession(ctx, SystemToken)
	assert.NoError(t, err)
}

func TestClaimIdleWorkerInSlotOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.ResetWorkers(ctx))
	for i := 0; i < 3; i++ {
		require.NoError(t, store.InsertWorker(ctx, i, "unit"))
	}

	// Freshly inserted workers carry the init claim.
	_, ok, err := store.ClaimIdleWorker(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	for _, id := range []int{2, 1} {
		require.NoError(t, store.UpdateWorker(ctx, WorkerReport{ID: id, Status: macro.StatusCompleted, Action: macro.ActionInit}))
	}
	require.NoError(t, store.UpdateWorker(ctx, WorkerReport{ID: 0, Status: macro.StatusRunning, Action: macro.ActionInit}))

	id, ok, err := store.ClaimIdleWorker(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, id)

	rec, err := store.GetWorker(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, macro.StatusPending, rec.Status)
	assert.True(t, rec.Claimed)
	assert.False(t, rec.Idle())

	id, ok, err = store.ClaimIdleWorker(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, id)

	_, ok, err = store.ClaimIdleWorker(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.ReleaseClaim(ctx, 2))
	id, ok, err = store.ClaimIdleWorker(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, id)
}

func TestClaimIdleWorkerIsExclusive(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	const workers = 4
	for i := 0; i < workers; i++ {
		require.NoError(t, store.InsertWorker(ctx, i, "unit"))
		require.NoError(t, store.UpdateWorker(ctx, WorkerReport{ID: i, Status: macro.StatusCompleted, Action: macro.ActionInit}))
	}

	var (
		mu      sync.Mutex
		claimed = map[int]int{}
		wg      sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, ok, err := store.ClaimIdleWorker(ctx)
			if err != nil || !ok {
				return
			}
			mu.Lock()
			claimed[id]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, workers)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "worker %d claimed more than once", id)
	}
}

func TestExitedWorkerIsNeverClaimed(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.InsertWorker(ctx, 0, "unit"))
	require.NoError(t, store.UpdateWorker(ctx, WorkerReport{ID: 0, Status: macro.StatusCompleted, Action: macro.ActionEndTest}))
	require.NoError(t, store.MarkWorkerExited(ctx, 0, "panic"))

	_, ok, err := store.ClaimIdleWorker(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	workers, err := store.ListWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.True(t, workers[0].Exited)
	assert.Equal(t, macro.StatusCompleted, workers[0].Status)

	err = store.UpdateWorker(ctx, WorkerReport{ID: 9, Status: macro.StatusRunning})
	assert.ErrorIs(t, err, ErrWorkerNotFound)
}

func TestMacroRoundTripAndMonotonicity(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	createSession(t, store, "tok", time.Now().Add(time.Hour))

	entries := []macro.Entry{
		{Type: macro.EntryMenu, Key: "000"},
		{Type: macro.EntryGridClick, Key: "1^2"},
		{Type: macro.EntryKey, Key: "Enter"},
	}
	rec := &MacroRecord{SessionToken: "tok", MacroID: "M1", Entries: entries, Record: true, RecordPath: "rec"}
	require.NoError(t, store.CreateMacro(ctx, rec))

	err := store.CreateMacro(ctx, &MacroRecord{SessionToken: "tok", MacroID: "M1", Entries: entries})
	assert.ErrorIs(t, err, ErrDuplicateMacro)

	got, err := store.GetMacro(ctx, "tok", "M1")
	require.NoError(t, err)
	assert.Equal(t, entries, got.Entries)
	assert.Equal(t, macro.StatusPending, got.Status)
	assert.True(t, got.Record)
	assert.Nil(t, got.StartedAt)

	started := time.Now()
	require.NoError(t, store.MarkMacroRunning(ctx, "tok", "M1", started))
	assert.ErrorIs(t, store.MarkMacroRunning(ctx, "tok", "M1", started), ErrStaleTransition)

	finished := started.Add(2 * time.Second)
	require.NoError(t, store.FinishMacro(ctx, "tok", "M1", macro.StatusCompleted, "macro M1 completed", finished))

	// Terminal is terminal.
	assert.ErrorIs(t, store.FinishMacro(ctx, "tok", "M1", macro.StatusFailed, "late", finished), ErrStaleTransition)
	assert.ErrorIs(t, store.MarkMacroRunning(ctx, "tok", "M1", finished), ErrStaleTransition)

	// Artifact names may still be backfilled.
	require.NoError(t, store.SetMacroArtifacts(ctx, "tok", "M1", "", "M1-log"))

	got, err = store.GetMacro(ctx, "tok", "M1")
	require.NoError(t, err)
	assert.Equal(t, macro.StatusCompleted, got.Status)
	assert.Equal(t, "macro M1 completed", got.Message)
	assert.Equal(t, "M1-log", got.LogArtifact)
	assert.Empty(t, got.RecordingArtifact)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, started.UnixMilli(), got.StartedAt.UnixMilli())
	assert.Equal(t, finished.UnixMilli(), got.CompletedAt.UnixMilli())

	assert.ErrorIs(t, store.FinishMacro(ctx, "tok", "nope", macro.StatusFailed, "", finished), ErrMacroNotFound)
	assert.Error(t, store.FinishMacro(ctx, "tok", "M1", macro.StatusRunning, "", finished))
}

func TestListAndCountMacros(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	createSession(t, store, "tok", time.Now().Add(time.Hour))

	for _, id := range []string{"A", "B", "C"} {
		require.NoError(t, store.CreateMacro(ctx, &MacroRecord{
			SessionToken: "tok",
			MacroID:      id,
			Entries:      []macro.Entry{{Type: macro.EntryEscape}},
		}))
	}
	require.NoError(t, store.FinishMacro(ctx, "tok", "B", macro.StatusFailed, "step 1 failed", time.Time{}))

	list, err := store.ListMacros(ctx, "tok")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "A", list[0].MacroID)
	assert.Equal(t, "C", list[2].MacroID)

	counts, err := store.CountMacros(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[macro.StatusPending])
	assert.Equal(t, 1, counts[macro.StatusFailed])
}

func TestProtocolSinkAndBatchWriter(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	createSession(t, store, "tok", time.Now().Add(time.Hour))

	worker := 3
	require.NoError(t, store.AppendProtocol(ctx, logging.Event{
		Level:        logging.LevelInfo,
		Category:     logging.CategoryStep,
		EventType:    "step",
		SessionToken: "tok",
		WorkerID:     &worker,
		MacroID:      "M1",
		Message:      "000 P",
		Details:      map[string]any{"index": float64(1)},
	}))

	writer := store.NewBatchWriter(10, time.Hour)
	require.NoError(t, writer.AppendProtocol(ctx, logging.Event{Level: logging.LevelWarn, SessionToken: "tok", Message: "buffered"}))
	assert.Equal(t, 1, writer.BatchSize())

	events, err := writer.ListProtocol(ctx, "tok")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 0, writer.BatchSize())
	assert.Equal(t, 1, writer.FlushedCount())

	assert.Equal(t, "000 P", events[0].Message)
	require.NotNil(t, events[0].WorkerID)
	assert.Equal(t, 3, *events[0].WorkerID)
	assert.Equal(t, float64(1), events[0].Details["index"])
	assert.Equal(t, logging.LevelWarn, events[1].Level)
	assert.Nil(t, events[1].WorkerID)

	require.NoError(t, writer.Close())
	assert.ErrorIs(t, writer.AppendProtocol(ctx, logging.Event{SessionToken: "tok"}), ErrStoreClosed)
}

func TestBatchWriterFlushesWhenFull(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	writer := store.NewBatchWriter(2, time.Hour)
	defer writer.Close()

	require.NoError(t, writer.AppendProtocol(ctx, logging.Event{Message: "one"}))
	require.NoError(t, writer.AppendProtocol(ctx, logging.Event{Message: "two"}))
	assert.Equal(t, 0, writer.BatchSize())

	events, err := store.ListProtocol(ctx, SystemToken)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestObserverReceivesMacroEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	createSession(t, store, "tok", time.Now().Add(time.Hour))

	got := make(chan Event, 8)
	store.AddObserver(ObserverFunc(func(e Event) { got <- e }))

	require.NoError(t, store.CreateMacro(ctx, &MacroRecord{
		SessionToken: "tok",
		MacroID:      "M9",
		Entries:      []macro.Entry{{Type: macro.EntryEscape}},
	}))

	select {
	case e := <-got:
		assert.Equal(t, EventMacroCreated, e.Type)
		assert.Equal(t, "M9", e.EntityID)
	case <-time.After(2 * time.Second):
		t.Fatal("observer not notified")
	}
}
