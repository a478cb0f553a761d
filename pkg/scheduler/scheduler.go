// Package scheduler owns the worker pool: it queues submitted tasks,
// hands each one to the first idle worker, persists every worker report
// and shuts the pool down behind two bounded barriers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/odvcencio/intest/pkg/errors"
	"github.com/odvcencio/intest/pkg/logging"
	"github.com/odvcencio/intest/pkg/macro"
	"github.com/odvcencio/intest/pkg/storage"
	"github.com/odvcencio/intest/pkg/telemetry"
	"github.com/odvcencio/intest/pkg/worker"
)

var (
	// ErrBarrierTimeout is wrapped by Teardown when workers do not reach
	// the awaited state within Options.BarrierTimeout.
	ErrBarrierTimeout = errors.New("barrier timeout")

	// ErrPoolClosed is returned by Submit once Teardown has begun.
	ErrPoolClosed = errors.New("pool closed")
)

// Endpoint is the shared browser control endpoint all workers open their
// contexts on. *cdp.Runtime implements it.
type Endpoint interface {
	Connect(ctx context.Context) error
	Close() error
}

// SessionFactory builds the session a worker in slot drives.
type SessionFactory func(slot int) (worker.Session, error)

// Options configure dispatch and teardown timing.
type Options struct {
	// PollInterval is how long the dispatcher and the barriers wait before
	// rescanning worker records.
	PollInterval time.Duration

	// BarrierTimeout bounds each teardown barrier.
	BarrierTimeout time.Duration
}

// DefaultOptions returns the defaults used when a field is zero.
func DefaultOptions() Options {
	return Options{
		PollInterval:   500 * time.Millisecond,
		BarrierTimeout: 10 * time.Minute,
	}
}

// Scheduler is the pool master. Construct one with New and share it.
type Scheduler struct {
	store    *storage.Store
	endpoint Endpoint
	factory  SessionFactory
	opts     Options
	logger   *logging.Logger
	metrics  *telemetry.Metrics

	mu      sync.Mutex
	queue   []macro.Task
	workers []*worker.Worker

	wake    chan struct{}
	results chan macro.Result

	started atomic.Bool
	closing atomic.Bool
	closed  atomic.Bool

	cancel    context.CancelFunc
	pool      errgroup.Group
	loops     errgroup.Group
	closeOnce sync.Once
	closeErr  error
}

// New creates a scheduler. metrics may be nil.
func New(store *storage.Store, endpoint Endpoint, factory SessionFactory, opts Options, logger *logging.Logger, metrics *telemetry.Metrics) *Scheduler {
	defaults := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.BarrierTimeout <= 0 {
		opts.BarrierTimeout = defaults.BarrierTimeout
	}
	if logger == nil {
		logger = logging.New(logging.Options{})
	}
	return &Scheduler{
		store:    store,
		endpoint: endpoint,
		factory:  factory,
		opts:     opts,
		logger:   logger,
		metrics:  metrics,
		wake:     make(chan struct{}, 1),
	}
}

// Start connects the shared endpoint, spawns one worker per slot and sends
// each its init task. Workers, the dispatcher and the result consumer run
// until Teardown or Close.
func (s *Scheduler) Start(ctx context.Context, poolSize int) error {
	if poolSize < 1 {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "pool size must be at least 1").
			WithContext("pool_size", poolSize)
	}
	if s.started.Swap(true) {
		return fmt.Errorf("scheduler already started")
	}

	if err := s.endpoint.Connect(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeBrowserUnavailable, "connect browser control endpoint")
	}
	if err := s.store.ResetWorkers(ctx); err != nil {
		_ = s.endpoint.Close()
		return apperrors.Wrap(err, apperrors.ErrCodeStorageWrite, "reset worker records")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.results = make(chan macro.Result, poolSize*8)

	for slot := 0; slot < poolSize; slot++ {
		session, err := s.factory(slot)
		if err != nil {
			s.abort()
			return fmt.Errorf("create session for worker %d: %w", slot, err)
		}
		w := worker.New(slot, session, s.results, s.logger)
		if err := s.store.InsertWorker(ctx, slot, w.UnitID()); err != nil {
			_ = session.Close()
			s.abort()
			return apperrors.Wrap(err, apperrors.ErrCodeStorageWrite, "insert worker record").
				WithContext("worker", slot)
		}

		s.mu.Lock()
		s.workers = append(s.workers, w)
		s.mu.Unlock()

		s.pool.Go(func() error {
			// Cancellation is how Close stops a healthy worker.
			if err := w.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("worker %d: %w", w.ID(), err)
			}
			return nil
		})
		if err := w.Send(ctx, macro.Task{Action: macro.ActionInit, SessionToken: logging.SystemToken}); err != nil {
			s.logger.Error(logging.CategoryScheduler, "init_send_failed",
				fmt.Sprintf("Could not send init to worker %d: %v", slot, err), nil)
		}
	}

	// The results channel closes once every worker goroutine has returned,
	// which lets the consumer drain the final reports.
	go func() {
		_ = s.pool.Wait()
		close(s.results)
	}()
	s.loops.Go(func() error {
		s.consume()
		return nil
	})
	s.loops.Go(func() error {
		s.dispatch(runCtx)
		return nil
	})

	s.logger.Info(logging.CategoryScheduler, "pool_started",
		fmt.Sprintf("Started %d workers", poolSize), map[string]any{"workers": poolSize})
	return nil
}

// abort unwinds a partially started pool.
func (s *Scheduler) abort() {
	s.cancel()
	go func() {
		_ = s.pool.Wait()
		close(s.results)
	}()
	go s.consume()
	_ = s.endpoint.Close()
	s.closed.Store(true)
}

// Submit appends task to the queue and wakes the dispatcher. It never
// blocks; the outcome is observed through the macro record.
func (s *Scheduler) Submit(task macro.Task) error {
	if s.closing.Load() || s.closed.Load() {
		return apperrors.Wrap(ErrPoolClosed, apperrors.ErrCodePoolClosed, "scheduler is shutting down")
	}
	s.mu.Lock()
	s.queue = append(s.queue, task)
	depth := len(s.queue)
	s.mu.Unlock()

	s.metrics.SetQueueDepth(depth)
	s.signal()
	return nil
}

// QueueLen returns the number of tasks waiting for a worker.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Workers returns the current worker records in slot order.
func (s *Scheduler) Workers(ctx context.Context) ([]storage.WorkerRecord, error) {
	return s.store.ListWorkers(ctx)
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) peek() (macro.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return macro.Task{}, false
	}
	return s.queue[0], true
}

func (s *Scheduler) pop() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue[0] = macro.Task{}
	s.queue = s.queue[1:]
	return len(s.queue)
}

func (s *Scheduler) worker(id int) *worker.Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || id >= len(s.workers) {
		return nil
	}
	return s.workers[id]
}

// dispatch is the single dispatcher goroutine. Only it pops the queue.
func (s *Scheduler) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
		s.drain(ctx)
	}
}

// drain hands out queued tasks in submission order until the queue is
// empty, sleeping PollInterval whenever no worker is idle.
func (s *Scheduler) drain(ctx context.Context) {
	for {
		task, ok := s.peek()
		if !ok {
			return
		}

		id, claimed, err := s.store.ClaimIdleWorker(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error(logging.CategoryScheduler, "claim_failed", "Claiming an idle worker failed: "+err.Error(), nil)
		}
		if err != nil || !claimed {
			if !sleep(ctx, s.opts.PollInterval) {
				return
			}
			continue
		}

		w := s.worker(id)
		if w == nil {
			s.unhandled(id, task, fmt.Errorf("no worker for slot %d", id))
			_ = s.store.MarkWorkerExited(ctx, id, "no worker for slot")
			continue
		}
		if err := s.send(ctx, w, task); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.unhandled(id, task, err)
			if errors.Is(err, worker.ErrWorkerExited) {
				_ = s.store.MarkWorkerExited(ctx, id, err.Error())
			} else {
				_ = s.store.ReleaseClaim(ctx, id)
			}
			continue
		}

		depth := s.pop()
		s.metrics.SetQueueDepth(depth)
		s.logger.Debug(logging.CategoryScheduler, "dispatched",
			fmt.Sprintf("Dispatched %s %s to worker %d", task.Action, task.MacroID, id), nil)
	}
}

// send hands task to a claimed worker inside a dispatch span.
func (s *Scheduler) send(ctx context.Context, w *worker.Worker, task macro.Task) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "scheduler.dispatch", trace.WithAttributes(
		telemetry.AttrWorkerID.Int(w.ID()),
		telemetry.AttrMacroID.String(task.MacroID),
		telemetry.AttrAction.String(string(task.Action)),
		telemetry.AttrQueueDepth.Int(s.QueueLen()),
	))
	defer func() { telemetry.EndSpan(span, err) }()
	return w.Send(ctx, task)
}

// consume persists every worker report until the results channel closes.
func (s *Scheduler) consume() {
	for res := range s.results {
		s.persist(res)
	}
}

const persistTimeout = 10 * time.Second

func (s *Scheduler) persist(res macro.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	report := storage.WorkerReport{
		ID:           res.WorkerID,
		Status:       res.Status,
		Action:       res.Action,
		Message:      res.Message,
		MacroID:      res.MacroID,
		SessionToken: res.SessionToken,
	}
	if err := s.store.UpdateWorker(ctx, report); err != nil {
		s.logger.Error(logging.CategoryScheduler, "persist_failed",
			fmt.Sprintf("Persisting report of worker %d failed: %v", res.WorkerID, err), nil)
	}

	if res.Action.Kind() == macro.KindTest && res.MacroID != "" {
		s.persistMacro(ctx, res)
	}

	switch {
	case res.Fault:
		s.unhandled(res.WorkerID, macro.Task{Action: res.Action, SessionToken: res.SessionToken, MacroID: res.MacroID}, errors.New(res.Message))
		s.metrics.WorkerFault()
		if err := s.store.MarkWorkerExited(ctx, res.WorkerID, res.Message); err != nil {
			s.logger.Error(logging.CategoryScheduler, "persist_failed", err.Error(), nil)
		}
	case res.Action.Kind() == macro.KindTeardown && res.Status == macro.StatusCompleted:
		if err := s.store.MarkWorkerExited(ctx, res.WorkerID, res.Message); err != nil {
			s.logger.Error(logging.CategoryScheduler, "persist_failed", err.Error(), nil)
		}
	}

	s.refreshWorkerGauge(ctx)
}

func (s *Scheduler) persistMacro(ctx context.Context, res macro.Result) {
	var err error
	switch {
	case res.Status == macro.StatusRunning:
		err = s.store.MarkMacroRunning(ctx, res.SessionToken, res.MacroID, res.At)
	case res.Status.Terminal():
		err = s.store.FinishMacro(ctx, res.SessionToken, res.MacroID, res.Status, res.Message, res.At)
		if err == nil {
			s.metrics.MacroFinished(res.Status, s.macroSeconds(ctx, res))
		}
		if aerr := s.store.SetMacroArtifacts(ctx, res.SessionToken, res.MacroID, res.RecordingArtifact, res.LogArtifact); aerr != nil && !errors.Is(aerr, storage.ErrMacroNotFound) {
			s.logger.Warn(logging.CategoryScheduler, "artifacts_failed", aerr.Error(), nil)
		}
	default:
		return
	}

	switch {
	case err == nil:
	case errors.Is(err, storage.ErrMacroNotFound):
		// Tasks submitted without a macro record only update the worker.
	case errors.Is(err, storage.ErrStaleTransition):
		s.logger.Warn(logging.CategoryScheduler, "stale_transition",
			fmt.Sprintf("Ignoring %s for macro %s: already finished", res.Status, res.MacroID), nil)
	default:
		s.logger.Error(logging.CategoryScheduler, "persist_failed",
			fmt.Sprintf("Persisting macro %s failed: %v", res.MacroID, err), nil)
	}
}

func (s *Scheduler) macroSeconds(ctx context.Context, res macro.Result) float64 {
	rec, err := s.store.GetMacro(ctx, res.SessionToken, res.MacroID)
	if err != nil || rec.StartedAt == nil || rec.CompletedAt == nil {
		return 0
	}
	return rec.CompletedAt.Sub(*rec.StartedAt).Seconds()
}

func (s *Scheduler) refreshWorkerGauge(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	records, err := s.store.ListWorkers(ctx)
	if err != nil {
		return
	}
	counts := make(map[macro.Status]int, 4)
	for _, rec := range records {
		counts[rec.Status]++
	}
	s.metrics.SetWorkers(counts)
}

// unhandled logs a worker error the scheduler cannot recover from. The
// worker record keeps its last status.
func (s *Scheduler) unhandled(id int, task macro.Task, err error) {
	workerID := id
	s.logger.Log(logging.Event{
		Level:        logging.LevelError,
		Category:     logging.CategoryScheduler,
		EventType:    "unhandled_worker_error",
		SessionToken: task.SessionToken,
		WorkerID:     &workerID,
		MacroID:      task.MacroID,
		Message:      fmt.Sprintf("Unhandled worker error (%s): %v", task.Action, err),
		Details:      map[string]any{"action": string(task.Action)},
	})
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
