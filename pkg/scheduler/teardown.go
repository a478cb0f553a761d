package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/odvcencio/intest/pkg/errors"
	"github.com/odvcencio/intest/pkg/logging"
	"github.com/odvcencio/intest/pkg/macro"
	"github.com/odvcencio/intest/pkg/storage"
)

// Teardown stops the pool gracefully. It waits until the queue is drained
// and every worker finished its current action, sends teardown to every
// live worker, waits until each reports teardown completed or exits, and
// then releases the control endpoint. Each wait is bounded by
// Options.BarrierTimeout; on timeout the pool is left running so the
// caller can retry or Close it.
func (s *Scheduler) Teardown(ctx context.Context) error {
	if !s.started.Load() || s.closed.Load() {
		return nil
	}
	s.closing.Store(true)
	s.logger.Info(logging.CategoryScheduler, "teardown_started", "Waiting for workers to finish", nil)

	if err := s.barrier(ctx, "current actions", s.actionsSettled); err != nil {
		return err
	}

	records, err := s.store.ListWorkers(ctx)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeStorageRead, "list workers")
	}
	for _, rec := range records {
		if rec.Exited {
			continue
		}
		w := s.worker(rec.ID)
		if w == nil {
			continue
		}
		task := macro.Task{Action: macro.ActionTeardown, SessionToken: logging.SystemToken}
		if err := w.Send(ctx, task); err != nil {
			s.unhandled(rec.ID, task, err)
		}
	}

	if err := s.barrier(ctx, "teardown", tornDown); err != nil {
		return err
	}

	s.logger.Info(logging.CategoryScheduler, "teardown_completed", "All workers torn down", nil)
	return s.Close()
}

// Close stops every goroutine without waiting for workers to settle and
// releases the control endpoint. It is safe to call more than once. The
// error joins the first worker fault, if any, with the endpoint close
// error.
func (s *Scheduler) Close() error {
	if !s.started.Load() {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		if s.cancel != nil {
			s.cancel()
		}
		_ = s.loops.Wait()
		// The consumer only returns after every worker did.
		poolErr := s.pool.Wait()
		if poolErr != nil {
			poolErr = apperrors.Wrap(poolErr, apperrors.ErrCodeWorkerFault, "worker fault")
		}
		s.closeErr = errors.Join(poolErr, s.endpoint.Close())
		s.closed.Store(true)
	})
	return s.closeErr
}

// actionsSettled holds when nothing is queued and no worker is busy. A
// worker that just failed a test is about to run its endtest, so it does
// not count as settled yet.
func (s *Scheduler) actionsSettled(records []storage.WorkerRecord) (bool, []int) {
	var busy []int
	for _, rec := range records {
		if rec.Exited {
			continue
		}
		switch {
		case rec.Claimed, rec.Status == macro.StatusRunning:
			busy = append(busy, rec.ID)
		case rec.Status == macro.StatusFailed && rec.Action.Kind() == macro.KindTest:
			busy = append(busy, rec.ID)
		}
	}
	return len(busy) == 0 && s.QueueLen() == 0, busy
}

func tornDown(records []storage.WorkerRecord) (bool, []int) {
	var busy []int
	for _, rec := range records {
		if rec.Exited {
			continue
		}
		if rec.Action.Kind() == macro.KindTeardown && rec.Status == macro.StatusCompleted {
			continue
		}
		busy = append(busy, rec.ID)
	}
	return len(busy) == 0, busy
}

// barrier polls worker records until done holds, ctx ends or the barrier
// timeout elapses.
func (s *Scheduler) barrier(ctx context.Context, name string, done func([]storage.WorkerRecord) (bool, []int)) error {
	deadline := time.Now().Add(s.opts.BarrierTimeout)
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	var busy []int
	for {
		records, err := s.store.ListWorkers(ctx)
		if err != nil && ctx.Err() == nil {
			s.logger.Warn(logging.CategoryScheduler, "barrier_read_failed", err.Error(), nil)
		}
		if err == nil {
			var ok bool
			if ok, busy = done(records); ok {
				return nil
			}
		}
		if !time.Now().Before(deadline) {
			return apperrors.Wrap(ErrBarrierTimeout, apperrors.ErrCodeBarrierTimeout,
				fmt.Sprintf("workers did not finish %s within %s", name, s.opts.BarrierTimeout)).
				WithContext("workers", busy)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
