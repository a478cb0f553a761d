// Package worker runs one pool slot: it receives tasks on an inbox, drives
// its session controller through the init/test/endtest/teardown lifecycle
// and reports every transition on the shared results channel.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/intest/pkg/erp"
	apperrors "github.com/odvcencio/intest/pkg/errors"
	"github.com/odvcencio/intest/pkg/logging"
	"github.com/odvcencio/intest/pkg/macro"
	"github.com/odvcencio/intest/pkg/telemetry"
)

// ErrWorkerExited is returned by Send once the worker loop has returned.
var ErrWorkerExited = errors.New("worker exited")

// Session is what a worker drives. *erp.Controller implements it.
//
//go:generate mockgen -package=mocks -destination=mocks/mock_session.go github.com/odvcencio/intest/pkg/worker Session
type Session interface {
	Open(ctx context.Context) error
	Login(ctx context.Context) error
	CheckNoLicense(ctx context.Context) (bool, error)
	Logout(ctx context.Context) error
	Relogin(ctx context.Context) error
	RunMacro(ctx context.Context, entries []macro.Entry) error
	ApplyOverrides(o macro.Overrides)
	Bind(token, macroID string)
	StartRecording(ctx context.Context, name string) error
	StopRecording() error
	Screenshot(ctx context.Context, name string) error
	DumpLog(ctx context.Context, name string) (string, error)
	Artifacts() (recording, logName string)
	Close() error
}

var _ Session = (*erp.Controller)(nil)

// Worker executes one task at a time for its slot.
type Worker struct {
	id      int
	unitID  string
	session Session
	logger  *logging.Logger
	inbox   chan macro.Task
	results chan<- macro.Result
	done    chan struct{}
	now     func() time.Time
}

// New creates the worker for slot id. Results are sent on results, which
// the scheduler drains.
func New(id int, session Session, results chan<- macro.Result, logger *logging.Logger) *Worker {
	return &Worker{
		id:      id,
		unitID:  ulid.Make().String(),
		session: session,
		logger:  logger.ForWorker(id),
		inbox:   make(chan macro.Task, 1),
		results: results,
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

// ID is the slot index.
func (w *Worker) ID() int { return w.id }

// UnitID identifies this execution unit; it changes if a slot is refilled.
func (w *Worker) UnitID() string { return w.unitID }

// Done is closed when Run returns.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Send hands task to the worker. It blocks only while a previous task is
// still waiting in the inbox.
func (w *Worker) Send(ctx context.Context, task macro.Task) error {
	select {
	case <-w.done:
		return ErrWorkerExited
	default:
	}
	select {
	case w.inbox <- task:
		return nil
	case <-w.done:
		return ErrWorkerExited
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes tasks until a teardown completes, a fault occurs or ctx
// is cancelled. A fault is reported as a Result with Fault set before Run
// returns it.
func (w *Worker) Run(ctx context.Context) (err error) {
	defer close(w.done)
	defer func() {
		if cerr := w.session.Close(); cerr != nil {
			w.logger.Warn(logging.CategoryWorker, "close_failed", "Closing browser session failed: "+cerr.Error(), nil)
		}
	}()

	w.logger.Info(logging.CategoryWorker, "started", "Worker started", map[string]any{"unit": w.unitID})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task := <-w.inbox:
			exit, herr := w.handle(ctx, task)
			if herr != nil {
				w.fault(task, herr)
				return herr
			}
			if exit {
				w.logger.Info(logging.CategoryWorker, "exited", "Worker finished teardown", nil)
				return nil
			}
		}
	}
}

// handle dispatches one task. Panics become faults.
func (w *Worker) handle(ctx context.Context, task macro.Task) (exit bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, "worker."+task.Action.Kind().String(), trace.WithAttributes(
		telemetry.AttrWorkerID.Int(w.id),
		telemetry.AttrMacroID.String(task.MacroID),
		telemetry.AttrAction.String(string(task.Action)),
	))
	defer func() { telemetry.EndSpan(span, err) }()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error(logging.CategoryWorker, "panic", fmt.Sprint(r), map[string]any{"stack": string(debug.Stack())})
			err = apperrors.New(apperrors.ErrCodeWorkerFault, fmt.Sprintf("panic in %s: %v", task.Action, r))
		}
	}()

	w.session.Bind(task.SessionToken, task.MacroID)
	w.logger.Bind(task.SessionToken, task.MacroID)
	w.report(task, macro.StatusRunning, "", false)

	switch task.Action.Kind() {
	case macro.KindInit:
		return false, w.init(ctx, task)
	case macro.KindTest:
		return false, w.test(ctx, task)
	case macro.KindEndTest:
		return false, w.endTest(ctx, task)
	case macro.KindTeardown:
		return true, w.teardown(ctx, task)
	default:
		w.report(task, macro.StatusFailed, fmt.Sprintf("unsupported action %q", task.Action), false)
		return false, nil
	}
}

func (w *Worker) init(ctx context.Context, task macro.Task) error {
	if err := w.session.Open(ctx); err != nil {
		return err
	}
	if err := w.session.Login(ctx); err != nil {
		noLicense, checkErr := w.session.CheckNoLicense(ctx)
		if checkErr == nil && noLicense {
			w.logger.Error(logging.CategoryWorker, "no_license", erp.NoLicenseText, nil)
			w.report(task, macro.StatusFailed, erp.NoLicenseText, false)
			return nil
		}
		return err
	}
	w.report(task, macro.StatusCompleted, "Worker logged in and ready", false)
	return nil
}

// test runs the macro. Step failures are contained here: they produce a
// failed result, failure artifacts and an autonomous endtest.
func (w *Worker) test(ctx context.Context, task macro.Task) error {
	w.session.ApplyOverrides(task.Overrides)
	name := artifactName(task)
	if err := w.session.StartRecording(ctx, name); err != nil {
		w.logger.Warn(logging.CategoryRecorder, "recording_failed", "Could not start recording: "+err.Error(), nil)
	}

	trace.SpanFromContext(ctx).SetAttributes(telemetry.AttrEntries.Int(len(task.Entries)))
	runErr := w.session.RunMacro(ctx, task.Entries)
	if runErr == nil {
		if err := w.session.StopRecording(); err != nil {
			w.logger.Warn(logging.CategoryRecorder, "recording_failed", "Could not stop recording: "+err.Error(), nil)
		}
		w.report(task, macro.StatusCompleted,
			fmt.Sprintf("Macro %s completed successfully (%d entries)", task.MacroID, len(task.Entries)), true)
		return nil
	}

	w.logger.Error(logging.CategoryStep, "macro_failed", runErr.Error(), nil)
	trace.SpanFromContext(ctx).RecordError(runErr)
	trace.SpanFromContext(ctx).SetStatus(codes.Error, "macro failed")
	if err := w.session.Screenshot(ctx, name+"-failure"); err != nil {
		w.logger.Warn(logging.CategoryRecorder, "screenshot_failed", "Could not save screenshot: "+err.Error(), nil)
	}
	if _, err := w.session.DumpLog(ctx, name); err != nil {
		w.logger.Warn(logging.CategoryWorker, "dump_failed", "Could not write log artifact: "+err.Error(), nil)
	}
	w.report(task, macro.StatusFailed, fmt.Sprintf("Macro %s failed: %v", task.MacroID, runErr), true)

	end := macro.Task{Action: macro.ActionEndTest, SessionToken: task.SessionToken, MacroID: task.MacroID}
	w.report(end, macro.StatusRunning, "", false)
	return w.endTest(ctx, end)
}

func (w *Worker) endTest(ctx context.Context, task macro.Task) error {
	if err := w.session.Logout(ctx); err != nil {
		return err
	}
	if err := w.session.StopRecording(); err != nil {
		w.logger.Warn(logging.CategoryRecorder, "recording_failed", "Could not stop recording: "+err.Error(), nil)
	}
	if err := w.session.Relogin(ctx); err != nil {
		return err
	}
	w.report(task, macro.StatusCompleted, "Session reset", false)
	return nil
}

func (w *Worker) teardown(ctx context.Context, task macro.Task) error {
	if err := w.session.Logout(ctx); err != nil {
		return err
	}
	if err := w.session.StopRecording(); err != nil {
		w.logger.Warn(logging.CategoryRecorder, "recording_failed", "Could not stop recording: "+err.Error(), nil)
	}
	w.report(task, macro.StatusCompleted, "Worker torn down", false)
	return nil
}

// report sends a transition. withArtifacts attaches the artifact names
// produced so far.
func (w *Worker) report(task macro.Task, status macro.Status, message string, withArtifacts bool) {
	res := macro.Result{
		Status:       status,
		Action:       task.Action,
		WorkerID:     w.id,
		MacroID:      task.MacroID,
		SessionToken: task.SessionToken,
		Message:      message,
		At:           w.now(),
	}
	if withArtifacts {
		res.RecordingArtifact, res.LogArtifact = w.session.Artifacts()
	}
	w.results <- res
}

func (w *Worker) fault(task macro.Task, err error) {
	w.logger.Error(logging.CategoryWorker, "fault", err.Error(), map[string]any{"action": string(task.Action)})
	w.results <- macro.Result{
		Status:       macro.StatusFailed,
		Action:       task.Action,
		WorkerID:     w.id,
		MacroID:      task.MacroID,
		SessionToken: task.SessionToken,
		Message:      err.Error(),
		Fault:        true,
		At:           w.now(),
	}
}

func artifactName(task macro.Task) string {
	id := task.MacroID
	if id == "" {
		id = "macro"
	}
	return fmt.Sprintf("%s-%s", id, ulid.Make().String())
}
