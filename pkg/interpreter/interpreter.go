// Package interpreter executes macro entries against one page of the ERP
// terminal. A run is strictly sequential and stops at the first failing
// entry.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/odvcencio/intest/pkg/browser"
	apperrors "github.com/odvcencio/intest/pkg/errors"
	"github.com/odvcencio/intest/pkg/logging"
	"github.com/odvcencio/intest/pkg/macro"
)

// JobPlaceholder in a click target is replaced by the logged-in job number.
const JobPlaceholder = "||JBN||"

// Driver is the part of the remote application driver the interpreter
// needs. erp.PageDriver implements it.
type Driver interface {
	CurrentWindowID(ctx context.Context) (string, error)
	WindowIndex(ctx context.Context) (int, error)
	InvokeMenu(ctx context.Context, code string) error
	ButtonBar(ctx context.Context, windowID string) (map[string]string, error)
	GridCellClass(ctx context.Context, col, row int) (string, error)
	GridColumnID(ctx context.Context, col int) (string, error)
	AlertButtonID(ctx context.Context) (string, error)
	SelectSidePage(ctx context.Context, windowIndex, selection int) error
	ShowProgress(ctx context.Context, label string) error
}

// Options tune timing. Zero durations disable the corresponding wait.
type Options struct {
	Halt           time.Duration
	TypeDelay      time.Duration
	InitialSettle  time.Duration
	ElementTimeout time.Duration
	// JobNumber supplies the value for JobPlaceholder.
	JobNumber func() int
	// Sleep replaces the settle wait, mostly for tests.
	Sleep func(ctx context.Context, d time.Duration) error
	// AfterStep runs after every entry that succeeded. An error fails that
	// entry.
	AfterStep func(ctx context.Context) error
}

// DefaultOptions mirror the terminal's rendering pace.
func DefaultOptions() Options {
	return Options{
		Halt:           200 * time.Millisecond,
		TypeDelay:      10 * time.Millisecond,
		InitialSettle:  500 * time.Millisecond,
		ElementTimeout: 5 * time.Second,
	}
}

// StepError reports the entry a run stopped at.
type StepError struct {
	Index int
	Entry macro.Entry
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d %s failed: %v", e.Index+1, e.Entry, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Code classifies the failure for reporting.
func (e *StepError) Code() apperrors.ErrorCode {
	var gridErr *GridResolveError
	switch {
	case errors.Is(e.Err, browser.ErrElementNotFound):
		return apperrors.ErrCodeElementNotFound
	case errors.As(e.Err, &gridErr):
		return apperrors.ErrCodeGridResolve
	}
	return apperrors.ErrCodeStepFailed
}

// GridResolveError means an in-page grid lookup found nothing at the
// requested position.
type GridResolveError struct {
	Col int
	Row int
	// Header is set for column header lookups; Row is then unused.
	Header bool
	Err    error
}

func (e *GridResolveError) Error() string {
	target := fmt.Sprintf("cell %d^%d", e.Col, e.Row)
	if e.Header {
		target = fmt.Sprintf("header column %d", e.Col)
	}
	if e.Err != nil {
		return fmt.Sprintf("grid %s could not be resolved: %v", target, e.Err)
	}
	return fmt.Sprintf("grid %s could not be resolved", target)
}

func (e *GridResolveError) Unwrap() error {
	return e.Err
}

// Interpreter drives one page.
type Interpreter struct {
	page   browser.BrowserSession
	driver Driver
	logger *logging.Logger
	opts   Options
}

// New creates an interpreter. logger may be nil.
func New(page browser.BrowserSession, driver Driver, logger *logging.Logger, opts Options) *Interpreter {
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	if opts.JobNumber == nil {
		opts.JobNumber = func() int { return 0 }
	}
	return &Interpreter{page: page, driver: driver, logger: logger, opts: opts}
}

// Run executes entries in order. It waits InitialSettle before the first
// entry and returns a *StepError for the first entry that fails; later
// entries are not executed.
func (in *Interpreter) Run(ctx context.Context, entries []macro.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := in.opts.Sleep(ctx, in.opts.InitialSettle); err != nil {
		return err
	}
	for i, entry := range entries {
		label := entry.Key + " " + string(entry.Type)
		if err := in.driver.ShowProgress(ctx, label); err != nil {
			return &StepError{Index: i, Entry: entry, Err: fmt.Errorf("progress indicator: %w", err)}
		}
		in.logger.Info(logging.CategoryStep, "step", "step: "+label, map[string]any{"index": i})

		if err := in.step(ctx, entry); err != nil {
			stepErr := &StepError{Index: i, Entry: entry, Err: err}
			in.logger.Error(logging.CategoryStep, "step_failed", stepErr.Error(),
				map[string]any{"index": i, "code": string(stepErr.Code())})
			return stepErr
		}
	}
	return nil
}

func (in *Interpreter) step(ctx context.Context, entry macro.Entry) error {
	if err := in.Step(ctx, entry); err != nil {
		return err
	}
	if in.opts.AfterStep != nil {
		return in.opts.AfterStep(ctx)
	}
	return nil
}

// Step executes a single entry.
func (in *Interpreter) Step(ctx context.Context, entry macro.Entry) error {
	switch entry.Type {
	case macro.EntryClick:
		return in.click(ctx, fmt.Sprintf(`[id="%s"]`, entry.Key), 1)

	case macro.EntryKey:
		return in.press(ctx, browser.ParseKey(entry.Key))

	case macro.EntryMenu:
		if err := in.driver.InvokeMenu(ctx, entry.Key); err != nil {
			return err
		}
		return in.opts.Sleep(ctx, in.opts.Halt)

	case macro.EntryButtonBar:
		windowID, err := in.driver.CurrentWindowID(ctx)
		if err != nil {
			return err
		}
		buttons, err := in.driver.ButtonBar(ctx, windowID)
		if err != nil {
			return err
		}
		id, ok := buttons[strings.TrimSpace(entry.Key)]
		if !ok || id == "" {
			return fmt.Errorf("button %q not found in button bar of window %q", entry.Key, windowID)
		}
		return in.click(ctx, fmt.Sprintf(`[id="%s_%s"]`, windowID, id), 1)

	case macro.EntryMenuSelect:
		n, err := macro.ParseIndex(entry.Key)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if err := in.press(ctx, browser.KeyArrowDown); err != nil {
				return err
			}
		}
		return in.press(ctx, browser.KeyEnter)

	case macro.EntryEscape:
		return in.press(ctx, browser.KeyEscape)

	case macro.EntryGridClick, macro.EntryGridDoubleClick:
		col, row, err := macro.ParseGridCell(entry.Key)
		if err != nil {
			return err
		}
		class, err := in.driver.GridCellClass(ctx, col, row)
		if err != nil {
			return &GridResolveError{Col: col, Row: row, Err: err}
		}
		if class == "" {
			return &GridResolveError{Col: col, Row: row}
		}
		clicks := 1
		if entry.Type == macro.EntryGridDoubleClick {
			clicks = 2
		}
		return in.click(ctx, fmt.Sprintf(`[class="%s"]`, class), clicks)

	case macro.EntryGridHeaderClick:
		col, err := macro.ParseIndex(entry.Key)
		if err != nil {
			return err
		}
		id, err := in.driver.GridColumnID(ctx, col)
		if err != nil {
			return &GridResolveError{Col: col, Header: true, Err: err}
		}
		if id == "" {
			return &GridResolveError{Col: col, Header: true}
		}
		return in.click(ctx, fmt.Sprintf(`[id="%s"]`, id), 1)

	case macro.EntryAlertDismiss:
		id, err := in.driver.AlertButtonID(ctx)
		if err != nil {
			return err
		}
		if id == "" {
			return errors.New("no alert dialog shown")
		}
		return in.click(ctx, fmt.Sprintf(`a[id="%s"]`, id), 1)

	case macro.EntrySidePage:
		page, err := macro.ParseIndex(entry.Key)
		if err != nil {
			return err
		}
		if page < 1 {
			return fmt.Errorf("%w: side page index must be at least 1", macro.ErrInvalidEntry)
		}
		idx, err := in.driver.WindowIndex(ctx)
		if err != nil {
			return err
		}
		if err := in.click(ctx, fmt.Sprintf(`[id="SeitenMenue%d"] input`, idx), 1); err != nil {
			return err
		}
		return in.driver.SelectSidePage(ctx, idx, page-1)
	}
	return fmt.Errorf("%w: unknown entry type %q", macro.ErrInvalidEntry, entry.Type)
}

// Click waits for selector, then clicks it with the settle time on both
// sides. The job placeholder is substituted first.
func (in *Interpreter) Click(ctx context.Context, selector string) error {
	return in.click(ctx, selector, 1)
}

// Press sends key with the settle time on both sides.
func (in *Interpreter) Press(ctx context.Context, key browser.Key) error {
	return in.press(ctx, key)
}

// Type waits for selector and types text with the configured key delay.
func (in *Interpreter) Type(ctx context.Context, selector, text string) error {
	if err := in.opts.Sleep(ctx, in.opts.Halt); err != nil {
		return err
	}
	if err := in.page.WaitVisible(ctx, selector, in.opts.ElementTimeout); err != nil {
		return err
	}
	return in.page.Type(ctx, selector, text, in.opts.TypeDelay)
}

func (in *Interpreter) click(ctx context.Context, selector string, clicks int) error {
	selector = strings.ReplaceAll(selector, JobPlaceholder, fmt.Sprint(in.opts.JobNumber()))
	if err := in.opts.Sleep(ctx, in.opts.Halt); err != nil {
		return err
	}
	if err := in.page.WaitVisible(ctx, selector, in.opts.ElementTimeout); err != nil {
		return err
	}
	if err := in.page.Click(ctx, selector, clicks); err != nil {
		return err
	}
	return in.opts.Sleep(ctx, in.opts.Halt)
}

func (in *Interpreter) press(ctx context.Context, key browser.Key) error {
	if err := in.opts.Sleep(ctx, in.opts.Halt); err != nil {
		return err
	}
	if err := in.page.Press(ctx, key); err != nil {
		return err
	}
	return in.opts.Sleep(ctx, in.opts.Halt)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
