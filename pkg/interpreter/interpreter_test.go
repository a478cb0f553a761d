package interpreter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/odvcencio/intest/pkg/browser"
	"github.com/odvcencio/intest/pkg/browser/mocks"
	apperrors "github.com/odvcencio/intest/pkg/errors"
	"github.com/odvcencio/intest/pkg/logging"
	"github.com/odvcencio/intest/pkg/macro"
)

type fakeDriver struct {
	windowID    string
	windowIndex int
	buttons     map[string]string
	cellClass   string
	cellErr     error
	columnID    string
	alertID     string

	menus      []string
	progress   []string
	sidePages  [][2]int
	cellLookup [][2]int
}

func (d *fakeDriver) CurrentWindowID(context.Context) (string, error) { return d.windowID, nil }
func (d *fakeDriver) WindowIndex(context.Context) (int, error)        { return d.windowIndex, nil }
func (d *fakeDriver) AlertButtonID(context.Context) (string, error)   { return d.alertID, nil }

func (d *fakeDriver) InvokeMenu(_ context.Context, code string) error {
	d.menus = append(d.menus, code)
	return nil
}

func (d *fakeDriver) ButtonBar(_ context.Context, windowID string) (map[string]string, error) {
	if windowID != d.windowID {
		return nil, fmt.Errorf("unexpected window %q", windowID)
	}
	return d.buttons, nil
}

func (d *fakeDriver) GridCellClass(_ context.Context, col, row int) (string, error) {
	d.cellLookup = append(d.cellLookup, [2]int{col, row})
	return d.cellClass, d.cellErr
}

func (d *fakeDriver) GridColumnID(context.Context, int) (string, error) { return d.columnID, nil }

func (d *fakeDriver) SelectSidePage(_ context.Context, windowIndex, selection int) error {
	d.sidePages = append(d.sidePages, [2]int{windowIndex, selection})
	return nil
}

func (d *fakeDriver) ShowProgress(_ context.Context, label string) error {
	d.progress = append(d.progress, label)
	return nil
}

type sleepLog struct {
	calls []time.Duration
}

func (s *sleepLog) sleep(_ context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return nil
}

func newTestInterpreter(t *testing.T) (*Interpreter, *mocks.MockBrowserSession, *fakeDriver, *sleepLog) {
	t.Helper()
	ctrl := gomock.NewController(t)
	page := mocks.NewMockBrowserSession(ctrl)
	driver := &fakeDriver{windowID: "win7", windowIndex: 3}
	sleeps := &sleepLog{}
	logger := logging.New(logging.Options{Output: log.New(io.Discard, "", 0)})
	in := New(page, driver, logger, Options{
		Halt:           200 * time.Millisecond,
		TypeDelay:      10 * time.Millisecond,
		InitialSettle:  time.Second,
		ElementTimeout: 5 * time.Second,
		JobNumber:      func() int { return 4711 },
		Sleep:          sleeps.sleep,
	})
	return in, page, driver, sleeps
}

func expectClick(page *mocks.MockBrowserSession, selector string, clicks int) *gomock.Call {
	wait := page.EXPECT().WaitVisible(gomock.Any(), selector, 5*time.Second).Return(nil)
	return page.EXPECT().Click(gomock.Any(), selector, clicks).Return(nil).After(wait)
}

func TestRunClickEntry(t *testing.T) {
	in, page, driver, sleeps := newTestInterpreter(t)
	expectClick(page, `[id="btnSave"]`, 1)

	err := in.Run(context.Background(), []macro.Entry{{Type: macro.EntryClick, Key: "btnSave"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"btnSave M"}, driver.progress)
	// initial settle, then halt before and after the click
	assert.Equal(t, []time.Duration{time.Second, 200 * time.Millisecond, 200 * time.Millisecond}, sleeps.calls)
}

func TestRunSubstitutesJobNumber(t *testing.T) {
	in, page, _, _ := newTestInterpreter(t)
	expectClick(page, `[id="job4711_ok"]`, 1)

	err := in.Run(context.Background(), []macro.Entry{{Type: macro.EntryClick, Key: "job||JBN||_ok"}})
	require.NoError(t, err)
}

func TestRunKeyAndEscape(t *testing.T) {
	in, page, _, _ := newTestInterpreter(t)
	gomock.InOrder(
		page.EXPECT().Press(gomock.Any(), browser.KeyF5).Return(nil),
		page.EXPECT().Press(gomock.Any(), browser.KeyEscape).Return(nil),
	)

	err := in.Run(context.Background(), []macro.Entry{
		{Type: macro.EntryKey, Key: "F5"},
		{Type: macro.EntryEscape},
	})
	require.NoError(t, err)
}

func TestRunMenuEntry(t *testing.T) {
	in, _, driver, sleeps := newTestInterpreter(t)

	err := in.Run(context.Background(), []macro.Entry{{Type: macro.EntryMenu, Key: "000"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"000"}, driver.menus)
	assert.Equal(t, []time.Duration{time.Second, 200 * time.Millisecond}, sleeps.calls)
}

func TestRunButtonBar(t *testing.T) {
	in, page, driver, _ := newTestInterpreter(t)
	driver.buttons = map[string]string{"Speichern": "B12", "Neu": "B01"}
	expectClick(page, `[id="win7_B12"]`, 1)

	require.NoError(t, in.Run(context.Background(), []macro.Entry{{Type: macro.EntryButtonBar, Key: "Speichern"}}))

	err := in.Run(context.Background(), []macro.Entry{{Type: macro.EntryButtonBar, Key: "Drucken"}})
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Contains(t, err.Error(), "Drucken")
}

func TestRunMenuSelect(t *testing.T) {
	in, page, _, _ := newTestInterpreter(t)
	gomock.InOrder(
		page.EXPECT().Press(gomock.Any(), browser.KeyArrowDown).Return(nil).Times(3),
		page.EXPECT().Press(gomock.Any(), browser.KeyEnter).Return(nil),
	)

	require.NoError(t, in.Run(context.Background(), []macro.Entry{{Type: macro.EntryMenuSelect, Key: "3"}}))
}

func TestRunGridClicks(t *testing.T) {
	in, page, driver, _ := newTestInterpreter(t)
	driver.cellClass = "x-grid-cell x-grid-td r2c1"
	expectClick(page, `[class="x-grid-cell x-grid-td r2c1"]`, 1)
	expectClick(page, `[class="x-grid-cell x-grid-td r2c1"]`, 2)

	err := in.Run(context.Background(), []macro.Entry{
		{Type: macro.EntryGridClick, Key: "1^2"},
		{Type: macro.EntryGridDoubleClick, Key: "1^2"},
	})
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{1, 2}, {1, 2}}, driver.cellLookup)
}

func TestRunGridResolveFailure(t *testing.T) {
	in, _, driver, _ := newTestInterpreter(t)
	driver.cellClass = ""

	entry := macro.Entry{Type: macro.EntryGridClick, Key: "4^9"}
	err := in.Run(context.Background(), []macro.Entry{entry})

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	var gridErr *GridResolveError
	require.ErrorAs(t, err, &gridErr)
	assert.Equal(t, 4, gridErr.Col)
	assert.Equal(t, 9, gridErr.Row)
	assert.Equal(t, apperrors.ErrCodeGridResolve, stepErr.Code())
	assert.Contains(t, err.Error(), entry.String())
}

func TestRunHeaderAndAlert(t *testing.T) {
	in, page, driver, _ := newTestInterpreter(t)
	driver.columnID = "gridcolumn-1044"
	driver.alertID = "button-1005"
	expectClick(page, `[id="gridcolumn-1044"]`, 1)
	expectClick(page, `a[id="button-1005"]`, 1)

	err := in.Run(context.Background(), []macro.Entry{
		{Type: macro.EntryGridHeaderClick, Key: "2"},
		{Type: macro.EntryAlertDismiss},
	})
	require.NoError(t, err)
}

func TestRunSidePage(t *testing.T) {
	in, page, driver, _ := newTestInterpreter(t)
	expectClick(page, `[id="SeitenMenue3"] input`, 1)

	require.NoError(t, in.Run(context.Background(), []macro.Entry{{Type: macro.EntrySidePage, Key: "2"}}))
	assert.Equal(t, [][2]int{{3, 1}}, driver.sidePages)
}

func TestRunFailFast(t *testing.T) {
	in, page, driver, _ := newTestInterpreter(t)
	missing := `[id="doesNotExist"]`
	notFound := browser.NewElementError(missing, 5*time.Second, context.DeadlineExceeded)

	expectClick(page, `[id="first"]`, 1)
	page.EXPECT().WaitVisible(gomock.Any(), missing, 5*time.Second).Return(notFound)
	// nothing after the failing entry may touch the page

	entries := []macro.Entry{
		{Type: macro.EntryClick, Key: "first"},
		{Type: macro.EntryClick, Key: "doesNotExist"},
		{Type: macro.EntryClick, Key: "never"},
		{Type: macro.EntryMenu, Key: "000"},
	}
	err := in.Run(context.Background(), entries)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 1, stepErr.Index)
	assert.Equal(t, entries[1], stepErr.Entry)
	assert.ErrorIs(t, err, browser.ErrElementNotFound)
	assert.Equal(t, apperrors.ErrCodeElementNotFound, stepErr.Code())
	assert.Contains(t, err.Error(), `{"type":"M","key":"doesNotExist"}`)
	assert.Empty(t, driver.menus)
	assert.Len(t, driver.progress, 2)
}

func TestRunAfterStepFailsTheEntry(t *testing.T) {
	ctrl := gomock.NewController(t)
	page := mocks.NewMockBrowserSession(ctrl)
	driver := &fakeDriver{windowID: "win7", windowIndex: 3}
	rejected := errors.New("record locked")
	checks := 0
	in := New(page, driver, nil, Options{
		Sleep: func(context.Context, time.Duration) error { return nil },
		AfterStep: func(context.Context) error {
			checks++
			if checks == 2 {
				return rejected
			}
			return nil
		},
	})

	entries := []macro.Entry{
		{Type: macro.EntryMenu, Key: "100"},
		{Type: macro.EntryMenu, Key: "200"},
		{Type: macro.EntryMenu, Key: "300"},
	}
	err := in.Run(context.Background(), entries)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 1, stepErr.Index)
	assert.Equal(t, entries[1], stepErr.Entry)
	assert.ErrorIs(t, err, rejected)
	assert.Equal(t, []string{"100", "200"}, driver.menus)
	assert.Equal(t, 2, checks)
}

func TestRunInvalidEntry(t *testing.T) {
	in, _, _, _ := newTestInterpreter(t)

	err := in.Run(context.Background(), []macro.Entry{{Type: macro.EntryMenuSelect, Key: "x"}})
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, apperrors.ErrCodeStepFailed, stepErr.Code())

	err = in.Step(context.Background(), macro.Entry{Type: "NOPE"})
	assert.ErrorIs(t, err, macro.ErrInvalidEntry)
}

func TestRunEmptyDoesNothing(t *testing.T) {
	in, _, driver, sleeps := newTestInterpreter(t)
	require.NoError(t, in.Run(context.Background(), nil))
	assert.Empty(t, driver.progress)
	assert.Empty(t, sleeps.calls)
}

func TestRunCancelled(t *testing.T) {
	ctrl := gomock.NewController(t)
	page := mocks.NewMockBrowserSession(ctrl)
	in := New(page, &fakeDriver{}, nil, Options{InitialSettle: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := in.Run(ctx, []macro.Entry{{Type: macro.EntryEscape}})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestType(t *testing.T) {
	in, page, _, _ := newTestInterpreter(t)
	gomock.InOrder(
		page.EXPECT().WaitVisible(gomock.Any(), "[data-componentid=name]", 5*time.Second).Return(nil),
		page.EXPECT().Type(gomock.Any(), "[data-componentid=name]", "001", 10*time.Millisecond).Return(nil),
	)
	require.NoError(t, in.Type(context.Background(), "[data-componentid=name]", "001"))
}
