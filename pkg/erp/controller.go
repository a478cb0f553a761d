package erp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/odvcencio/intest/pkg/browser"
	apperrors "github.com/odvcencio/intest/pkg/errors"
	"github.com/odvcencio/intest/pkg/interpreter"
	"github.com/odvcencio/intest/pkg/logging"
	"github.com/odvcencio/intest/pkg/macro"
	"github.com/odvcencio/intest/pkg/recorder"
)

const (
	SelectorOperator    = `[data-componentid=name]`
	SelectorPassword    = `[data-componentid=kenn]`
	SelectorHomeMarker  = `[id=image-1033]`
	SelectorBackToLogin = `input[value="zum Login"]`

	// MainMenuCode is the menu entry that leaves every window.
	MainMenuCode = "000"
)

var (
	// ErrNoLicense means the terminal refused the login because every
	// license slot is in use.
	ErrNoLicense = errors.New("no license available")
	// ErrLogoutStuck means Escape never closed the active window.
	ErrLogoutStuck = errors.New("logout stuck: window still active")
	// ErrNotOpen is returned by operations that need an open page.
	ErrNotOpen = errors.New("session controller not open")
)

// ApplicationError carries the messages the terminal's own error handler
// raised while an entry ran.
type ApplicationError struct {
	Messages []string
}

func (e *ApplicationError) Error() string {
	return "application error: " + strings.Join(e.Messages, "; ")
}

// Config holds everything a Controller needs to reach and log into the
// terminal.
type Config struct {
	URL          string
	DevicePrefix string
	Operator     string
	Password     string
	Viewport     browser.Viewport

	Halt           time.Duration
	TypeDelay      time.Duration
	InitialSettle  time.Duration
	ElementTimeout time.Duration
	// LoginTimeout bounds the wait for the post-login and post-logout markers.
	LoginTimeout time.Duration
	EscapeLimit  int
	EscapePause  time.Duration

	Record     bool
	RecordPath string
	Log        bool
	LogPath    string
}

func (c Config) withDefaults() Config {
	if c.DevicePrefix == "" {
		c.DevicePrefix = "GBINT"
	}
	if c.Viewport.Width == 0 || c.Viewport.Height == 0 {
		c.Viewport = browser.DefaultSessionConfig().Viewport
	}
	if c.ElementTimeout == 0 {
		c.ElementTimeout = 5 * time.Second
	}
	if c.LoginTimeout == 0 {
		c.LoginTimeout = 30 * time.Second
	}
	if c.EscapeLimit == 0 {
		c.EscapeLimit = 100
	}
	if c.EscapePause == 0 {
		c.EscapePause = 10 * time.Millisecond
	}
	return c
}

// Controller owns the page of one worker slot: it logs in and out and
// runs macros on it.
type Controller struct {
	slot    int
	cfg     Config
	manager *browser.Manager
	logger  *logging.Logger

	mu       sync.Mutex
	page     browser.BrowserSession
	driver   Driver
	interp   *interpreter.Interpreter
	recorder *recorder.Recorder
	status   AppStatus
	loggedIn bool
}

// NewController creates the controller for slot. Open must be called
// before anything else.
func NewController(slot int, cfg Config, manager *browser.Manager, logger *logging.Logger) *Controller {
	return &Controller{
		slot:    slot,
		cfg:     cfg.withDefaults(),
		manager: manager,
		logger:  logger,
	}
}

// SessionID names the browser session of this slot.
func (c *Controller) SessionID() string {
	return fmt.Sprintf("worker-%d", c.slot)
}

// Device is the device identifier the terminal sees for this slot.
func (c *Controller) Device() string {
	return fmt.Sprintf("%s%d", c.cfg.DevicePrefix, c.slot)
}

// Open creates an isolated browser context and navigates to the terminal.
func (c *Controller) Open(ctx context.Context) error {
	page, err := c.manager.CreateSession(ctx, browser.SessionConfig{
		SessionID: c.SessionID(),
		Viewport:  c.cfg.Viewport,
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeBrowserUnavailable, "open browser session").
			WithContext("slot", c.slot)
	}
	c.attach(page, NewPageDriver(page))

	url := c.cfg.URL + "?Device=" + c.Device()
	if err := page.Navigate(ctx, url); err != nil {
		return err
	}
	c.logger.Info(logging.CategorySession, "opened", "Opened "+url, nil)
	return nil
}

// attach wires page-bound collaborators. Tests use it to inject a driver.
func (c *Controller) attach(page browser.BrowserSession, driver Driver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.page = page
	c.driver = driver
	c.recorder = recorder.New(page, c.logger, c.cfg.Record, c.cfg.RecordPath)
	c.interp = interpreter.New(page, driver, c.logger, interpreter.Options{
		Halt:           c.cfg.Halt,
		TypeDelay:      c.cfg.TypeDelay,
		InitialSettle:  c.cfg.InitialSettle,
		ElementTimeout: c.cfg.ElementTimeout,
		JobNumber:      c.jobNumber,
		AfterStep: func(ctx context.Context) error {
			return c.appErrors(ctx, driver)
		},
	})
}

// appErrors fails the current entry when the terminal reported an error
// while it ran. A page that cannot be queried is left to the next entry.
func (c *Controller) appErrors(ctx context.Context, driver Driver) error {
	msgs, err := driver.AppErrors(ctx)
	if err != nil {
		c.logger.Warn(logging.CategorySession, "app_errors_unreadable", "Could not read application errors: "+err.Error(), nil)
		return nil
	}
	if len(msgs) == 0 {
		return nil
	}
	c.logger.Error(logging.CategorySession, "app_errors", "Application reported errors: "+strings.Join(msgs, "; "),
		map[string]any{"errors": msgs})
	return &ApplicationError{Messages: msgs}
}

func (c *Controller) jobNumber() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status.Job
}

func (c *Controller) parts() (browser.BrowserSession, Driver, *interpreter.Interpreter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.page == nil {
		return nil, nil, nil, ErrNotOpen
	}
	return c.page, c.driver, c.interp, nil
}

// Login types the credentials, submits, waits for the home marker and
// parses the status banner.
func (c *Controller) Login(ctx context.Context) error {
	page, driver, interp, err := c.parts()
	if err != nil {
		return err
	}
	wrap := func(err error, step string) error {
		return apperrors.Wrap(err, apperrors.ErrCodeLoginFailed, "login failed").
			WithContext("step", step).
			WithContext("device", c.Device())
	}

	if err := interp.Type(ctx, SelectorOperator, c.cfg.Operator); err != nil {
		return wrap(err, "operator")
	}
	if err := interp.Type(ctx, SelectorPassword, c.cfg.Password); err != nil {
		return wrap(err, "password")
	}
	for i := 0; i < 2; i++ {
		if err := interp.Press(ctx, browser.KeyEnter); err != nil {
			return wrap(err, "submit")
		}
	}
	if err := page.WaitVisible(ctx, SelectorHomeMarker, c.cfg.LoginTimeout); err != nil {
		return wrap(err, "home")
	}

	lines, err := driver.ReadStatusBanner(ctx)
	if err != nil {
		return wrap(err, "status")
	}
	status, err := ParseStatusBanner(lines)
	if err != nil {
		return wrap(err, "status")
	}
	if err := driver.InstallErrorHook(ctx); err != nil {
		return wrap(err, "error_hook")
	}

	c.mu.Lock()
	c.status = status
	c.loggedIn = true
	c.mu.Unlock()
	c.logger.Info(logging.CategorySession, "login", "Logged in", map[string]any{
		"job":      status.Job,
		"operator": status.Operator,
		"tenant":   status.Tenant,
	})
	return nil
}

// CheckNoLicense reports whether the page shows the no-license message.
func (c *Controller) CheckNoLicense(ctx context.Context) (bool, error) {
	_, driver, _, err := c.parts()
	if err != nil {
		return false, err
	}
	return driver.NoLicenseShown(ctx)
}

// Logout presses Escape until no window is active, invokes the main menu
// and waits for the return-to-login control.
func (c *Controller) Logout(ctx context.Context) error {
	page, driver, interp, err := c.parts()
	if err != nil {
		return err
	}

	presses := 0
	for {
		id, err := driver.CurrentWindowID(ctx)
		if err != nil {
			return fmt.Errorf("logout: %w", err)
		}
		if id == "" {
			break
		}
		presses++
		if presses > c.cfg.EscapeLimit {
			c.logger.Error(logging.CategorySession, "logout_stuck",
				fmt.Sprintf("Logout failed (%d times Escape, window %s still active)", c.cfg.EscapeLimit, id), nil)
			return apperrors.Wrap(ErrLogoutStuck, apperrors.ErrCodeLogoutFailed, "logout failed").
				WithContext("window", id)
		}
		if err := interp.Press(ctx, browser.KeyEscape); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
		if err := pause(ctx, c.cfg.EscapePause); err != nil {
			return err
		}
	}

	if err := driver.InvokeMenu(ctx, MainMenuCode); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if err := pause(ctx, c.cfg.Halt); err != nil {
		return err
	}
	if err := page.WaitVisible(ctx, SelectorBackToLogin, c.cfg.LoginTimeout); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeLogoutFailed, "logout failed")
	}

	c.mu.Lock()
	c.loggedIn = false
	c.mu.Unlock()
	c.logger.Info(logging.CategorySession, "logout", "Logged out", nil)
	return nil
}

// Relogin logs in again when the return-to-login control is present and
// does nothing otherwise.
func (c *Controller) Relogin(ctx context.Context) error {
	page, _, interp, err := c.parts()
	if err != nil {
		return err
	}
	present, err := page.Exists(ctx, SelectorBackToLogin)
	if err != nil {
		return err
	}
	if !present {
		c.logger.Info(logging.CategorySession, "relogin_skipped", "No login required, already logged in?", nil)
		return nil
	}
	if err := interp.Click(ctx, SelectorBackToLogin); err != nil {
		return err
	}
	if err := page.WaitVisible(ctx, SelectorOperator, c.cfg.LoginTimeout); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeLoginFailed, "login page did not load")
	}
	return c.Login(ctx)
}

// RunMacro executes entries. An application error the terminal reports
// while an entry runs fails that entry with an *ApplicationError.
func (c *Controller) RunMacro(ctx context.Context, entries []macro.Entry) error {
	_, _, interp, err := c.parts()
	if err != nil {
		return err
	}
	return interp.Run(ctx, entries)
}

// ApplyOverrides resets recording and logging to the configured defaults
// and then applies the task's overrides. Artifact names of the previous
// task are forgotten.
func (c *Controller) ApplyOverrides(o macro.Overrides) {
	rec := c.Recorder()
	if rec != nil {
		rec.ResetArtifact()
	}
	c.logger.ResetArtifact()
	c.mu.Lock()
	record, recordPath := c.cfg.Record, c.cfg.RecordPath
	logEnabled, logPath := c.cfg.Log, c.cfg.LogPath
	c.mu.Unlock()
	if o.Record != nil {
		record = *o.Record
	}
	if o.RecordPath != "" {
		recordPath = o.RecordPath
	}
	if o.Log != nil {
		logEnabled = *o.Log
	}
	if o.LogPath != "" {
		logPath = o.LogPath
	}
	if rec != nil {
		rec.SetEnabled(record)
		rec.SetDir(recordPath)
	}
	c.logger.SetEnabled(logEnabled)
	c.logger.SetDir(logPath)
}

// SetArtifactDefaults replaces the recording and log defaults that the next
// ApplyOverrides starts from. A running task keeps its settings.
func (c *Controller) SetArtifactDefaults(record bool, recordPath string, log bool, logPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Record, c.cfg.RecordPath = record, recordPath
	c.cfg.Log, c.cfg.LogPath = log, logPath
}

// StartRecording starts a screencast named name when recording is enabled.
func (c *Controller) StartRecording(ctx context.Context, name string) error {
	if rec := c.Recorder(); rec != nil {
		return rec.StartRecording(ctx, name)
	}
	return nil
}

// StopRecording stops the active screencast, if any.
func (c *Controller) StopRecording() error {
	if rec := c.Recorder(); rec != nil {
		return rec.StopRecording()
	}
	return nil
}

// Screenshot captures the page when recording is enabled.
func (c *Controller) Screenshot(ctx context.Context, name string) error {
	if rec := c.Recorder(); rec != nil {
		return rec.Screenshot(ctx, name)
	}
	return nil
}

// DumpLog writes the session's protocol to a named artifact when logging
// is enabled.
func (c *Controller) DumpLog(ctx context.Context, name string) (string, error) {
	return c.logger.Dump(ctx, name)
}

// Artifacts returns the names of the last recording and log artifacts.
func (c *Controller) Artifacts() (recording, logName string) {
	if rec := c.Recorder(); rec != nil {
		recording = rec.LastArtifact()
	}
	return recording, c.logger.LastArtifact()
}

// Bind attributes the controller's log output to a session and macro.
func (c *Controller) Bind(token, macroID string) {
	c.logger.Bind(token, macroID)
}

// Status returns the metadata parsed at the last login.
func (c *Controller) Status() AppStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LoggedIn reports whether the last login has not been followed by a logout.
func (c *Controller) LoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedIn
}

// Interpreter returns the step interpreter bound to the page.
func (c *Controller) Interpreter() *interpreter.Interpreter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interp
}

// Recorder returns the media recorder bound to the page.
func (c *Controller) Recorder() *recorder.Recorder {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recorder
}

// Logger returns the worker's logger.
func (c *Controller) Logger() *logging.Logger {
	return c.logger
}

// Close stops recording and releases the browser context.
func (c *Controller) Close() error {
	c.mu.Lock()
	page, rec := c.page, c.recorder
	c.page, c.driver, c.interp = nil, nil, nil
	c.mu.Unlock()
	if page == nil {
		return nil
	}
	if rec != nil {
		_ = rec.StopRecording()
	}
	if c.manager == nil {
		return page.Close()
	}
	if err := c.manager.CloseSession(c.SessionID()); err != nil && !errors.Is(err, browser.ErrSessionClosed) {
		return err
	}
	return nil
}

func pause(ctx context.Context, d time.Duration) error {
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
