// Package logging records what a worker does on behalf of a session. Lines
// go to the process log immediately; when protocol logging is enabled the
// same events are persisted per session token and can be dumped to a JSON
// artifact after a failed macro.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Category represents the subsystem generating the log
type Category string

const (
	CategorySession   Category = "session"
	CategoryStep      Category = "step"
	CategoryWorker    Category = "worker"
	CategoryScheduler Category = "scheduler"
	CategoryRecorder  Category = "recorder"
	CategoryAuth      Category = "auth"
)

// SystemToken attributes events that belong to no client session.
const SystemToken = "system"

// Event represents a structured log event
type Event struct {
	Timestamp    time.Time      `json:"timestamp"`
	Level        Level          `json:"level"`
	Category     Category       `json:"category"`
	EventType    string         `json:"type"`
	SessionToken string         `json:"session_token,omitempty"`
	WorkerID     *int           `json:"worker_id,omitempty"`
	MacroID      string         `json:"macro_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	Message      string         `json:"message,omitempty"`
}

// Sink persists protocol events. The storage package implements it.
type Sink interface {
	AppendProtocol(ctx context.Context, event Event) error
	ListProtocol(ctx context.Context, token string) ([]Event, error)
}

// Options configure a Logger.
type Options struct {
	Sink     Sink
	Output   *log.Logger
	Enabled  bool
	Dir      string
	MinLevel Level
}

// Logger writes structured events to the process log and, when enabled,
// to the protocol sink.
type Logger struct {
	sink     Sink
	out      *log.Logger
	token    string
	workerID *int
	macroID  string

	mu           sync.Mutex
	enabled      bool
	dir          string
	minLevel     Level
	lastArtifact string
}

// New creates a logger bound to the system token.
func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = log.Default()
	}
	minLevel := opts.MinLevel
	if minLevel == "" {
		minLevel = LevelInfo
	}
	return &Logger{
		sink:     opts.Sink,
		out:      out,
		token:    SystemToken,
		enabled:  opts.Enabled,
		dir:      opts.Dir,
		minLevel: minLevel,
	}
}

// ForWorker returns a logger that tags every event with the worker id.
// Settings are copied, not shared.
func (l *Logger) ForWorker(id int) *Logger {
	if l == nil {
		return nil
	}
	child := l.clone()
	child.workerID = &id
	return child
}

// Bind attributes subsequent events to a session token and macro id.
func (l *Logger) Bind(token, macroID string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if token == "" {
		token = SystemToken
	}
	l.token = token
	l.macroID = macroID
}

// Token returns the bound session token.
func (l *Logger) Token() string {
	if l == nil {
		return ""
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.token
}

// SetEnabled toggles protocol persistence.
func (l *Logger) SetEnabled(enabled bool) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.enabled = enabled
	l.mu.Unlock()
}

// Enabled reports whether protocol persistence is on.
func (l *Logger) Enabled() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// SetDir changes where Dump writes artifacts.
func (l *Logger) SetDir(dir string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.dir = dir
	l.mu.Unlock()
}

// SetMinLevel sets the minimum log level
func (l *Logger) SetMinLevel(level Level) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

// LastArtifact returns the name of the last dumped protocol.
func (l *Logger) LastArtifact() string {
	if l == nil {
		return ""
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastArtifact
}

// ResetArtifact forgets the last dumped protocol.
func (l *Logger) ResetArtifact() {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.lastArtifact = ""
	l.mu.Unlock()
}

// Log writes an event to the process log and the protocol sink.
func (l *Logger) Log(event Event) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.SessionToken == "" {
		event.SessionToken = l.token
	}
	if event.WorkerID == nil {
		event.WorkerID = l.workerID
	}
	if event.MacroID == "" {
		event.MacroID = l.macroID
	}
	if !shouldLog(event.Level, l.minLevel) {
		l.mu.Unlock()
		return nil
	}
	persist := l.enabled && l.sink != nil
	l.mu.Unlock()

	l.out.Print(prefix(event) + " " + event.Message)

	if !persist {
		return nil
	}
	if err := l.sink.AppendProtocol(context.Background(), event); err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}
	return nil
}

// prefix renders "[LEVEL | token | Worker n]"; the token is cut to eight
// characters so JWTs stay readable.
func prefix(event Event) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(strings.ToUpper(string(event.Level)))
	if token := event.SessionToken; token != "" {
		if len(token) > 8 {
			token = token[:8]
		}
		b.WriteString(" | ")
		b.WriteString(token)
	}
	if event.WorkerID != nil {
		fmt.Fprintf(&b, " | Worker %d", *event.WorkerID)
	}
	b.WriteString("]")
	return b.String()
}

func shouldLog(level, minLevel Level) bool {
	levels := map[Level]int{
		LevelDebug: 0,
		LevelInfo:  1,
		LevelWarn:  2,
		LevelError: 3,
	}
	return levels[level] >= levels[minLevel]
}

// Debug logs a debug event
func (l *Logger) Debug(category Category, eventType string, message string, details map[string]any) error {
	return l.Log(Event{
		Level:     LevelDebug,
		Category:  category,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

// Info logs an info event
func (l *Logger) Info(category Category, eventType string, message string, details map[string]any) error {
	return l.Log(Event{
		Level:     LevelInfo,
		Category:  category,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

// Warn logs a warning event
func (l *Logger) Warn(category Category, eventType string, message string, details map[string]any) error {
	return l.Log(Event{
		Level:     LevelWarn,
		Category:  category,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

// Error logs an error event
func (l *Logger) Error(category Category, eventType string, message string, details map[string]any) error {
	return l.Log(Event{
		Level:     LevelError,
		Category:  category,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

// Dump writes every persisted event of the bound session to
// <dir>/<name>.json and remembers name as the last artifact. It does
// nothing while protocol logging is disabled.
func (l *Logger) Dump(ctx context.Context, name string) (string, error) {
	if l == nil {
		return "", nil
	}
	l.mu.Lock()
	enabled, dir, token, sink := l.enabled, l.dir, l.token, l.sink
	l.mu.Unlock()
	if !enabled || sink == nil {
		return "", nil
	}

	events, err := sink.ListProtocol(ctx, token)
	if err != nil {
		return "", fmt.Errorf("failed to read protocol: %w", err)
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal protocol: %w", err)
	}
	path := filepath.Join(dir, name+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write protocol: %w", err)
	}

	l.mu.Lock()
	l.lastArtifact = name
	l.mu.Unlock()
	return path, nil
}

// ReadDump reads a protocol artifact written by Dump.
func ReadDump(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dump: %w", err)
	}
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("failed to parse dump: %w", err)
	}
	return events, nil
}

func (l *Logger) clone() *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{
		sink:     l.sink,
		out:      l.out,
		token:    l.token,
		workerID: l.workerID,
		macroID:  l.macroID,
		enabled:  l.enabled,
		dir:      l.dir,
		minLevel: l.minLevel,
	}
}
