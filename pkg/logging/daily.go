package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DailyWriter is an io.Writer that appends to <dir>/<prefix>-YYYY-MM-DD.log
// and switches files when the day changes.
type DailyWriter struct {
	dir     string
	prefix  string
	file    *os.File
	path    string
	mu      sync.Mutex
	lastDay string
	now     func() time.Time
}

// NewDailyWriter creates a writer in dir. prefix defaults to "intest".
func NewDailyWriter(dir, prefix string) (*DailyWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	if prefix == "" {
		prefix = "intest"
	}

	w := &DailyWriter{dir: dir, prefix: prefix, now: time.Now}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.rotateLocked(); err != nil {
		return nil, err
	}
	return w, nil
}

// Write appends p to today's file. Writes after Close are dropped.
func (w *DailyWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return len(p), nil
	}
	if w.now().Format("2006-01-02") != w.lastDay {
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
	}
	return w.file.Write(p)
}

// Path returns the current log file path.
func (w *DailyWriter) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

// Close closes the log file.
func (w *DailyWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		err := w.file.Close()
		w.file = nil
		return err
	}
	return nil
}

func (w *DailyWriter) rotateLocked() error {
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}

	today := w.now().Format("2006-01-02")
	w.lastDay = today
	w.path = filepath.Join(w.dir, w.prefix+"-"+today+".log")

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	w.file = file
	return nil
}
