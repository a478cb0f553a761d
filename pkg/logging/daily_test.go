package logging

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDailyWriter_Write(t *testing.T) {
	dir := t.TempDir()
	w, err := NewDailyWriter(dir, "")
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	defer w.Close()

	logger := log.New(w, "", 0)
	logger.Print("[INFO | system] scheduler started")
	w.Close()

	files, _ := filepath.Glob(filepath.Join(dir, "intest-*.log"))
	if len(files) != 1 {
		t.Fatalf("expected 1 log file, got %d", len(files))
	}

	content, _ := os.ReadFile(files[0])
	if !strings.Contains(string(content), "scheduler started") {
		t.Errorf("expected content in log file, got: %s", content)
	}
}

func TestDailyWriter_DateRotation(t *testing.T) {
	dir := t.TempDir()
	w, err := NewDailyWriter(dir, "worker")
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	defer w.Close()

	expected := filepath.Join(dir, "worker-"+time.Now().Format("2006-01-02")+".log")
	if w.Path() != expected {
		t.Errorf("expected path %s, got %s", expected, w.Path())
	}

	tomorrow := time.Now().Add(24 * time.Hour)
	w.mu.Lock()
	w.now = func() time.Time { return tomorrow }
	w.mu.Unlock()

	if _, err := w.Write([]byte("next day\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	want := filepath.Join(dir, "worker-"+tomorrow.Format("2006-01-02")+".log")
	if w.Path() != want {
		t.Errorf("expected rotation to %s, got %s", want, w.Path())
	}
}

func TestDailyWriter_WriteAfterClose(t *testing.T) {
	w, err := NewDailyWriter(t.TempDir(), "")
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	w.Close()

	n, err := w.Write([]byte("after close"))
	if err != nil {
		t.Errorf("expected nil error after close, got: %v", err)
	}
	if n != len("after close") {
		t.Errorf("n = %d", n)
	}
}
