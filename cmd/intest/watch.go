package main

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/odvcencio/intest/pkg/config"
	"github.com/odvcencio/intest/pkg/logging"
)

const reloadDebounce = 500 * time.Millisecond

var errNothingToWatch = errors.New("no config directory to watch")

// configWatcher reloads the configuration when one of its files changes.
// Editors often replace a file instead of writing it, so the parent
// directories are watched and events are filtered by path.
type configWatcher struct {
	fs       *fsnotify.Watcher
	files    map[string]bool
	load     func() (*config.Config, error)
	apply    func(*config.Config)
	logger   *logging.Logger
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
}

func newConfigWatcher(paths []string, load func() (*config.Config, error), apply func(*config.Config), logger *logging.Logger) (*configWatcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &configWatcher{
		fs:       fs,
		files:    make(map[string]bool),
		load:     load,
		apply:    apply,
		logger:   logger,
		debounce: reloadDebounce,
		done:     make(chan struct{}),
	}
	dirs := make(map[string]bool)
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			continue
		}
		w.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	watched := 0
	for dir := range dirs {
		if err := fs.Add(dir); err != nil {
			_ = logger.Debug(logging.CategoryScheduler, "config_watch_skipped", err.Error(), map[string]any{"dir": dir})
			continue
		}
		watched++
	}
	if watched == 0 {
		_ = fs.Close()
		return nil, errNothingToWatch
	}
	return w, nil
}

// Run delivers reloads until ctx ends or Close is called.
func (w *configWatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			_ = w.logger.Warn(logging.CategoryScheduler, "config_watch_error", err.Error(), nil)
		}
	}
}

func (w *configWatcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil || !w.files[abs] {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *configWatcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}
	cfg, err := w.load()
	if err != nil {
		_ = w.logger.Warn(logging.CategoryScheduler, "config_reload_failed", err.Error(), nil)
		return
	}
	w.apply(cfg)
	_ = w.logger.Info(logging.CategoryScheduler, "config_reloaded", "configuration reloaded", map[string]any{
		"level":  cfg.Logging.Level,
		"record": cfg.Artifacts.Record,
		"log":    cfg.Artifacts.Log,
	})
}

func (w *configWatcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

// Close stops watching. Pending reloads are dropped.
func (w *configWatcher) Close() error {
	w.mu.Lock()
	select {
	case <-w.done:
		w.mu.Unlock()
		return nil
	default:
		close(w.done)
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.fs.Close()
}
