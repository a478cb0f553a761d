// Command intest runs the macro test service: it drives a pool of logged-in
// terminal sessions in a shared browser and executes submitted macros.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/odvcencio/intest/pkg/api"
	"github.com/odvcencio/intest/pkg/auth"
	"github.com/odvcencio/intest/pkg/browser"
	"github.com/odvcencio/intest/pkg/browser/adapters/cdp"
	"github.com/odvcencio/intest/pkg/bus"
	"github.com/odvcencio/intest/pkg/config"
	apperrors "github.com/odvcencio/intest/pkg/errors"
	"github.com/odvcencio/intest/pkg/logging"
	"github.com/odvcencio/intest/pkg/scheduler"
	"github.com/odvcencio/intest/pkg/storage"
	"github.com/odvcencio/intest/pkg/telemetry"
)

var loadConfigFn = config.Load
var loadConfigFromPathFn = config.LoadFromPath

type options struct {
	configPath string
	workers    int
	addr       string
}

func parseOptions(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("intest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.configPath, "config", "", "path to a config file (default: ~/.intest/config.yaml and ./intest.yaml)")
	fs.IntVar(&opts.workers, "workers", 0, "number of worker sessions (overrides pool.workers)")
	fs.StringVar(&opts.addr, "addr", "", "HTTP listen address (overrides http.addr)")
	if err := fs.Parse(args); err != nil {
		return opts, withExitCode(err, 2)
	}
	if fs.NArg() > 0 {
		return opts, withExitCode(fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " ")), 2)
	}
	if opts.workers < 0 {
		return opts, withExitCode(fmt.Errorf("-workers must be positive"), 2)
	}
	return opts, nil
}

func loadConfig(opts options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = loadConfigFromPathFn(opts.configPath)
	} else {
		cfg, err = loadConfigFn()
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfigLoad, "load configuration")
	}
	if opts.workers > 0 {
		cfg.Pool.Workers = opts.workers
	}
	if opts.addr != "" {
		cfg.HTTP.Addr = opts.addr
	}
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "invalid configuration")
	}
	return cfg, nil
}

func main() {
	opts, err := parseOptions(os.Args[1:])
	if err == nil {
		err = run(opts)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeForError(err))
	}
}

func run(opts options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	out := io.Writer(os.Stderr)
	if cfg.Logging.Dir != "" {
		daily, err := logging.NewDailyWriter(cfg.Logging.Dir, "intest")
		if err != nil {
			return withExitCode(err, 2)
		}
		defer daily.Close()
		out = io.MultiWriter(os.Stderr, daily)
	}
	processLog := log.New(out, "", log.LstdFlags)
	for _, warning := range cfg.ValidationWarnings() {
		processLog.Printf("warning: %s", warning)
	}

	store, err := storage.New(cfg.Storage.Path)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeStorageRead, "open store")
	}
	defer store.Close()
	if version, err := store.SchemaVersion(); err == nil {
		processLog.Printf("store %s ready (schema v%d)", cfg.Storage.Path, version)
	}

	protocol := store.NewBatchWriter(100, 250*time.Millisecond)
	protocol.OnError(func(err error) { processLog.Printf("protocol flush failed: %v", err) })
	defer protocol.Close()

	logger := logging.New(logging.Options{
		Sink:     protocol,
		Output:   processLog,
		Enabled:  true,
		Dir:      cfg.Artifacts.LogPath,
		MinLevel: logging.Level(strings.ToLower(cfg.Logging.Level)),
	})

	messageBus, err := bus.New(cfg.BusConfig())
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "connect message bus")
	}
	defer messageBus.Close()
	store.AddObserver(bus.NewStorageBridge(messageBus, processLog))

	runtime, err := cdp.NewRuntime(cfg.CDP())
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "browser adapter")
	}
	browserMetrics := browser.NewMetrics()
	manager := browser.NewManager(runtime, browserMetrics)
	defer func() {
		if n := manager.Active(); n > 0 {
			processLog.Printf("closing %d open browser pages", n)
		}
		if err := manager.Close(); err != nil {
			processLog.Printf("browser close: %v", err)
		}
	}()
	metrics := telemetry.New(browserMetrics)

	tracer, err := startTracing(cfg.Tracing)
	if err != nil {
		return withExitCode(err, 2)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(ctx); err != nil {
			processLog.Printf("trace flush: %v", err)
		}
	}()

	controllers := newControllerSet(cfg.ERP(), manager, logger)
	sched := scheduler.New(store, runtime, controllers.factory, cfg.SchedulerOptions(), logger, metrics)

	issuer, err := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TTL)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx, cfg.Pool.Workers); err != nil {
		return err
	}
	_ = logger.Info(logging.CategoryScheduler, "pool_started", fmt.Sprintf("started %d workers", cfg.Pool.Workers), nil)

	statusSub, err := servePoolStatus(ctx, messageBus, sched, store)
	if err != nil {
		processLog.Printf("pool status responder disabled: %v", err)
	} else {
		defer statusSub.Unsubscribe()
	}

	go cleanupSessions(ctx, store, cfg.Storage.CleanupInterval, logger)

	watchPaths := config.SearchPaths()
	if opts.configPath != "" {
		watchPaths = []string{opts.configPath}
	}
	watcher, err := newConfigWatcher(watchPaths, func() (*config.Config, error) {
		return loadConfig(opts)
	}, controllers.reload, logger)
	if err != nil {
		processLog.Printf("config reload disabled: %v", err)
	} else {
		defer watcher.Close()
		go watcher.Run(ctx)
	}

	server := api.NewServer(api.ServerConfig{
		Address:   cfg.HTTP.Addr,
		Store:     store,
		Queue:     sched,
		Issuer:    issuer,
		Logger:    logger,
		Metrics:   metrics,
		AuthRate:  rate.Limit(cfg.Auth.RateLimit),
		AuthBurst: cfg.Auth.RateBurst,
	})
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start()
	}()
	_ = logger.Info(logging.CategoryScheduler, "http_listening", "listening on "+cfg.HTTP.Addr, nil)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	return shutdown(server, sched, cfg, logger, runErr)
}

// shutdown stops intake first, then lets the pool finish its work.
func shutdown(server *api.Server, sched *scheduler.Scheduler, cfg *config.Config, logger *logging.Logger, runErr error) error {
	_ = logger.Info(logging.CategoryScheduler, "shutdown", "graceful shutdown initiated", nil)

	httpCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(httpCtx); err != nil {
		_ = logger.Warn(logging.CategoryScheduler, "http_shutdown", err.Error(), nil)
	}

	// Barriers carry their own deadline; the outer bound only guards a
	// wedged store.
	teardownCtx, cancelTeardown := context.WithTimeout(context.Background(), 2*cfg.Pool.BarrierTimeout+time.Minute)
	defer cancelTeardown()
	if err := sched.Teardown(teardownCtx); err != nil {
		_ = logger.Error(logging.CategoryScheduler, "teardown_failed", err.Error(), nil)
		if closeErr := sched.Close(); closeErr != nil {
			_ = logger.Error(logging.CategoryScheduler, "close_failed", closeErr.Error(), nil)
		}
		if runErr == nil {
			runErr = err
		}
	}
	_ = logger.Info(logging.CategoryScheduler, "shutdown_complete", "teardown complete", nil)
	return runErr
}

func cleanupSessions(ctx context.Context, store *storage.Store, interval time.Duration, logger *logging.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := store.CleanupExpiredSessions(ctx, now)
			if err != nil {
				_ = logger.Warn(logging.CategorySession, "cleanup_failed", err.Error(), nil)
				continue
			}
			if removed > 0 {
				_ = logger.Info(logging.CategorySession, "sessions_purged", fmt.Sprintf("removed %d expired sessions", removed), nil)
			}
		}
	}
}

// startTracing installs the span exporter when tracing is enabled. Shutdown
// on the result flushes spans and closes the output file. With tracing off
// it does nothing.
func startTracing(cfg config.TracingConfig) (*tracing, error) {
	if !cfg.Enabled {
		return &tracing{}, nil
	}
	t := &tracing{}
	var out io.Writer = os.Stdout
	if cfg.Output != "" {
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open trace output: %w", err)
		}
		t.file, out = f, f
	}
	provider, err := telemetry.NewTracerProvider(telemetry.TracingOptions{
		ServiceName: "intest",
		Writer:      out,
		Pretty:      cfg.Pretty,
	})
	if err != nil {
		if t.file != nil {
			_ = t.file.Close()
		}
		return nil, err
	}
	t.provider = provider
	return t, nil
}

type tracing struct {
	provider *telemetry.TracerProvider
	file     *os.File
}

func (t *tracing) Shutdown(ctx context.Context) error {
	err := t.provider.Shutdown(ctx)
	if t.file != nil {
		err = errors.Join(err, t.file.Close())
	}
	return err
}
