// Package api exposes the HTTP front door: token issuance, macro submission
// and pool inspection.
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/odvcencio/intest/pkg/auth"
	apperrors "github.com/odvcencio/intest/pkg/errors"
	"github.com/odvcencio/intest/pkg/logging"
	"github.com/odvcencio/intest/pkg/macro"
	"github.com/odvcencio/intest/pkg/storage"
	"github.com/odvcencio/intest/pkg/telemetry"
)

// Store is the persistence the handlers need. *storage.Store satisfies it.
type Store interface {
	auth.SessionStore
	CreateMacro(ctx context.Context, rec *storage.MacroRecord) error
	GetMacro(ctx context.Context, token, macroID string) (*storage.MacroRecord, error)
	ListMacros(ctx context.Context, token string) ([]storage.MacroRecord, error)
	FinishMacro(ctx context.Context, token, macroID string, status macro.Status, message string, at time.Time) error
	ListWorkers(ctx context.Context) ([]storage.WorkerRecord, error)
	Ping(ctx context.Context) error
}

// Queue accepts tasks for the worker pool. *scheduler.Scheduler satisfies it.
type Queue interface {
	Submit(task macro.Task) error
	QueueLen() int
}

// ServerConfig configures the API server.
type ServerConfig struct {
	// Address to listen on (default: :3000)
	Address string

	Store   Store
	Queue   Queue
	Issuer  *auth.Issuer
	Logger  *logging.Logger
	Metrics *telemetry.Metrics

	// AuthRate and AuthBurst limit token requests per client IP. A zero
	// rate disables the limit.
	AuthRate  rate.Limit
	AuthBurst int
}

// Server is the intest API server.
type Server struct {
	store      Store
	queue      Queue
	issuer     *auth.Issuer
	logger     *logging.Logger
	metrics    *telemetry.Metrics
	limiter    *clientLimiter
	router     chi.Router
	httpServer *http.Server
	now        func() time.Time
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Address == "" {
		cfg.Address = ":3000"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New(logging.Options{})
	}

	s := &Server{
		store:   cfg.Store,
		queue:   cfg.Queue,
		issuer:  cfg.Issuer,
		logger:  logger,
		metrics: cfg.Metrics,
		now:     time.Now,
	}
	if cfg.AuthRate > 0 {
		s.limiter = newClientLimiter(cfg.AuthRate, cfg.AuthBurst)
	}

	router := chi.NewRouter()
	router.Use(withRequestID)
	router.Use(s.withLogging)

	router.Get("/healthz", s.handleHealthz)
	router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	router.Get("/auth/{system}/{job}/{operator}/{tenant}", s.handleAuth)
	router.Route("/macro", func(r chi.Router) {
		r.Get("/", s.handleListMacros)
		r.Post("/{macroID}", s.handleSubmitMacro)
		r.Get("/{macroID}", s.handleGetMacro)
	})
	router.Get("/workers", s.handleListWorkers)
	s.router = router

	s.httpServer = &http.Server{
		Addr:              cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the API server. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type ctxKey int

const requestIDKey ctxKey = iota

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			return
		}
		_ = s.logger.Debug(logging.CategorySession, "http_request", r.Method+" "+r.URL.Path, map[string]any{
			"status":     rec.status,
			"remote":     clientKey(r),
			"request_id": requestID(r),
			"duration":   time.Since(start).String(),
		})
	})
}

// clientLimiter keeps one token bucket per client IP.
type clientLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newClientLimiter(limit rate.Limit, burst int) *clientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &clientLimiter{limit: limit, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (c *clientLimiter) Allow(key string) bool {
	if c == nil {
		return true
	}
	c.mu.Lock()
	limiter, ok := c.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(c.limit, c.burst)
		c.limiters[key] = limiter
	}
	c.mu.Unlock()
	return limiter.Allow()
}

func clientKey(r *http.Request) string {
	raw := strings.TrimSpace(r.RemoteAddr)
	if raw == "" {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(raw)
	if err != nil {
		host = raw
	}
	if host = strings.TrimSpace(host); host == "" {
		return "unknown"
	}
	return host
}

// Helpers

type response struct {
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, response{Status: status, Message: message})
}

// statusFor maps an application error code to an HTTP status.
func statusFor(err error) int {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case apperrors.ErrCodeUnauthorized, apperrors.ErrCodeSessionExpired:
		return http.StatusUnauthorized
	case apperrors.ErrCodePoolClosed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
