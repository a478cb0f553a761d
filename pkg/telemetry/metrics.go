// Package telemetry exposes pool, macro and browser counters as
// prometheus metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odvcencio/intest/pkg/browser"
	"github.com/odvcencio/intest/pkg/macro"
)

const namespace = "intest"

// Metrics holds every collector on its own registry. All methods are safe
// on a nil receiver so callers can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	workers       *prometheus.GaugeVec
	queueDepth    prometheus.Gauge
	macros        *prometheus.CounterVec
	macroDuration prometheus.Histogram
	stepFailures  prometheus.Counter
	workerFaults  prometheus.Counter
	sessions      prometheus.Counter
	authRejected  *prometheus.CounterVec
}

// New registers the pool and macro collectors. browserMetrics may be nil.
func New(browserMetrics *browser.Metrics) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		workers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers",
			Help:      "Worker records by last reported status.",
		}, []string{"status"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Tasks waiting for an idle worker.",
		}),
		macros: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "macros_finished_total",
			Help:      "Macros that reached a terminal status.",
		}, []string{"status"}),
		macroDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "macro_duration_seconds",
			Help:      "Time from macro start to its terminal status.",
			Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300, 600},
		}),
		stepFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_failures_total",
			Help:      "Macro runs aborted by a failing entry.",
		}),
		workerFaults: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_faults_total",
			Help:      "Unhandled worker errors after which the worker exited.",
		}),
		sessions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_issued_total",
			Help:      "Auth sessions created.",
		}),
		authRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_rejected_total",
			Help:      "Requests rejected by the auth check.",
		}, []string{"reason"}),
	}
	for _, status := range []macro.Status{macro.StatusPending, macro.StatusRunning, macro.StatusCompleted, macro.StatusFailed} {
		m.workers.WithLabelValues(string(status)).Set(0)
	}
	if browserMetrics != nil {
		registerBrowser(factory, browserMetrics)
	}
	return m
}

func registerBrowser(factory promauto.Factory, bm *browser.Metrics) {
	counter := func(name, help string, fn func(browser.MetricsSnapshot) int64) {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "browser",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(fn(bm.Snapshot())) })
	}
	counter("sessions_created_total", "Browser contexts opened.", func(s browser.MetricsSnapshot) int64 { return s.SessionsCreated })
	counter("navigations_total", "Page navigations.", func(s browser.MetricsSnapshot) int64 { return s.NavigateCount })
	counter("actions_total", "Input actions (wait, click, type, key press).", func(s browser.MetricsSnapshot) int64 { return s.ActionCount })
	counter("action_failures_total", "Input actions that returned an error.", func(s browser.MetricsSnapshot) int64 { return s.ActionFailureCount })
	counter("element_misses_total", "Elements not found within their timeout.", func(s browser.MetricsSnapshot) int64 { return s.ElementMissCount })
	counter("scripts_total", "In-page script evaluations.", func(s browser.MetricsSnapshot) int64 { return s.ScriptCount })
	counter("frames_total", "Screencast frames delivered to recorders.", func(s browser.MetricsSnapshot) int64 { return s.FramesDelivered })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "browser",
		Name:      "sessions_active",
		Help:      "Open browser contexts.",
	}, func() float64 { return float64(bm.Snapshot().ActiveSessions) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "browser",
		Name:      "action_latency_seconds_avg",
		Help:      "Average input action latency.",
	}, func() float64 { return bm.Snapshot().AverageActionLatency.Seconds() })
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetWorkers replaces the per-status worker gauge.
func (m *Metrics) SetWorkers(counts map[macro.Status]int) {
	if m == nil {
		return
	}
	m.workers.Reset()
	for _, status := range []macro.Status{macro.StatusPending, macro.StatusRunning, macro.StatusCompleted, macro.StatusFailed} {
		m.workers.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

// SetQueueDepth records the scheduler queue length.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// MacroFinished counts a terminal macro and observes its run time when
// the start time is known.
func (m *Metrics) MacroFinished(status macro.Status, seconds float64) {
	if m == nil || !status.Terminal() {
		return
	}
	m.macros.WithLabelValues(string(status)).Inc()
	if seconds > 0 {
		m.macroDuration.Observe(seconds)
	}
	if status == macro.StatusFailed {
		m.stepFailures.Inc()
	}
}

// WorkerFault counts a worker that exited on an unhandled error.
func (m *Metrics) WorkerFault() {
	if m == nil {
		return
	}
	m.workerFaults.Inc()
}

// SessionIssued counts a successful auth.
func (m *Metrics) SessionIssued() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

// AuthRejected counts a rejected token request or session check by reason.
func (m *Metrics) AuthRejected(reason string) {
	if m == nil {
		return
	}
	m.authRejected.WithLabelValues(reason).Inc()
}
