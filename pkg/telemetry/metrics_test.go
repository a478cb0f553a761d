package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/intest/pkg/browser"
	"github.com/odvcencio/intest/pkg/macro"
)

func TestSetWorkers(t *testing.T) {
	m := New(nil)
	m.SetWorkers(map[macro.Status]int{macro.StatusRunning: 2, macro.StatusCompleted: 1})

	assert.Equal(t, float64(2), testutil.ToFloat64(m.workers.WithLabelValues("running")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.workers.WithLabelValues("completed")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.workers.WithLabelValues("failed")))

	m.SetWorkers(map[macro.Status]int{macro.StatusPending: 3})
	assert.Equal(t, float64(0), testutil.ToFloat64(m.workers.WithLabelValues("running")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.workers.WithLabelValues("pending")))
}

func TestMacroFinished(t *testing.T) {
	m := New(nil)
	m.MacroFinished(macro.StatusCompleted, 1.5)
	m.MacroFinished(macro.StatusFailed, 0)
	m.MacroFinished(macro.StatusRunning, 3)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.macros.WithLabelValues("completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.macros.WithLabelValues("failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.stepFailures))
	assert.Equal(t, 1, testutil.CollectAndCount(m.macroDuration))
}

func TestQueueAndFaults(t *testing.T) {
	m := New(nil)
	m.SetQueueDepth(4)
	m.WorkerFault()
	m.SessionIssued()
	m.AuthRejected("expired")

	assert.Equal(t, float64(4), testutil.ToFloat64(m.queueDepth))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.workerFaults))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.sessions))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.authRejected.WithLabelValues("expired")))
}

func TestHandlerExposesBrowserMetrics(t *testing.T) {
	bm := browser.NewMetrics()
	bm.RecordSessionCreated()
	bm.RecordAction(nil, 10*time.Millisecond)
	bm.RecordAction(browser.ErrElementNotFound, 5*time.Millisecond)

	m := New(bm)
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "intest_browser_actions_total 2")
	assert.Contains(t, text, "intest_browser_element_misses_total 1")
	assert.Contains(t, text, "intest_browser_sessions_active 1")
	assert.Contains(t, text, "intest_queue_depth 0")
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.SetWorkers(nil)
	m.SetQueueDepth(1)
	m.MacroFinished(macro.StatusCompleted, 1)
	m.WorkerFault()
	m.SessionIssued()
	m.AuthRejected("unknown")
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
