package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveQuery(t *testing.T) {
	m := newMetrics(prometheus.NewRegistry())

	m.ObserveQuery("SELECT", time.Now(), OutcomeOK)
	m.ObserveQuery("SELECT", time.Now(), OutcomeOK)
	m.ObserveQuery("CONSTRUCT", time.Now(), OutcomeError)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.queries.WithLabelValues("SELECT", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queries.WithLabelValues("CONSTRUCT", OutcomeError)))
	assert.Equal(t, 2, testutil.CollectAndCount(m.queryDuration))
}

func TestCounters(t *testing.T) {
	m := newMetrics(prometheus.NewRegistry())

	m.CountCacheHit(true)
	m.CountCacheHit(false)
	m.CountCacheHit(false)
	m.ExecutionQueued()
	m.ExecutionsDeleted(3, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.countCache.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.countCache.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.executionsQueued))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.executionsDeleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cleanupFailures))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveQuery("SELECT", time.Now(), OutcomeOK)
		m.CountCacheHit(true)
		m.ExecutionQueued()
		m.ExecutionsDeleted(1, 0)
	})
	assert.Nil(t, m.Registry())
	assert.NotNil(t, m.Handler())
}

func TestHandler(t *testing.T) {
	m := New()
	m.ExecutionQueued()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "unifiedviews_scheduler_executions_queued_total 1"))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
