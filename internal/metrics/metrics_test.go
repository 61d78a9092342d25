package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveResolution("auto", "existing")
		m.ObserveGeneration("jpg", time.Second)
		m.TaskScheduled("avif")
		m.TaskFulfilled("avif")
		m.ObserveIntake("created")
	})
}

func TestCountersAndHandler(t *testing.T) {
	m := New("kakigoori")

	m.ObserveResolution("auto", "generated")
	m.ObserveResolution("auto", "generated")
	m.TaskScheduled("webp")
	m.ObserveGeneration("png", 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Resolutions.WithLabelValues("auto", "generated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TasksScheduled.WithLabelValues("webp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Generations.WithLabelValues("png")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `kakigoori_resolutions_total{mode="auto",outcome="generated"} 2`)
}
