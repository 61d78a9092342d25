// Package metrics holds the Prometheus collectors for the variant pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	Resolutions        *prometheus.CounterVec
	Generations        *prometheus.CounterVec
	GenerationDuration prometheus.Histogram
	TasksScheduled     *prometheus.CounterVec
	TasksFulfilled     *prometheus.CounterVec
	Intakes            *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Variant resolutions by requested mode and outcome.",
		}, []string{"mode", "outcome"}),
		Generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Variants generated inline, by output encoding.",
		}, []string{"encoding"}),
		GenerationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Time spent generating a variant inline.",
			Buckets:   prometheus.DefBuckets,
		}),
		TasksScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_scheduled_total",
			Help:      "Conversion tasks scheduled, by target encoding.",
		}, []string{"encoding"}),
		TasksFulfilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_fulfilled_total",
			Help:      "Conversion tasks fulfilled by workers, by target encoding.",
		}, []string{"encoding"}),
		Intakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intakes_total",
			Help:      "Uploads by result: created, duplicate, unsupported, failed.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.Resolutions, m.Generations, m.GenerationDuration,
		m.TasksScheduled, m.TasksFulfilled, m.Intakes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveResolution(mode, outcome string) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) ObserveGeneration(encoding string, d time.Duration) {
	if m == nil {
		return
	}
	m.Generations.WithLabelValues(encoding).Inc()
	m.GenerationDuration.Observe(d.Seconds())
}

func (m *Metrics) TaskScheduled(encoding string) {
	if m == nil {
		return
	}
	m.TasksScheduled.WithLabelValues(encoding).Inc()
}

func (m *Metrics) TaskFulfilled(encoding string) {
	if m == nil {
		return
	}
	m.TasksFulfilled.WithLabelValues(encoding).Inc()
}

func (m *Metrics) ObserveIntake(result string) {
	if m == nil {
		return
	}
	m.Intakes.WithLabelValues(result).Inc()
}
