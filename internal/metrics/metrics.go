// Package metrics exposes Prometheus collectors for index builds and question answering.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hyperjump/kotae/internal/models"
)

const namespace = "kotae"

// Metrics holds the collectors and their registry. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	builds        *prometheus.CounterVec
	buildDuration *prometheus.HistogramVec
	questions     *prometheus.CounterVec
	answerLatency prometheus.Histogram
	degraded      *prometheus.CounterVec
	liveScopes    prometheus.Gauge
}

// New creates collectors registered on a private registry together with the
// Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_builds_total",
			Help:      "Scope index builds by result.",
		}, []string{"scope", "result"}),
		buildDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_build_duration_seconds",
			Help:      "Time to load, chunk, embed and index a scope.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"scope"}),
		questions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "questions_total",
			Help:      "Answered questions by outcome.",
		}, []string{"scope", "outcome"}),
		answerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "answer_duration_seconds",
			Help:      "Time from question to completed exchange.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_total",
			Help:      "Pipeline steps that fell back to a degraded path, by error kind.",
		}, []string{"kind"}),
		liveScopes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_scopes",
			Help:      "Scopes with a published index snapshot.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.builds, m.buildDuration, m.questions, m.answerLatency, m.degraded, m.liveScopes,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveBuild records one build attempt.
func (m *Metrics) ObserveBuild(scope string, took time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.builds.WithLabelValues(scope, result).Inc()
	m.buildDuration.WithLabelValues(scope).Observe(took.Seconds())
}

// ObserveAnswer records a finished question. outcome is complete, partial or error.
func (m *Metrics) ObserveAnswer(scope, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.questions.WithLabelValues(scope, outcome).Inc()
	m.answerLatency.Observe(took.Seconds())
}

// Degraded counts a fallback taken because of an error of the given kind.
func (m *Metrics) Degraded(kind models.ErrorKind) {
	if m == nil {
		return
	}
	m.degraded.WithLabelValues(string(kind)).Inc()
}

// SetLiveScopes sets the number of scopes currently served.
func (m *Metrics) SetLiveScopes(n int) {
	if m == nil {
		return
	}
	m.liveScopes.Set(float64(n))
}
