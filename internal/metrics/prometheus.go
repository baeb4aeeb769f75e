// Package metrics exposes Prometheus metrics for policy passes.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "warden"

// Registry holds all pipeline metrics on its own prometheus registry.
// A nil *Registry is valid and records nothing.
type Registry struct {
	reg *prometheus.Registry

	// Pass metrics
	Passes    *prometheus.CounterVec
	Rollbacks prometheus.Counter
	Enabled   prometheus.Gauge

	// Compilation metrics
	RulesSubmitted *prometheus.CounterVec
	RecordsSkipped *prometheus.CounterVec
	DenySetSize    prometheus.Gauge
	StageDuration  *prometheus.HistogramVec

	// API metrics
	APIRequests *prometheus.CounterVec
	APILatency  *prometheus.HistogramVec
}

// NewRegistry creates a registry with all metrics registered, plus the Go
// runtime and process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	r := &Registry{reg: reg}

	r.Passes = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "passes_total",
		Help:      "Enable and disable passes by result",
	}, []string{"kind", "result"})

	r.Rollbacks = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rollbacks_total",
		Help:      "Enable passes rolled back after a failure",
	})

	r.Enabled = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "enforcement_enabled",
		Help:      "1 when the policy is enforced",
	})

	r.RulesSubmitted = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rules_submitted_total",
		Help:      "Rules submitted to the backend by stage",
	}, []string{"stage"})

	r.RecordsSkipped = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_skipped_total",
		Help:      "Source records skipped during compilation by stage",
	}, []string{"stage"})

	r.DenySetSize = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "deny_set_domains",
		Help:      "Domains in the deny set of the last enable pass",
	})

	r.StageDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Time spent compiling and submitting a stage",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})

	r.APIRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "API requests by method, path and status",
	}, []string{"method", "path", "status"})

	r.APILatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_request_duration_seconds",
		Help:      "API request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	return r
}

// Gatherer returns the underlying registry for scraping and tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// RecordPass records the outcome of an enable or disable pass.
func (r *Registry) RecordPass(kind string, err error) {
	if r == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	r.Passes.WithLabelValues(kind, result).Inc()
}

// RecordRollback counts a rollback.
func (r *Registry) RecordRollback() {
	if r == nil {
		return
	}
	r.Rollbacks.Inc()
}

// SetEnabled updates the enforcement gauge.
func (r *Registry) SetEnabled(enabled bool) {
	if r == nil {
		return
	}
	if enabled {
		r.Enabled.Set(1)
	} else {
		r.Enabled.Set(0)
	}
}

// RecordStage records rules submitted, records skipped and duration of one
// stage.
func (r *Registry) RecordStage(stage string, rules, skipped int, d time.Duration) {
	if r == nil {
		return
	}
	r.RulesSubmitted.WithLabelValues(stage).Add(float64(rules))
	r.RecordsSkipped.WithLabelValues(stage).Add(float64(skipped))
	r.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// SetDenySetSize updates the deny set gauge.
func (r *Registry) SetDenySetSize(n int) {
	if r == nil {
		return
	}
	r.DenySetSize.Set(float64(n))
}

// RecordAPIRequest records an API request.
func (r *Registry) RecordAPIRequest(method, path string, status int, d time.Duration) {
	if r == nil {
		return
	}
	r.APIRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.APILatency.WithLabelValues(method, path).Observe(d.Seconds())
}
