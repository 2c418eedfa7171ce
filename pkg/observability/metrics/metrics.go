// Package metrics provides execution metrics collection.
// It wraps Prometheus collectors to provide structured telemetry for
// decision executions, optimistic concurrency conflicts, entity loading,
// and update application.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the interface the execution engine records through.
type Recorder interface {
	RecordExecution(scopeType, outcome string, duration time.Duration)
	RecordConflict(scopeType, stage string)
	RecordRejection(scopeType, code string)
	RecordEntityLoads(scopeType string, loaded, missing int)
	RecordUpdatesApplied(scopeType string, count int)
}

// Conflict stages reported to RecordConflict.
const (
	ConflictStagePreCheck = "precheck"
	ConflictStageCommit   = "commit"
)

// Collector provides execution metrics collection.
type Collector struct {
	registry *prometheus.Registry

	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	conflictsTotal    *prometheus.CounterVec
	rejectionsTotal   *prometheus.CounterVec
	entityLoadsTotal  *prometheus.CounterVec
	updatesApplied    *prometheus.CounterVec
}

// NewCollector creates a new execution metrics collector.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "ambit"
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
	}

	c.executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "executions_total",
			Help:      "Total number of decision executions by terminal outcome.",
		},
		[]string{"scope_type", "outcome"},
	)

	c.executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "execution_duration_seconds",
			Help:      "Duration of decision executions.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"scope_type", "outcome"},
	)

	c.conflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "occ_conflicts_total",
			Help:      "Total number of optimistic concurrency conflicts by stage.",
		},
		[]string{"scope_type", "stage"},
	)

	c.rejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "rejections_total",
			Help:      "Total number of rejected decisions by code.",
		},
		[]string{"scope_type", "code"},
	)

	c.entityLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "entity_loads_total",
			Help:      "Total number of entity loads by result.",
		},
		[]string{"scope_type", "result"},
	)

	c.updatesApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "updates_applied_total",
			Help:      "Total number of entity updates applied on success paths.",
		},
		[]string{"scope_type"},
	)

	c.registry.MustRegister(
		c.executionsTotal,
		c.executionDuration,
		c.conflictsTotal,
		c.rejectionsTotal,
		c.entityLoadsTotal,
		c.updatesApplied,
	)

	return c
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler exposing the registered metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordExecution records one terminal execution outcome.
func (c *Collector) RecordExecution(scopeType, outcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	c.executionsTotal.WithLabelValues(scopeType, outcome).Inc()
	c.executionDuration.WithLabelValues(scopeType, outcome).Observe(duration.Seconds())
}

// RecordConflict records an optimistic concurrency conflict.
func (c *Collector) RecordConflict(scopeType, stage string) {
	c.conflictsTotal.WithLabelValues(scopeType, stage).Inc()
}

// RecordRejection records a decider or precondition rejection.
func (c *Collector) RecordRejection(scopeType, code string) {
	c.rejectionsTotal.WithLabelValues(scopeType, code).Inc()
}

// RecordEntityLoads records how many entities resolved and how many were missing.
func (c *Collector) RecordEntityLoads(scopeType string, loaded, missing int) {
	if loaded > 0 {
		c.entityLoadsTotal.WithLabelValues(scopeType, "found").Add(float64(loaded))
	}
	if missing > 0 {
		c.entityLoadsTotal.WithLabelValues(scopeType, "missing").Add(float64(missing))
	}
}

// RecordUpdatesApplied records updates applied during a success path.
func (c *Collector) RecordUpdatesApplied(scopeType string, count int) {
	if count <= 0 {
		return
	}
	c.updatesApplied.WithLabelValues(scopeType).Add(float64(count))
}

// NoOpRecorder is a recorder that discards all metrics.
type NoOpRecorder struct{}

// NewNoOpRecorder creates a no-op recorder.
func NewNoOpRecorder() *NoOpRecorder {
	return &NoOpRecorder{}
}

func (*NoOpRecorder) RecordExecution(scopeType, outcome string, duration time.Duration) {}
func (*NoOpRecorder) RecordConflict(scopeType, stage string)                            {}
func (*NoOpRecorder) RecordRejection(scopeType, code string)                            {}
func (*NoOpRecorder) RecordEntityLoads(scopeType string, loaded, missing int)           {}
func (*NoOpRecorder) RecordUpdatesApplied(scopeType string, count int)                  {}

// Verify interface compliance
var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = (*NoOpRecorder)(nil)
)
