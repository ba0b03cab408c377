// Package metrics exposes Prometheus collectors for saga and purge outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Test Lab collectors. A nil *Metrics is valid and
// records nothing, so packages can take it as an optional dependency.
type Metrics struct {
	sagaExecutions       *prometheus.CounterVec
	compensationFailures *prometheus.CounterVec
	compensatedRows      *prometheus.CounterVec
	purgeInvocations     *prometheus.CounterVec
	purgeDeletedRows     *prometheus.CounterVec
	purgeDuration        prometheus.Histogram
}

// New registers the collectors with reg.
// Registering twice with the same registerer panics, as promauto does.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		sagaExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "testlab_saga_executions_total",
			Help: "Saga executions by workflow and terminal outcome",
		}, []string{"workflow", "outcome"}),

		compensationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "testlab_saga_compensation_failures_total",
			Help: "Tables whose compensating delete failed",
		}, []string{"table"}),

		compensatedRows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "testlab_saga_compensated_rows_total",
			Help: "Rows deleted by saga compensation",
		}, []string{"table"}),

		purgeInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "testlab_purge_invocations_total",
			Help: "Purge invocations by outcome",
		}, []string{"outcome"}),

		purgeDeletedRows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "testlab_purge_deleted_rows_total",
			Help: "Rows deleted by purges",
		}, []string{"table"}),

		purgeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "testlab_purge_duration_seconds",
			Help:    "Purge duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
}

// SagaFinished counts one saga execution.
func (m *Metrics) SagaFinished(workflow, outcome string) {
	if m == nil {
		return
	}
	m.sagaExecutions.WithLabelValues(workflow, outcome).Inc()
}

// CompensationFailed counts one table that could not be cleaned up.
func (m *Metrics) CompensationFailed(table string) {
	if m == nil {
		return
	}
	m.compensationFailures.WithLabelValues(table).Inc()
}

// Compensated counts rows removed during compensation.
func (m *Metrics) Compensated(table string, rows int64) {
	if m == nil || rows <= 0 {
		return
	}
	m.compensatedRows.WithLabelValues(table).Add(float64(rows))
}

// PurgeFinished counts one purge invocation and observes its duration.
func (m *Metrics) PurgeFinished(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.purgeInvocations.WithLabelValues(outcome).Inc()
	m.purgeDuration.Observe(seconds)
}

// PurgeDeleted counts rows removed from one table by a purge.
func (m *Metrics) PurgeDeleted(table string, rows int64) {
	if m == nil || rows <= 0 {
		return
	}
	m.purgeDeletedRows.WithLabelValues(table).Add(float64(rows))
}
