package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"examportal/internal/apperr"
	"examportal/internal/model"
)

const namespace = "examportal"

type Metrics struct {
	// OperationsTotal counts core operations by name and outcome ("ok" or a failure kind).
	OperationsTotal *prometheus.CounterVec

	SessionsCompletedTotal *prometheus.CounterVec

	EntitlementsGrantedTotal prometheus.Counter

	RetentionPrunedTotal prometheus.Counter

	HTTPRequestDuration *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Core operations by name and outcome",
		}, []string{"operation", "outcome"}),
		SessionsCompletedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_completed_total",
			Help:      "Completed examination sessions by grade",
		}, []string{"grade"}),
		EntitlementsGrantedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entitlements_granted_total",
			Help:      "Entitlement grants applied to the ledger",
		}),
		RetentionPrunedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_pruned_sessions_total",
			Help:      "Completed sessions removed by history retention",
		}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route, method and status",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
}

// Noop returns collectors registered nowhere, for callers that do not export metrics.
func Noop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) RecordOperation(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = apperr.KindOf(err).String()
	}
	m.OperationsTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) RecordCompletion(grade model.Grade) {
	if m == nil {
		return
	}
	m.SessionsCompletedTotal.WithLabelValues(string(grade)).Inc()
}

func (m *Metrics) RecordGrants(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EntitlementsGrantedTotal.Add(float64(n))
}

func (m *Metrics) RecordPruned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.RetentionPrunedTotal.Add(float64(n))
}

func (m *Metrics) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
