package approval

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xela07ax/po-approvals/internal/domain"
)

type Metrics struct {
	// Latency: операции движка (request, decide, status, ...)
	OperationDuration *prometheus.HistogramVec

	// Traffic: запросы согласования по исходу
	RequestsTotal *prometheus.CounterVec

	// Traffic: решения по типу и исходу
	DecisionsTotal *prometheus.CounterVec

	// Errors: не доставленные уведомления по каналу
	NotificationFailures *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker вебхука (0 - ок, 1 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		OperationDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "po_approvals_operation_duration_seconds",
			Help:    "Histogram of approval engine operation latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"operation", "outcome"}),

		RequestsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "po_approvals_requests_total",
			Help: "Total number of approval requests by outcome.",
		}, []string{"outcome"}),

		DecisionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "po_approvals_decisions_total",
			Help: "Total number of approval decisions by decision and outcome.",
		}, []string{"decision", "outcome"}),

		NotificationFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "po_approvals_notification_failures_total",
			Help: "Notifications that could not be delivered.",
		}, []string{"channel"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "po_approvals_circuit_breaker_state",
			Help: "Current state of the webhook circuit breaker (0=closed, 1=open).",
		}, []string{"target"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "po_approvals_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),
	}
}

// Outcome — метка исхода по таксономии ошибок
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrAuthorization):
		return "authorization"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
