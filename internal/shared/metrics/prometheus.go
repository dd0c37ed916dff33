package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Run metrics
	runsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimbridge_runs_started_total",
			Help: "Total number of runs started",
		},
		[]string{"kind"},
	)

	runsFinalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimbridge_runs_finalized_total",
			Help: "Total number of runs finalized",
		},
		[]string{"kind", "status"},
	)

	itemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimbridge_items_processed_total",
			Help: "Total number of work items processed",
		},
		[]string{"kind", "outcome"},
	)

	itemDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "claimbridge_item_duration_seconds",
			Help:    "Per-item processing duration in seconds",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)

	// Browser metrics
	navigationSteps = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "claimbridge_navigation_step_duration_seconds",
			Help:    "Browser navigation step duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"site", "step"},
	)

	guardBlocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimbridge_navigation_guard_blocks_total",
			Help: "Total number of navigations rewritten by the page guard",
		},
		[]string{"site"},
	)

	proxyValidation = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimbridge_proxy_validation_total",
			Help: "Total number of proxy candidate validations",
		},
		[]string{"result"},
	)

	// Validation metrics
	fieldRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimbridge_field_rejections_total",
			Help: "Total number of extracted fields rejected by validation",
		},
		[]string{"field", "reason"},
	)

	// Reconciliation metrics
	reconciliationRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimbridge_reconciliation_rows_total",
			Help: "Total number of reconciliation rows by classification",
		},
		[]string{"classification"},
	)

	auditEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "claimbridge_audit_events_total",
			Help: "Total number of run audit events appended",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRunStarted records the start of a run
func RecordRunStarted(kind string) {
	runsStarted.WithLabelValues(kind).Inc()
}

// RecordRunFinalized records a run reaching a terminal status
func RecordRunFinalized(kind, status string) {
	runsFinalized.WithLabelValues(kind, status).Inc()
}

// RecordItem records one work item's outcome and duration
func RecordItem(kind, outcome string, duration time.Duration) {
	itemsProcessed.WithLabelValues(kind, outcome).Inc()
	itemDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordNavigationStep records a browser navigation step duration
func RecordNavigationStep(site, step string, duration time.Duration) {
	navigationSteps.WithLabelValues(site, step).Observe(duration.Seconds())
}

// RecordGuardBlock records a navigation rewritten by the page guard
func RecordGuardBlock(site string) {
	guardBlocks.WithLabelValues(site).Inc()
}

// RecordProxyValidation records a proxy candidate validation result
func RecordProxyValidation(result string) {
	proxyValidation.WithLabelValues(result).Inc()
}

// RecordFieldRejection records a validator rejecting an extracted field
func RecordFieldRejection(field, reason string) {
	fieldRejections.WithLabelValues(field, reason).Inc()
}

// RecordReconciliationRow records one reconciliation classification
func RecordReconciliationRow(classification string) {
	reconciliationRows.WithLabelValues(classification).Inc()
}

// RecordAuditEvent records an audit event append
func RecordAuditEvent() {
	auditEvents.Inc()
}
