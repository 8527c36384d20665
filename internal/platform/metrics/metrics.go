// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docslot_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// Bookings counts booking attempts by outcome: "ok" or an error code.
	Bookings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docslot_bookings_total",
			Help: "Booking attempts by result.",
		},
		[]string{"result"},
	)

	Cancellations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docslot_cancellations_total",
			Help: "Appointments moved to cancelled.",
		},
	)

	Completions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docslot_completions_total",
			Help: "Appointments moved to completed.",
		},
	)

	CompensatingReleases = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docslot_compensating_releases_total",
			Help: "Reservations released after a failed booking transaction.",
		},
	)

	// ReconcileRepairs counts ledger drift fixed by kind: "released" or "reserved".
	ReconcileRepairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docslot_reconcile_repairs_total",
			Help: "Slot ledger entries repaired by reconciliation.",
		},
		[]string{"kind"},
	)

	EventPublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docslot_event_publish_failures_total",
			Help: "Appointment events that could not be published.",
		},
		[]string{"type"},
	)

	DashboardCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docslot_dashboard_cache_total",
			Help: "Dashboard cache lookups by result: hit, miss, error.",
		},
		[]string{"result"},
	)
)
