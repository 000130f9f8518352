// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "saldo"

// ─── Reconciliation ─────────────────────────────────────────────────────────

var ReconcileDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "reconcile",
	Name:      "duration_seconds",
	Help:      "Time spent building an account ledger, fetch included.",
	Buckets:   prometheus.DefBuckets,
}, []string{"source"})

var ReconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "reconcile",
	Name:      "runs_total",
	Help:      "Ledger requests by outcome (computed, cached, error).",
}, []string{"outcome"})

var DivergencesFound = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "reconcile",
	Name:      "divergences_total",
	Help:      "Snapshots that disagreed with the calculated balance.",
})

var TransactionsScanned = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "reconcile",
	Name:      "transactions_scanned",
	Help:      "Transactions scanned per reconciliation, gap included.",
	Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
})

// ─── Ledger writes ──────────────────────────────────────────────────────────

var LedgerWrites = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "writes_total",
	Help:      "Ledger writes by change kind and result.",
}, []string{"kind", "result"})

var EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "amqp",
	Name:      "events_published_total",
	Help:      "Ledger change events by publish result.",
}, []string{"result"})

// ─── Mirror worker ──────────────────────────────────────────────────────────

var MirrorOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "mirror",
	Name:      "operations_total",
	Help:      "Entities mirrored to Google Sheets by entity and result.",
}, []string{"entity", "result"})

var MirrorQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "mirror",
	Name:      "queue_depth",
	Help:      "Pending sync queue items seen by the last sweep.",
})

// ─── HTTP ───────────────────────────────────────────────────────────────────

var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "HTTP requests by route pattern, method and status class.",
}, []string{"route", "method", "status"})

var RateLimited = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "http",
	Name:      "rate_limited_total",
	Help:      "Requests rejected by the rate limiter.",
})
