package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics. Operator labels carry the payment channel code; outcome
// labels are "success" or "failure".
var (
	JobsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "renewal_jobs_dispatched_total",
		Help: "Renewal jobs enqueued by the daily dispatcher",
	}, []string{"operator"})

	JobsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "renewal_jobs_skipped_total",
		Help: "Due subscriptions skipped at dispatch",
	}, []string{"reason"})

	ChargeAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "renewal_charge_attempts_total",
		Help: "Gateway charge attempts by operator and outcome",
	}, []string{"operator", "outcome"})

	ChargeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "renewal_charge_duration_seconds",
		Help:    "Wall-clock duration of gateway charge calls",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"operator"})

	Requeues = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "renewal_requeues_total",
		Help: "Same-day re-queues scheduled after failed charges",
	}, []string{"operator"})

	DrainBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "renewal_drain_batch_size",
		Help:    "Outcomes popped from the ledger per consumer tick",
		Buckets: []float64{1, 10, 25, 50, 100, 250},
	})

	DrainFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "renewal_drain_failures_total",
		Help: "Consumer drain batches that failed and were pushed back",
	})

	NotificationsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "renewal_notifications_published_total",
		Help: "Notification publishes by result",
	}, []string{"result"})

	FallbackRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "renewal_fallback_retries_total",
		Help: "Fallback notification redelivery attempts by result",
	}, []string{"result"})
)
