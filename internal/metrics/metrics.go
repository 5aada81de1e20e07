// Package metrics defines the Prometheus instruments exported by the relayq
// server. Registration happens at package init via promauto against the
// default registry; the /metrics endpoint is served by promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsPublished counts accepted publishes per namespace/queue.
	RecordsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayq_records_published_total",
			Help: "Total number of records accepted for delivery",
		},
		[]string{"namespace", "queue"},
	)

	// RecordsDelivered counts records handed to consumers. Redeliveries after
	// a visibility-timeout lapse count again.
	RecordsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayq_records_delivered_total",
			Help: "Total number of records delivered to consumers, including redeliveries",
		},
		[]string{"namespace", "queue"},
	)

	// RecordsAcked counts acknowledged records per namespace/queue.
	RecordsAcked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayq_records_acked_total",
			Help: "Total number of records acknowledged",
		},
		[]string{"namespace", "queue"},
	)

	// RecordsRejected counts rejects, split by whether the record was
	// requeued ("requeue") or discarded/dead-lettered ("drop").
	RecordsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayq_records_rejected_total",
			Help: "Total number of records rejected by consumers",
		},
		[]string{"namespace", "queue", "mode"},
	)

	// RecordsDeadLettered counts records moved to a dead-letter queue.
	RecordsDeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayq_records_dead_lettered_total",
			Help: "Total number of records moved to a dead-letter queue",
		},
		[]string{"namespace", "queue"},
	)

	// RecordsExpired counts records discarded because their age exceeded the
	// queue retention period.
	RecordsExpired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayq_records_expired_total",
			Help: "Total number of records discarded by retention expiry",
		},
		[]string{"namespace", "queue"},
	)

	// QueueDepth tracks visible records per queue, sampled on each stats read
	// and sweeper pass.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relayq_queue_depth",
			Help: "Number of records currently eligible for delivery",
		},
		[]string{"namespace", "queue"},
	)

	// SweepDuration observes how long a full sweep across all queues takes.
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relayq_sweep_duration_seconds",
			Help:    "Time taken by one sweeper pass over all queues",
			Buckets: prometheus.DefBuckets,
		},
	)

	// SweepErrors counts sweeper passes that hit a store error.
	SweepErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relayq_sweep_errors_total",
			Help: "Total number of sweeper passes that returned an error",
		},
	)

	// HTTPRequests counts API requests by method, route pattern and status.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayq_http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPDuration observes API request latency by route pattern.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relayq_http_request_duration_seconds",
			Help:    "HTTP API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// WSConsumers tracks currently connected websocket consumers.
	WSConsumers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relayq_ws_consumers",
			Help: "Number of currently connected websocket consumers",
		},
	)
)
