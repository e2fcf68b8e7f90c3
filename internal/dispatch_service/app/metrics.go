package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smsdispatch_dispatch_attempts_total",
			Help: "Send attempts per backend and result.",
		},
		[]string{"provider", "result"},
	)

	fallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smsdispatch_fallbacks_total",
			Help: "Dispatches that needed at least one fallback backend.",
		},
	)

	bulkRecipientsQueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smsdispatch_bulk_recipients_queued_total",
			Help: "Recipients queued through bulk dispatch.",
		},
	)

	gatewayProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smsdispatch_gateway_probes_total",
			Help: "Gateway probe operations per kind and result.",
		},
		[]string{"operation", "result"},
	)

	dispatchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smsdispatch_dispatch_duration_seconds",
			Help:    "End-to-end dispatch latency per backend.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
)
