package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		webhookEventsTotal,
		webhookFailuresTotal,
		webhookDeadLettersTotal,
		webhookAnomaliesTotal,
		webhookDuration,
	)
}

var (
	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Billing webhook events received, by kind and outcome.",
		},
		[]string{"kind", "outcome"}, // outcome: 'processed', 'duplicate', 'failed', 'rejected'
	)

	webhookFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_failures_total",
			Help: "Webhook events whose handler returned an error (still acknowledged).",
		},
		[]string{"kind"},
	)

	webhookDeadLettersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_dead_letters_total",
			Help: "Failed webhook events recorded for operator replay.",
		},
	)

	webhookAnomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_anomalies_total",
			Help: "Reconciliation anomalies detected, by type.",
		},
		[]string{"type"}, // e.g. 'double_subscription'
	)

	webhookDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webhook_processing_seconds",
			Help:    "Webhook event processing latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func IncWebhookEvent(kind, outcome string) {
	webhookEventsTotal.WithLabelValues(kind, outcome).Inc()
}

func IncWebhookFailure(kind string) {
	webhookFailuresTotal.WithLabelValues(kind).Inc()
}

func IncWebhookDeadLetter() {
	webhookDeadLettersTotal.Inc()
}

func IncWebhookAnomaly(anomalyType string) {
	webhookAnomaliesTotal.WithLabelValues(anomalyType).Inc()
}

func ObserveWebhookDuration(seconds float64) {
	webhookDuration.Observe(seconds)
}
