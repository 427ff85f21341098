package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		deletionsScheduledTotal,
		deletionsCompletedTotal,
		deletionsCanceledTotal,
		refundFailuresTotal,
		sweepDuration,
	)
}

var (
	deletionsScheduledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "account_deletions_scheduled_total",
			Help: "Account deletions scheduled for a future sweep.",
		},
	)

	deletionsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "account_deletions_completed_total",
			Help: "Accounts fully purged, by mode.",
		},
		[]string{"mode"}, // 'immediate', 'scheduled'
	)

	deletionsCanceledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "account_deletions_canceled_total",
			Help: "Scheduled deletions canceled before the sweep.",
		},
	)

	refundFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deletion_refund_failures_total",
			Help: "Prorated refunds that failed during account deletion.",
		},
	)

	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "termination_sweep_seconds",
			Help:    "Wall time of a full termination sweep run.",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300},
		},
	)
)

func IncDeletionScheduled()            { deletionsScheduledTotal.Inc() }
func IncDeletionCompleted(mode string) { deletionsCompletedTotal.WithLabelValues(mode).Inc() }
func IncDeletionCanceled()             { deletionsCanceledTotal.Inc() }
func IncRefundFailure()                { refundFailuresTotal.Inc() }
func ObserveSweepDuration(s float64)   { sweepDuration.Observe(s) }
