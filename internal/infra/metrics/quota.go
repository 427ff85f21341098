package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		quotaChecksTotal,
		quotaDenialsTotal,
	)
}

var (
	quotaChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_checks_total",
			Help: "Metered-feature quota checks, by outcome.",
		},
		[]string{"outcome"}, // 'allowed', 'denied', 'error'
	)

	quotaDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_denials_total",
			Help: "Quota denials by reason.",
		},
		[]string{"reason"}, // 'hourly_limit', 'daily_limit', 'tier_no_access'
	)
)

func IncQuotaCheck(outcome string) {
	quotaChecksTotal.WithLabelValues(outcome).Inc()
}

func IncQuotaDenial(reason string) {
	quotaDenialsTotal.WithLabelValues(reason).Inc()
}
