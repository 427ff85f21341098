package metrics

import (
	"practice-entitlement-engine/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		subscriptionsTotal,
		graceEntriesTotal,
		pauseActionsTotal,
	)
}

var (
	subscriptionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subscriptions_total",
			Help: "Current number of subscriptions by status.",
		},
		[]string{"status"},
	)

	graceEntriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "grace_entries_total",
			Help: "Subscriptions that entered the unplugged grace window.",
		},
	)

	pauseActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pause_actions_total",
			Help: "Pause and unpause actions, by action and outcome.",
		},
		[]string{"action", "outcome"}, // outcome: 'ok', 'rate_limited', 'error'
	)
)

func SetSubscriptionsTotal(counts map[model.Status]int) {
	statuses := []model.Status{
		model.StatusTrialing,
		model.StatusActive,
		model.StatusPastDue,
		model.StatusCanceled,
		model.StatusIncomplete,
	}
	for _, status := range statuses {
		if count, ok := counts[status]; ok {
			subscriptionsTotal.WithLabelValues(string(status)).Set(float64(count))
		}
	}
}

func IncGraceEntries() {
	graceEntriesTotal.Inc()
}

func IncPauseAction(action, outcome string) {
	pauseActionsTotal.WithLabelValues(action, outcome).Inc()
}
