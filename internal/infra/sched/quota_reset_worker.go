package sched

import (
	"context"
	"time"

	"practice-entitlement-engine/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

// QuotaResetWorker bulk-resets expired quota windows. The quota path heals
// windows lazily on every check, so this sweep is a fallback that keeps
// dormant rows from carrying stale counters; nothing depends on it running.
type QuotaResetWorker struct {
	interval time.Duration
	subs     repository.SubscriptionRepository
	log      *zerolog.Logger
}

func NewQuotaResetWorker(interval time.Duration, subs repository.SubscriptionRepository, logger *zerolog.Logger) *QuotaResetWorker {
	compLog := logger.With().Str("component", "QuotaResetWorker").Logger()
	return &QuotaResetWorker{
		interval: interval,
		subs:     subs,
		log:      &compLog,
	}
}

func (w *QuotaResetWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting quota reset worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping quota reset worker")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.subs.ResetExpiredQuotaWindows(ctx, repository.NoTX, time.Now().UTC())
			if err != nil {
				w.log.Error().Err(err).Msg("quota window reset error")
				continue
			}
			if n > 0 {
				w.log.Debug().Int64("rows", n).Msg("expired quota windows reset")
			}
		}
	}
}
