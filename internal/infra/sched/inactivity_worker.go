package sched

import (
	"context"
	"time"

	"practice-entitlement-engine/internal/domain/model"
	"practice-entitlement-engine/internal/domain/ports/adapter"
	"practice-entitlement-engine/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

const inactivityBatchSize = 100

// InactivityWorker emails paying tenants who have stopped practicing.
// Opted-out tenants and tenants already reminded within the window are
// filtered by the repository query.
type InactivityWorker struct {
	interval      time.Duration
	inactiveAfter time.Duration
	tenants       repository.TenantRepository
	subs          repository.SubscriptionRepository
	notifier      adapter.NotificationSender
	log           *zerolog.Logger
}

func NewInactivityWorker(
	interval, inactiveAfter time.Duration,
	tenants repository.TenantRepository,
	subs repository.SubscriptionRepository,
	notifier adapter.NotificationSender,
	logger *zerolog.Logger,
) *InactivityWorker {
	compLog := logger.With().Str("component", "InactivityWorker").Logger()
	return &InactivityWorker{
		interval:      interval,
		inactiveAfter: inactiveAfter,
		tenants:       tenants,
		subs:          subs,
		notifier:      notifier,
		log:           &compLog,
	}
}

func (w *InactivityWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting inactivity worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping inactivity worker")
			return ctx.Err()
		case <-ticker.C:
			sent, err := w.remind(ctx)
			if err != nil {
				w.log.Error().Err(err).Msg("inactivity check failed")
			}
			if sent > 0 {
				w.log.Info().Int("count", sent).Msg("inactivity reminders sent")
			}
		}
	}
}

func (w *InactivityWorker) remind(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-w.inactiveAfter)
	idle, err := w.tenants.ListInactiveSince(ctx, repository.NoTX, cutoff, inactivityBatchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, ident := range idle {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		sub, err := w.subs.FindByTenant(ctx, repository.NoTX, ident.ID)
		if err != nil {
			continue
		}
		// Only paying tenants get the nudge; free accounts have nothing
		// to lapse.
		if !sub.Status.Healthy() || sub.Tier == model.TierFree {
			continue
		}
		if err := w.notifier.SendInactivityReminder(ctx, ident.Email, ident.Username, *ident.LastActiveAt); err != nil {
			w.log.Warn().Err(err).Int64("tenant_id", ident.ID).Msg("inactivity reminder failed")
			continue
		}
		if err := w.tenants.MarkInactivityEmailSent(ctx, repository.NoTX, ident.ID, time.Now().UTC()); err != nil {
			w.log.Warn().Err(err).Int64("tenant_id", ident.ID).Msg("failed to record inactivity reminder")
		}
		sent++
	}
	return sent, nil
}
