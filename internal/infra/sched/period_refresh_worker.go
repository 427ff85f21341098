package sched

import (
	"context"
	"time"

	"practice-entitlement-engine/internal/domain/model"
	"practice-entitlement-engine/internal/domain/ports/adapter"
	"practice-entitlement-engine/internal/domain/ports/repository"
	"practice-entitlement-engine/internal/infra/metrics"
	"practice-entitlement-engine/internal/usecase"

	"github.com/rs/zerolog"
)

const refreshBatchSize = 200

// PeriodRefreshWorker backfills stale billing periods from the provider.
// Webhooks normally keep the period bounds current; this worker catches the
// tenants whose renewal event was lost. It also refreshes the subscription
// status gauge on every tick.
type PeriodRefreshWorker struct {
	interval     time.Duration
	subs         repository.SubscriptionRepository
	entitlements usecase.EntitlementUseCase
	provider     adapter.BillingProvider
	log          *zerolog.Logger
}

func NewPeriodRefreshWorker(
	interval time.Duration,
	subs repository.SubscriptionRepository,
	entitlements usecase.EntitlementUseCase,
	provider adapter.BillingProvider,
	logger *zerolog.Logger,
) *PeriodRefreshWorker {
	compLog := logger.With().Str("component", "PeriodRefreshWorker").Logger()
	return &PeriodRefreshWorker{
		interval:     interval,
		subs:         subs,
		entitlements: entitlements,
		provider:     provider,
		log:          &compLog,
	}
}

func (w *PeriodRefreshWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting period refresh worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping period refresh worker")
			return ctx.Err()
		case <-ticker.C:
			w.refreshGauge(ctx)
			n, err := w.refreshStale(ctx)
			if err != nil {
				w.log.Error().Err(err).Msg("period refresh error")
			}
			if n > 0 {
				w.log.Info().Int("count", n).Msg("billing periods refreshed")
			}
		}
	}
}

func (w *PeriodRefreshWorker) refreshGauge(ctx context.Context) {
	counts, err := w.subs.CountByStatus(ctx, repository.NoTX)
	if err != nil {
		w.log.Warn().Err(err).Msg("subscription status count failed")
		return
	}
	metrics.SetSubscriptionsTotal(counts)
}

func (w *PeriodRefreshWorker) refreshStale(ctx context.Context) (int, error) {
	stale, err := w.subs.ListPaying(ctx, repository.NoTX, time.Now(), refreshBatchSize)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for _, sub := range stale {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		if sub.SubscriptionRef == nil {
			continue
		}
		provCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		remote, err := w.provider.GetSubscription(provCtx, *sub.SubscriptionRef)
		cancel()
		if err != nil {
			w.log.Warn().Err(err).Int64("tenant_id", sub.TenantID).Msg("provider lookup failed during refresh")
			continue
		}

		_, err = w.entitlements.Apply(ctx, sub.TenantID, func(cur *model.Subscription) error {
			// A webhook may have landed meanwhile; only extend, never rewind.
			if cur.SubscriptionRef == nil || *cur.SubscriptionRef != remote.SubscriptionRef {
				return nil
			}
			if remote.CurrentPeriodEnd != nil &&
				(cur.CurrentPeriodEnd == nil || remote.CurrentPeriodEnd.After(*cur.CurrentPeriodEnd)) {
				cur.CurrentPeriodStart = remote.CurrentPeriodStart
				cur.CurrentPeriodEnd = remote.CurrentPeriodEnd
			}
			if remote.Status != "" {
				cur.Status = remote.Status
			}
			cur.CancelAtPeriodEnd = remote.CancelAtPeriodEnd
			return nil
		})
		if err != nil {
			w.log.Warn().Err(err).Int64("tenant_id", sub.TenantID).Msg("period refresh apply failed")
			continue
		}
		refreshed++
	}
	return refreshed, nil
}
