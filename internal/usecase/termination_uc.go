// File: internal/usecase/termination_uc.go
package usecase

import (
	"context"
	"errors"
	"time"

	"practice-entitlement-engine/internal/domain"
	"practice-entitlement-engine/internal/domain/model"
	"practice-entitlement-engine/internal/domain/ports/adapter"
	"practice-entitlement-engine/internal/domain/ports/repository"
	"practice-entitlement-engine/internal/infra/logging"
	"practice-entitlement-engine/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ TerminationUseCase = (*terminationUC)(nil)

// SweepLocker serializes sweep runs across processes.
type SweepLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

// TerminationUseCase implements the two-path account deletion workflow:
// immediate purge, or a scheduled purge at period end with a prorated refund
// and a cancellation window. The sweep races the cancel path, so both go
// through the per-tenant lock.
type TerminationUseCase interface {
	RequestDeletion(ctx context.Context, tenantID int64, mode model.DeletionType) (*model.Subscription, error)
	CancelScheduledDeletion(ctx context.Context, tenantID int64) (*model.Subscription, error)

	// RunSweep finalizes all due scheduled deletions. Returns the number
	// of tenants purged.
	RunSweep(ctx context.Context) (int, error)
}

type terminationUC struct {
	subs      repository.SubscriptionRepository
	tenants   repository.TenantRepository
	tm        repository.TransactionManager
	provider  adapter.BillingProvider
	notifier  adapter.NotificationSender
	analytics adapter.AnalyticsSink
	locker    SweepLocker
	batchSize int
	log       *zerolog.Logger
}

const (
	sweepLockKey = "lock:termination_sweep"
	sweepLockTTL = 15 * time.Minute

	// Fallback deletion delay when no billing period is on record.
	scheduledFallbackDelay = 30 * 24 * time.Hour
)

func NewTerminationUseCase(
	subs repository.SubscriptionRepository,
	tenants repository.TenantRepository,
	tm repository.TransactionManager,
	provider adapter.BillingProvider,
	notifier adapter.NotificationSender,
	analytics adapter.AnalyticsSink,
	locker SweepLocker,
	batchSize int,
	logger *zerolog.Logger,
) *terminationUC {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &terminationUC{
		subs:      subs,
		tenants:   tenants,
		tm:        tm,
		provider:  provider,
		notifier:  notifier,
		analytics: analytics,
		locker:    locker,
		batchSize: batchSize,
		log:       logger,
	}
}

func (u *terminationUC) RequestDeletion(ctx context.Context, tenantID int64, mode model.DeletionType) (*model.Subscription, error) {
	defer logging.TraceDuration(u.log, "TerminationUC.RequestDeletion")()

	switch mode {
	case model.DeletionImmediate:
		return u.requestImmediate(ctx, tenantID)
	case model.DeletionScheduled:
		return u.requestScheduled(ctx, tenantID)
	default:
		return nil, domain.ErrInvalidArgument
	}
}

func (u *terminationUC) requestImmediate(ctx context.Context, tenantID int64) (*model.Subscription, error) {
	sub, err := u.subs.FindByTenant(ctx, repository.NoTX, tenantID)
	if err != nil {
		return nil, err
	}

	refund := proratedRefundCents(sub, time.Now())
	if sub.SubscriptionRef != nil {
		provCtx, cancel := context.WithTimeout(ctx, providerCallTimeout)
		err := u.provider.CancelSubscription(provCtx, *sub.SubscriptionRef)
		cancel()
		if err != nil {
			// Nothing local has changed yet; surface the failure.
			return nil, err
		}
	}
	if err := u.purgeTenant(ctx, sub, refund, false); err != nil {
		return nil, err
	}
	return sub, nil
}

func (u *terminationUC) requestScheduled(ctx context.Context, tenantID int64) (*model.Subscription, error) {
	var out *model.Subscription
	err := u.tm.WithTenantLock(ctx, tenantID, func(ctx context.Context, tx repository.Tx) error {
		sub, err := u.subs.FindByTenant(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if sub.DeletionType != nil {
			return domain.ErrDeletionPending
		}
		now := time.Now().UTC()
		due := now.Add(scheduledFallbackDelay)
		if sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.After(now) {
			due = sub.CurrentPeriodEnd.UTC()
		}
		mode := model.DeletionScheduled
		refund := proratedRefundCents(sub, now)
		sub.DeletionScheduledFor = &due
		sub.DeletionType = &mode
		sub.ProratedRefundCents = &refund
		sub.UpdatedAt = now
		if err := u.subs.Save(ctx, tx, sub); err != nil {
			return err
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.SubscriptionRef != nil {
		provCtx, cancel := context.WithTimeout(ctx, providerCallTimeout)
		if err := u.provider.SetCancelAtPeriodEnd(provCtx, *out.SubscriptionRef, true); err != nil {
			u.log.Error().Err(err).Int64("tenant_id", tenantID).Msg("failed to schedule provider cancellation for deletion")
		}
		cancel()
	}
	if ident, err := u.tenants.FindByID(ctx, repository.NoTX, tenantID); err == nil {
		if err := u.notifier.SendDeletionScheduled(ctx, ident.Email, ident.Username, *out.DeletionScheduledFor); err != nil {
			u.log.Warn().Err(err).Int64("tenant_id", tenantID).Msg("failed to send deletion-scheduled notice")
		}
	}
	u.analytics.Capture(ctx, tenantID, "account_deletion_scheduled", map[string]any{
		"delete_at":    out.DeletionScheduledFor,
		"refund_cents": derefInt64(out.ProratedRefundCents),
	})
	metrics.IncDeletionScheduled()
	return out, nil
}

func (u *terminationUC) CancelScheduledDeletion(ctx context.Context, tenantID int64) (*model.Subscription, error) {
	defer logging.TraceDuration(u.log, "TerminationUC.CancelScheduledDeletion")()

	var out *model.Subscription
	err := u.tm.WithTenantLock(ctx, tenantID, func(ctx context.Context, tx repository.Tx) error {
		sub, err := u.subs.FindByTenant(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if sub.DeletionType == nil {
			return domain.ErrNoDeletionPending
		}
		sub.DeletionScheduledFor = nil
		sub.DeletionType = nil
		sub.ProratedRefundCents = nil
		// Scheduling flagged the provider subscription cancel-at-period-end,
		// and its webhook may have already put the tenant into a lapse
		// window. Both are artifacts of the deletion request; undo them in
		// the same write.
		sub.CancelAtPeriodEnd = false
		sub.ClearGrace()
		sub.UpdatedAt = time.Now().UTC()
		if err := u.subs.Save(ctx, tx, sub); err != nil {
			return err
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Undo the scheduled provider cancellation so the tier keeps billing.
	if out.SubscriptionRef != nil {
		provCtx, cancel := context.WithTimeout(ctx, providerCallTimeout)
		if err := u.provider.SetCancelAtPeriodEnd(provCtx, *out.SubscriptionRef, false); err != nil {
			u.log.Error().Err(err).Int64("tenant_id", tenantID).Msg("failed to resume provider billing after deletion cancel")
		}
		cancel()
	}
	if ident, err := u.tenants.FindByID(ctx, repository.NoTX, tenantID); err == nil {
		if err := u.notifier.SendWelcomeBack(ctx, ident.Email, ident.Username); err != nil {
			u.log.Warn().Err(err).Int64("tenant_id", tenantID).Msg("failed to send welcome-back notice")
		}
	}
	u.analytics.Capture(ctx, tenantID, "account_deletion_canceled", nil)
	metrics.IncDeletionCanceled()
	return out, nil
}

func (u *terminationUC) RunSweep(ctx context.Context) (int, error) {
	defer logging.TraceDuration(u.log, "TerminationUC.RunSweep")()

	token, err := u.locker.TryLock(ctx, sweepLockKey, sweepLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockNotAcquired) {
			u.log.Debug().Msg("termination sweep already running elsewhere")
			return 0, nil
		}
		return 0, err
	}
	defer func() {
		if err := u.locker.Unlock(ctx, sweepLockKey, token); err != nil {
			u.log.Warn().Err(err).Msg("failed to release sweep lock")
		}
	}()

	due, err := u.subs.ListDueForDeletion(ctx, repository.NoTX, time.Now(), u.batchSize)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, sub := range due {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		refund := derefInt64(sub.ProratedRefundCents)
		if err := u.purgeTenant(ctx, sub, refund, true); err != nil {
			u.log.Error().Err(err).Int64("tenant_id", sub.TenantID).Msg("failed to finalize scheduled deletion")
			continue
		}
		processed++
	}
	u.log.Info().Int("processed", processed).Int("due", len(due)).Msg("termination sweep finished")
	return processed, nil
}

// purgeTenant performs the irreversible deletion: refund, purge all
// tenant-owned rows child-before-parent, drop the subscription and identity,
// then send the farewell and erase the analytics profile. Refund and
// notification failures are logged but never block the purge.
func (u *terminationUC) purgeTenant(ctx context.Context, sub *model.Subscription, refundCents int64, requireDue bool) error {
	tenantID := sub.TenantID

	var email, username string
	if ident, err := u.tenants.FindByID(ctx, repository.NoTX, tenantID); err == nil {
		email, username = ident.Email, ident.Username
	}

	if refundCents > 0 {
		// The subscription ref is usually gone by sweep time: the provider's
		// own period-end deletion webhook detaches it. The customer ref
		// survives detachment, so the refund keys on it first.
		custRef := derefOr(sub.CustomerRef, "")
		subRef := derefOr(sub.SubscriptionRef, "")
		if custRef == "" && subRef == "" {
			u.log.Warn().Int64("tenant_id", tenantID).Int64("refund_cents", refundCents).Msg("no billing reference left to refund against, skipping refund")
			metrics.IncRefundFailure()
		} else {
			provCtx, cancel := context.WithTimeout(ctx, providerCallTimeout)
			if err := u.provider.Refund(provCtx, custRef, subRef, refundCents); err != nil {
				u.log.Error().Err(err).Int64("tenant_id", tenantID).Int64("refund_cents", refundCents).Msg("refund failed, continuing with deletion")
				metrics.IncRefundFailure()
			}
			cancel()
		}
	}

	skipped := false
	err := u.tm.WithTenantLock(ctx, tenantID, func(ctx context.Context, tx repository.Tx) error {
		cur, err := u.subs.FindByTenant(ctx, tx, tenantID)
		if isNotFound(err) {
			// Already purged by a concurrent sweep pass.
			skipped = true
			return nil
		}
		if err != nil {
			return err
		}
		if requireDue {
			if cur.DeletionType == nil || cur.DeletionScheduledFor == nil || cur.DeletionScheduledFor.After(time.Now()) {
				// Deletion was canceled between selection and processing.
				skipped = true
				return nil
			}
		}
		counts, err := u.tenants.PurgeTenantData(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if err := u.subs.Delete(ctx, tx, tenantID); err != nil {
			return err
		}
		if err := u.tenants.Delete(ctx, tx, tenantID); err != nil {
			return err
		}
		u.log.Info().
			Int64("tenant_id", tenantID).
			Int64("practice_events", counts.PracticeEvents).
			Int64("preferences", counts.Preferences).
			Int64("chord_charts", counts.ChordCharts).
			Int64("routine_items", counts.RoutineItems).
			Int64("routines", counts.Routines).
			Int64("items", counts.Items).
			Msg("tenant data purged")
		return nil
	})
	if err != nil || skipped {
		return err
	}
	if requireDue {
		metrics.IncDeletionCompleted("scheduled")
	} else {
		metrics.IncDeletionCompleted("immediate")
	}

	if email != "" {
		if err := u.notifier.SendFarewell(ctx, email, username, refundCents); err != nil {
			u.log.Warn().Err(err).Int64("tenant_id", tenantID).Msg("failed to send farewell notice")
		}
	}
	if err := u.analytics.DeletePerson(ctx, tenantID); err != nil {
		u.log.Warn().Err(err).Int64("tenant_id", tenantID).Msg("failed to erase analytics profile")
	}
	return nil
}

// proratedRefundCents computes the refund for the unspent share of the
// current billing period from the monthly recurring value.
func proratedRefundCents(sub *model.Subscription, now time.Time) int64 {
	if !sub.Status.Healthy() || sub.MRRCents <= 0 {
		return 0
	}
	if sub.CurrentPeriodStart == nil || sub.CurrentPeriodEnd == nil {
		return 0
	}
	total := sub.CurrentPeriodEnd.Sub(*sub.CurrentPeriodStart)
	left := sub.CurrentPeriodEnd.Sub(now)
	if total <= 0 || left <= 0 {
		return 0
	}
	if left > total {
		left = total
	}
	return sub.MRRCents * int64(left/time.Second) / int64(total/time.Second)
}

func derefInt64(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
