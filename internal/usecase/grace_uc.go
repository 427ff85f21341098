// File: internal/usecase/grace_uc.go
package usecase

import (
	"context"
	"time"

	"practice-entitlement-engine/internal/domain"
	"practice-entitlement-engine/internal/domain/model"
	"practice-entitlement-engine/internal/domain/ports/adapter"
	"practice-entitlement-engine/internal/domain/ports/repository"
	"practice-entitlement-engine/internal/infra/logging"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ GraceUseCase = (*graceUC)(nil)

// GraceUseCase drives the pause/unpause workflow. Pause schedules a
// provider-side cancellation at period end (Pending-Lapse); the grace window
// itself begins when the provider confirms the subscription end, which the
// reconciler absorbs idempotently.
type GraceUseCase interface {
	Pause(ctx context.Context, tenantID int64) (*model.Subscription, error)
	Unpause(ctx context.Context, tenantID int64) (*model.Subscription, error)
}

type graceUC struct {
	subs     repository.SubscriptionRepository
	tm       repository.TransactionManager
	provider adapter.BillingProvider
	log      *zerolog.Logger
}

const providerCallTimeout = 10 * time.Second

func NewGraceUseCase(subs repository.SubscriptionRepository, tm repository.TransactionManager, provider adapter.BillingProvider, logger *zerolog.Logger) *graceUC {
	return &graceUC{subs: subs, tm: tm, provider: provider, log: logger}
}

func (u *graceUC) Pause(ctx context.Context, tenantID int64) (*model.Subscription, error) {
	defer logging.TraceDuration(u.log, "GraceUC.Pause")()
	return u.setCancelState(ctx, tenantID, true)
}

func (u *graceUC) Unpause(ctx context.Context, tenantID int64) (*model.Subscription, error) {
	defer logging.TraceDuration(u.log, "GraceUC.Unpause")()
	return u.setCancelState(ctx, tenantID, false)
}

// setCancelState runs the shared pause/unpause flow: precheck the
// once-per-period gate, instruct the provider outside any lock, then commit
// the local transition under the tenant lock with the gate re-checked.
func (u *graceUC) setCancelState(ctx context.Context, tenantID int64, cancel bool) (*model.Subscription, error) {
	sub, err := u.subs.FindByTenant(ctx, repository.NoTX, tenantID)
	if err != nil {
		return nil, err
	}
	if err := pauseGate(sub, time.Now()); err != nil {
		return nil, err
	}
	if sub.SubscriptionRef == nil {
		return nil, domain.ErrInvalidArgument
	}
	ref := *sub.SubscriptionRef

	provCtx, cancelFn := context.WithTimeout(ctx, providerCallTimeout)
	err = u.provider.SetCancelAtPeriodEnd(provCtx, ref, cancel)
	cancelFn()
	if err != nil {
		// Local state untouched; an eventual webhook corrects any
		// provider-side change that did land.
		return nil, err
	}

	var out *model.Subscription
	err = u.tm.WithTenantLock(ctx, tenantID, func(ctx context.Context, tx repository.Tx) error {
		sub, err := u.subs.FindByTenant(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		now := time.Now()
		if err := pauseGate(sub, now); err != nil {
			return err
		}
		nowUTC := now.UTC()
		sub.CancelAtPeriodEnd = cancel
		sub.LastPauseAction = &nowUTC
		if !cancel {
			// Resuming before the period ended: any recorded lapse state
			// is void.
			sub.ClearGrace()
		}
		sub.UpdatedAt = nowUTC
		if err := u.subs.Save(ctx, tx, sub); err != nil {
			return err
		}
		out = sub
		return nil
	})
	return out, err
}

// pauseGate enforces the one-pause-or-unpause-per-billing-period rule.
func pauseGate(sub *model.Subscription, now time.Time) error {
	allowed, retryAt := sub.PauseAllowed(now)
	if allowed {
		return nil
	}
	return &domain.RateLimitError{Reason: "pause_once_per_period", RetryAt: retryAt}
}
