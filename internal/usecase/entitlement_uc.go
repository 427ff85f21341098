// File: internal/usecase/entitlement_uc.go
package usecase

import (
	"context"
	"errors"
	"time"

	"practice-entitlement-engine/internal/domain"
	"practice-entitlement-engine/internal/domain/model"
	"practice-entitlement-engine/internal/domain/ports/repository"
	"practice-entitlement-engine/internal/infra/logging"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ EntitlementUseCase = (*entitlementUC)(nil)

// EntitlementUseCase is the canonical read/modify surface of the per-tenant
// subscription record. All mutations go through Apply so concurrent webhook
// delivery and user actions serialize on the tenant row.
type EntitlementUseCase interface {
	Get(ctx context.Context, tenantID int64) (*model.Subscription, error)
	Limits(ctx context.Context, tenantID int64) (model.TierLimits, error)

	// Apply runs mutate against the current record inside a transaction
	// holding the per-tenant advisory lock, then saves. Never a blind
	// overwrite: mutate sees the freshest row.
	Apply(ctx context.Context, tenantID int64, mutate func(sub *model.Subscription) error) (*model.Subscription, error)

	// EnsureForTenant creates the free/active record at signup time.
	// Idempotent: an existing record is returned untouched.
	EnsureForTenant(ctx context.Context, tenantID int64) (*model.Subscription, error)
}

type entitlementUC struct {
	subs    repository.SubscriptionRepository
	tm      repository.TransactionManager
	catalog *model.PriceCatalog
	log     *zerolog.Logger
}

func NewEntitlementUseCase(subs repository.SubscriptionRepository, tm repository.TransactionManager, catalog *model.PriceCatalog, logger *zerolog.Logger) *entitlementUC {
	return &entitlementUC{subs: subs, tm: tm, catalog: catalog, log: logger}
}

func (u *entitlementUC) Get(ctx context.Context, tenantID int64) (*model.Subscription, error) {
	defer logging.TraceDuration(u.log, "EntitlementUC.Get")()
	return u.subs.FindByTenant(ctx, repository.NoTX, tenantID)
}

func (u *entitlementUC) Limits(ctx context.Context, tenantID int64) (model.TierLimits, error) {
	sub, err := u.Get(ctx, tenantID)
	if err != nil {
		return model.TierLimits{}, err
	}
	return model.Limits(sub.Tier, sub.IsComplimentary), nil
}

func (u *entitlementUC) Apply(ctx context.Context, tenantID int64, mutate func(sub *model.Subscription) error) (*model.Subscription, error) {
	defer logging.TraceDuration(u.log, "EntitlementUC.Apply")()

	var out *model.Subscription
	err := u.tm.WithTenantLock(ctx, tenantID, func(ctx context.Context, tx repository.Tx) error {
		sub, err := u.subs.FindByTenant(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if err := mutate(sub); err != nil {
			return err
		}
		sub.UpdatedAt = time.Now().UTC()
		if err := u.subs.Save(ctx, tx, sub); err != nil {
			return err
		}
		out = sub
		return nil
	})
	return out, err
}

func (u *entitlementUC) EnsureForTenant(ctx context.Context, tenantID int64) (*model.Subscription, error) {
	defer logging.TraceDuration(u.log, "EntitlementUC.EnsureForTenant")()

	var out *model.Subscription
	err := u.tm.WithTenantLock(ctx, tenantID, func(ctx context.Context, tx repository.Tx) error {
		existing, err := u.subs.FindByTenant(ctx, tx, tenantID)
		if err == nil {
			out = existing
			return nil
		}
		if !isNotFound(err) {
			return err
		}
		sub := model.NewSubscription(tenantID)
		if err := u.subs.Save(ctx, tx, sub); err != nil {
			return err
		}
		out = sub
		return nil
	})
	return out, err
}

func isNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }

// deriveTier maps a provider price ref to (tier, monthly recurring cents).
// Unrecognized refs resolve to free with a warning, never an error.
func deriveTier(catalog *model.PriceCatalog, log *zerolog.Logger, priceRef string) (model.Tier, int64) {
	if priceRef == "" {
		return model.TierFree, 0
	}
	p, ok := catalog.Resolve(priceRef)
	if !ok {
		log.Warn().Str("price_ref", priceRef).Msg("unknown price ref, falling back to free tier")
		return model.TierFree, 0
	}
	return p.Tier, model.MonthlyRecurringCents(p.AmountCents, p.Interval)
}
