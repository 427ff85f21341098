// File: internal/usecase/billing_uc.go
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
var _ BillingUseCase = (*billingUC)(nil)

// BillingUseCase covers the user-initiated provider interactions. Local
// state only changes in response to the provider's webhook confirmations,
// with the exception of ChangeTier which applies the new price eagerly.
type BillingUseCase interface {
	// StartCheckout opens a provider-hosted payment page for a paid tier.
	StartCheckout(ctx context.Context, tenantID int64, tier model.Tier, interval model.Interval) (string, error)

	// ChangeTier moves an already-subscribed tenant to a different price.
	ChangeTier(ctx context.Context, tenantID int64, tier model.Tier, interval model.Interval) (*model.Subscription, error)

	// OpenBillingPortal returns a self-service portal URL.
	OpenBillingPortal(ctx context.Context, tenantID int64) (string, error)

	// Resume restarts billing for a lapsed tenant via a fresh checkout on
	// their previous tier.
	Resume(ctx context.Context, tenantID int64, interval model.Interval) (string, error)

	// LastPayment returns the most recent charge for receipts.
	LastPayment(ctx context.Context, tenantID int64) (*adapter.Payment, error)
}

type billingUC struct {
	subs       repository.SubscriptionRepository
	tm         repository.TransactionManager
	provider   adapter.BillingProvider
	catalog    *model.PriceCatalog
	successURL string
	cancelURL  string
	portalURL  string
	log        *zerolog.Logger
}

func NewBillingUseCase(
	subs repository.SubscriptionRepository,
	tm repository.TransactionManager,
	provider adapter.BillingProvider,
	catalog *model.PriceCatalog,
	successURL, cancelURL, portalURL string,
	logger *zerolog.Logger,
) *billingUC {
	return &billingUC{
		subs:       subs,
		tm:         tm,
		provider:   provider,
		catalog:    catalog,
		successURL: successURL,
		cancelURL:  cancelURL,
		portalURL:  portalURL,
		log:        logger,
	}
}

func (u *billingUC) StartCheckout(ctx context.Context, tenantID int64, tier model.Tier, interval model.Interval) (string, error) {
	defer logging.TraceDuration(u.log, "BillingUC.StartCheckout")()

	if !model.ValidPaidTier(tier) {
		return "", domain.ErrInvalidArgument
	}
	priceRef, ok := u.catalog.RefFor(tier, interval)
	if !ok {
		return "", domain.ErrInvalidArgument
	}

	sub, err := u.subs.FindByTenant(ctx, repository.NoTX, tenantID)
	if err != nil {
		return "", err
	}
	if sub.SubscriptionRef != nil && sub.Status.Healthy() {
		// Already subscribed; a second checkout would double-charge.
		return "", domain.ErrAlreadyExists
	}

	provCtx, cancel := context.WithTimeout(ctx, providerCallTimeout)
	defer cancel()
	sess, err := u.provider.CreateCheckoutSession(provCtx, tenantID, derefOr(sub.CustomerRef, ""), priceRef, u.successURL, u.cancelURL)
	if err != nil {
		return "", err
	}
	return sess.URL, nil
}

func (u *billingUC) ChangeTier(ctx context.Context, tenantID int64, tier model.Tier, interval model.Interval) (*model.Subscription, error) {
	defer logging.TraceDuration(u.log, "BillingUC.ChangeTier")()

	if !model.ValidPaidTier(tier) {
		return nil, domain.ErrInvalidArgument
	}
	priceRef, ok := u.catalog.RefFor(tier, interval)
	if !ok {
		return nil, domain.ErrInvalidArgument
	}

	sub, err := u.subs.FindByTenant(ctx, repository.NoTX, tenantID)
	if err != nil {
		return nil, err
	}
	if sub.SubscriptionRef == nil || sub.SubscriptionItemRef == nil {
		return nil, domain.ErrInvalidArgument
	}
	subRef, itemRef := *sub.SubscriptionRef, *sub.SubscriptionItemRef

	provCtx, cancel := context.WithTimeout(ctx, providerCallTimeout)
	err = u.provider.UpdateSubscriptionPrice(provCtx, subRef, itemRef, priceRef)
	cancel()
	if err != nil {
		return nil, err
	}

	// Apply eagerly; the provider's subscription_updated confirmation is
	// absorbed idempotently later.
	var out *model.Subscription
	err = u.tm.WithTenantLock(ctx, tenantID, func(ctx context.Context, tx repository.Tx) error {
		sub, err := u.subs.FindByTenant(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if sub.SubscriptionRef == nil || *sub.SubscriptionRef != subRef {
			// Subscription changed underneath us; let the webhook settle it.
			out = sub
			return nil
		}
		sub.PriceRef = &priceRef
		t, mrr := deriveTier(u.catalog, u.log, priceRef)
		sub.SetPricing(t, mrr)
		sub.UpdatedAt = time.Now().UTC()
		if err := u.subs.Save(ctx, tx, sub); err != nil {
			return err
		}
		out = sub
		return nil
	})
	return out, err
}

func (u *billingUC) OpenBillingPortal(ctx context.Context, tenantID int64) (string, error) {
	defer logging.TraceDuration(u.log, "BillingUC.OpenBillingPortal")()

	sub, err := u.subs.FindByTenant(ctx, repository.NoTX, tenantID)
	if err != nil {
		return "", err
	}
	if sub.CustomerRef == nil {
		return "", domain.ErrNotFound
	}

	provCtx, cancel := context.WithTimeout(ctx, providerCallTimeout)
	defer cancel()
	sess, err := u.provider.CreatePortalSession(provCtx, *sub.CustomerRef, u.portalURL)
	if err != nil {
		return "", err
	}
	return sess.URL, nil
}

func (u *billingUC) Resume(ctx context.Context, tenantID int64, interval model.Interval) (string, error) {
	defer logging.TraceDuration(u.log, "BillingUC.Resume")()

	sub, err := u.subs.FindByTenant(ctx, repository.NoTX, tenantID)
	if err != nil {
		return "", err
	}
	if sub.SubscriptionRef != nil && sub.Status.Healthy() {
		return "", domain.ErrAlreadyExists
	}

	// Previous tier survives the downgrade only in the stored price ref
	// history; fall back to basic when nothing usable remains.
	tier := sub.Tier
	if !model.ValidPaidTier(tier) {
		if p, ok := u.catalog.Resolve(derefOr(sub.PriceRef, "")); ok {
			tier = p.Tier
		}
	}
	if !model.ValidPaidTier(tier) {
		tier = model.TierBasic
	}
	return u.StartCheckout(ctx, tenantID, tier, interval)
}

func (u *billingUC) LastPayment(ctx context.Context, tenantID int64) (*adapter.Payment, error) {
	defer logging.TraceDuration(u.log, "BillingUC.LastPayment")()

	sub, err := u.subs.FindByTenant(ctx, repository.NoTX, tenantID)
	if err != nil {
		return nil, err
	}
	if sub.CustomerRef == nil {
		return nil, domain.ErrNotFound
	}

	provCtx, cancel := context.WithTimeout(ctx, providerCallTimeout)
	defer cancel()
	return u.provider.LastPayment(provCtx, *sub.CustomerRef)
}
