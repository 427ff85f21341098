// File: internal/usecase/reconciler_uc.go
package usecase

import (
	"context"
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
var _ ReconcilerUseCase = (*reconcilerUC)(nil)

// ReconcilerUseCase applies billing-provider events to the entitlement
// record. Every handler is idempotent and tolerates out-of-order delivery;
// staleness is detected by comparing subscription refs, never timestamps.
type ReconcilerUseCase interface {
	Process(ctx context.Context, ev *model.BillingEvent) error
}

// ProcessedEventCache is a fast-path dedup of already-processed event ids.
// It is an optimization only; handler idempotency must hold without it.
type ProcessedEventCache interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string, ttl time.Duration) error
}

type reconcilerUC struct {
	subs     repository.SubscriptionRepository
	routines repository.RoutineRepository
	tm       repository.TransactionManager
	provider adapter.BillingProvider
	dedup    ProcessedEventCache
	catalog  *model.PriceCatalog
	log      *zerolog.Logger
}

const dedupTTL = 72 * time.Hour

func NewReconcilerUseCase(
	subs repository.SubscriptionRepository,
	routines repository.RoutineRepository,
	tm repository.TransactionManager,
	provider adapter.BillingProvider,
	dedup ProcessedEventCache,
	catalog *model.PriceCatalog,
	logger *zerolog.Logger,
) *reconcilerUC {
	return &reconcilerUC{
		subs:     subs,
		routines: routines,
		tm:       tm,
		provider: provider,
		dedup:    dedup,
		catalog:  catalog,
		log:      logger,
	}
}

func (u *reconcilerUC) Process(ctx context.Context, ev *model.BillingEvent) error {
	defer logging.TraceDuration(u.log, "ReconcilerUC.Process")()
	log := u.log.With().Str("event_id", ev.ID).Str("event_kind", ev.Kind.String()).Logger()

	if u.dedup != nil && ev.ID != "" {
		if seen, err := u.dedup.Seen(ctx, ev.ID); err == nil && seen {
			log.Debug().Msg("event already processed, skipping")
			return nil
		}
	}

	var err error
	switch ev.Kind {
	case model.EventCheckoutCompleted:
		err = u.handleCheckoutCompleted(ctx, &log, ev)
	case model.EventSubscriptionCreated:
		err = u.handleSubscriptionCreated(ctx, &log, ev)
	case model.EventSubscriptionUpdated:
		err = u.handleSubscriptionUpdated(ctx, &log, ev)
	case model.EventSubscriptionDeleted:
		err = u.handleSubscriptionDeleted(ctx, &log, ev)
	case model.EventInvoicePaymentSucceeded:
		err = u.handleInvoicePaymentSucceeded(ctx, &log, ev)
	case model.EventInvoicePaymentFailed:
		err = u.handleInvoicePaymentFailed(ctx, &log, ev)
	case model.EventUnknown:
		log.Debug().Msg("unhandled event kind, ignoring")
		return nil
	}
	if err != nil {
		return err
	}

	if u.dedup != nil && ev.ID != "" {
		if err := u.dedup.Mark(ctx, ev.ID, dedupTTL); err != nil {
			log.Warn().Err(err).Msg("failed to mark event processed")
		}
	}
	return nil
}

// resolveTenant finds the subscription an event addresses: checkout metadata
// first, then the subscription ref, then the customer ref.
func (u *reconcilerUC) resolveTenant(ctx context.Context, tx repository.Tx, ev *model.BillingEvent) (*model.Subscription, error) {
	if ev.TenantID != 0 {
		return u.subs.FindByTenant(ctx, tx, ev.TenantID)
	}
	if ev.SubscriptionRef != "" {
		if sub, err := u.subs.FindBySubscriptionRef(ctx, tx, ev.SubscriptionRef); err == nil {
			return sub, nil
		} else if !isNotFound(err) {
			return nil, err
		}
	}
	if ev.CustomerRef != "" {
		return u.subs.FindByCustomerRef(ctx, tx, ev.CustomerRef)
	}
	return nil, domain.ErrNotFound
}

// tenantFor resolves the tenant id outside any lock so the handler can then
// serialize on it.
func (u *reconcilerUC) tenantFor(ctx context.Context, ev *model.BillingEvent) (int64, error) {
	if ev.TenantID != 0 {
		return ev.TenantID, nil
	}
	sub, err := u.resolveTenant(ctx, repository.NoTX, ev)
	if err != nil {
		return 0, err
	}
	return sub.TenantID, nil
}

func (u *reconcilerUC) handleCheckoutCompleted(ctx context.Context, log *zerolog.Logger, ev *model.BillingEvent) error {
	if ev.TenantID == 0 {
		log.Warn().Msg("checkout completed without tenant metadata, ignoring")
		return nil
	}
	return u.tm.WithTenantLock(ctx, ev.TenantID, func(ctx context.Context, tx repository.Tx) error {
		sub, err := u.subs.FindByTenant(ctx, tx, ev.TenantID)
		if isNotFound(err) {
			sub = model.NewSubscription(ev.TenantID)
			err = nil
		}
		if err != nil {
			return err
		}
		if ev.CustomerRef != "" {
			sub.CustomerRef = strPtr(ev.CustomerRef)
		}
		if ev.SubscriptionRef != "" {
			sub.SubscriptionRef = strPtr(ev.SubscriptionRef)
		}
		sub.UpdatedAt = time.Now().UTC()
		return u.subs.Save(ctx, tx, sub)
	})
}

func (u *reconcilerUC) handleSubscriptionCreated(ctx context.Context, log *zerolog.Logger, ev *model.BillingEvent) error {
	tenantID, err := u.tenantFor(ctx, ev)
	if isNotFound(err) {
		log.Warn().Str("subscription_ref", ev.SubscriptionRef).Msg("subscription created for unknown tenant, ignoring")
		return nil
	}
	if err != nil {
		return err
	}

	// When the tenant already tracks a different subscription, ask the
	// provider whether the incoming one is still live. Delivery is
	// unordered, so a created event can arrive after its subscription was
	// already superseded; the stale one is canceled provider-side and must
	// not displace the current record. The call happens before taking the
	// row lock.
	if cur, err := u.subs.FindByTenant(ctx, repository.NoTX, tenantID); err == nil &&
		cur.SubscriptionRef != nil && *cur.SubscriptionRef != ev.SubscriptionRef && cur.Status.Healthy() {
		provCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		ps, err := u.provider.GetSubscription(provCtx, ev.SubscriptionRef)
		cancel()
		if err != nil {
			if domain.IsTransientProviderError(err) {
				return err
			}
			// The provider no longer knows the subscription; a stale created
			// event for a long-gone ref must not displace the current record.
			log.Debug().Err(err).Str("subscription_ref", ev.SubscriptionRef).Msg("created event for unresolvable subscription, ignoring")
			return nil
		}
		if !ps.Status.Healthy() {
			log.Debug().Str("subscription_ref", ev.SubscriptionRef).Msg("created event for already-ended subscription, ignoring")
			return nil
		}
	}

	// Ref of a different live subscription displaced by this one; canceled
	// at the provider after the transaction commits.
	var displacedRef string

	err = u.tm.WithTenantLock(ctx, tenantID, func(ctx context.Context, tx repository.Tx) error {
		sub, err := u.subs.FindByTenant(ctx, tx, tenantID)
		if isNotFound(err) {
			sub = model.NewSubscription(tenantID)
			err = nil
		}
		if err != nil {
			return err
		}

		if sub.SubscriptionRef != nil && *sub.SubscriptionRef != ev.SubscriptionRef && sub.Status.Healthy() {
			displacedRef = *sub.SubscriptionRef
			log.Warn().
				Int64("tenant_id", tenantID).
				Str("old_ref", displacedRef).
				Str("new_ref", ev.SubscriptionRef).
				Msg("double subscription detected, canceling old one")
			metrics.IncWebhookAnomaly("double_subscription")
		}

		sub.CustomerRef = orKeep(sub.CustomerRef, ev.CustomerRef)
		sub.SubscriptionRef = strPtr(ev.SubscriptionRef)
		sub.SubscriptionItemRef = orKeep(sub.SubscriptionItemRef, ev.SubscriptionItemRef)
		sub.PriceRef = strPtr(ev.PriceRef)
		if ev.Status != "" {
			sub.Status = ev.Status
		} else {
			sub.Status = model.StatusActive
		}
		sub.CurrentPeriodStart = ev.CurrentPeriodStart
		sub.CurrentPeriodEnd = ev.CurrentPeriodEnd
		sub.CancelAtPeriodEnd = ev.CancelAtPeriodEnd

		tier, mrr := deriveTier(u.catalog, log, ev.PriceRef)
		sub.SetPricing(tier, mrr)
		sub.ClearGrace()
		sub.UpdatedAt = time.Now().UTC()
		return u.subs.Save(ctx, tx, sub)
	})
	if err != nil {
		return err
	}

	if displacedRef != "" {
		cancelCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := u.provider.CancelSubscription(cancelCtx, displacedRef); err != nil {
			log.Error().Err(err).Str("subscription_ref", displacedRef).Msg("failed to cancel displaced subscription")
		}
	}
	return nil
}

func (u *reconcilerUC) handleSubscriptionUpdated(ctx context.Context, log *zerolog.Logger, ev *model.BillingEvent) error {
	tenantID, err := u.tenantFor(ctx, ev)
	if isNotFound(err) {
		log.Debug().Str("subscription_ref", ev.SubscriptionRef).Msg("update for unknown subscription, ignoring")
		return nil
	}
	if err != nil {
		return err
	}

	return u.tm.WithTenantLock(ctx, tenantID, func(ctx context.Context, tx repository.Tx) error {
		sub, err := u.subs.FindByTenant(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if sub.SubscriptionRef != nil && *sub.SubscriptionRef != ev.SubscriptionRef {
			// Stale ref: this tenant moved to a different subscription.
			log.Debug().Str("subscription_ref", ev.SubscriptionRef).Msg("update for superseded subscription, no-op")
			return nil
		}
		if sub.SubscriptionRef == nil {
			// Tenant resolved via customer ref before the created event
			// landed; adopt the subscription now.
			sub.SubscriptionRef = strPtr(ev.SubscriptionRef)
		}

		if ev.Status != "" {
			sub.Status = ev.Status
		}
		if ev.PriceRef != "" {
			sub.PriceRef = strPtr(ev.PriceRef)
		}
		sub.SubscriptionItemRef = orKeep(sub.SubscriptionItemRef, ev.SubscriptionItemRef)
		if ev.CurrentPeriodStart != nil {
			sub.CurrentPeriodStart = ev.CurrentPeriodStart
		}
		if ev.CurrentPeriodEnd != nil {
			sub.CurrentPeriodEnd = ev.CurrentPeriodEnd
		}
		sub.CancelAtPeriodEnd = ev.CancelAtPeriodEnd

		tier, mrr := deriveTier(u.catalog, log, derefOr(sub.PriceRef, ""))
		sub.SetPricing(tier, mrr)

		switch {
		case ev.CancellationPending() && sub.Status.Healthy():
			routineID, err := u.preservedRoutine(ctx, tx, sub)
			if err != nil {
				return err
			}
			sub.EnterGrace(time.Now(), routineID)
			metrics.IncGraceEntries()
		case sub.Status.Healthy():
			sub.ClearGrace()
		}

		sub.UpdatedAt = time.Now().UTC()
		return u.subs.Save(ctx, tx, sub)
	})
}

func (u *reconcilerUC) handleSubscriptionDeleted(ctx context.Context, log *zerolog.Logger, ev *model.BillingEvent) error {
	tenantID, err := u.tenantFor(ctx, ev)
	if isNotFound(err) {
		log.Debug().Str("subscription_ref", ev.SubscriptionRef).Msg("delete for unknown subscription, ignoring")
		return nil
	}
	if err != nil {
		return err
	}

	return u.tm.WithTenantLock(ctx, tenantID, func(ctx context.Context, tx repository.Tx) error {
		sub, err := u.subs.FindByTenant(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if sub.SubscriptionRef == nil || *sub.SubscriptionRef != ev.SubscriptionRef {
			log.Debug().Str("subscription_ref", ev.SubscriptionRef).Msg("delete for superseded subscription, no-op")
			return nil
		}

		sub.Status = model.StatusCanceled
		if ev.CancellationReason.Automatic() {
			// Payment failure or dispute: hard downgrade, no grace window.
			sub.ClearGrace()
		} else {
			routineID, err := u.preservedRoutine(ctx, tx, sub)
			if err != nil {
				return err
			}
			sub.EnterGrace(time.Now(), routineID)
			metrics.IncGraceEntries()
		}
		sub.SetPricing(model.TierFree, 0)
		sub.DetachProvider()
		sub.UpdatedAt = time.Now().UTC()
		return u.subs.Save(ctx, tx, sub)
	})
}

func (u *reconcilerUC) handleInvoicePaymentSucceeded(ctx context.Context, log *zerolog.Logger, ev *model.BillingEvent) error {
	tenantID, err := u.tenantFor(ctx, ev)
	if isNotFound(err) {
		log.Debug().Str("customer_ref", ev.CustomerRef).Msg("payment success for unknown tenant, ignoring")
		return nil
	}
	if err != nil {
		return err
	}

	return u.tm.WithTenantLock(ctx, tenantID, func(ctx context.Context, tx repository.Tx) error {
		sub, err := u.subs.FindByTenant(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if sub.SubscriptionRef != nil && ev.SubscriptionRef != "" && *sub.SubscriptionRef != ev.SubscriptionRef {
			// Late invoice for a subscription this tenant no longer holds.
			log.Debug().Str("subscription_ref", ev.SubscriptionRef).Msg("payment success for superseded subscription, no-op")
			return nil
		}

		// Reactivation always wins over a pending lapse. A scheduled
		// deletion record is untouched; only the explicit cancel path
		// clears that.
		sub.Status = model.StatusActive
		sub.ClearGrace()
		sub.CancelAtPeriodEnd = false
		if ev.CurrentPeriodStart != nil {
			sub.CurrentPeriodStart = ev.CurrentPeriodStart
		}
		if ev.CurrentPeriodEnd != nil {
			sub.CurrentPeriodEnd = ev.CurrentPeriodEnd
		}
		tier, mrr := deriveTier(u.catalog, log, derefOr(sub.PriceRef, ""))
		if derefOr(sub.PriceRef, "") != "" {
			sub.SetPricing(tier, mrr)
		}
		sub.UpdatedAt = time.Now().UTC()
		return u.subs.Save(ctx, tx, sub)
	})
}

func (u *reconcilerUC) handleInvoicePaymentFailed(ctx context.Context, log *zerolog.Logger, ev *model.BillingEvent) error {
	tenantID, err := u.tenantFor(ctx, ev)
	if isNotFound(err) {
		log.Debug().Str("customer_ref", ev.CustomerRef).Msg("payment failure for unknown tenant, ignoring")
		return nil
	}
	if err != nil {
		return err
	}

	return u.tm.WithTenantLock(ctx, tenantID, func(ctx context.Context, tx repository.Tx) error {
		sub, err := u.subs.FindByTenant(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if sub.SubscriptionRef != nil && ev.SubscriptionRef != "" && *sub.SubscriptionRef != ev.SubscriptionRef {
			log.Debug().Str("subscription_ref", ev.SubscriptionRef).Msg("payment failure for superseded subscription, no-op")
			return nil
		}
		sub.Status = model.StatusPastDue
		// No tier change; the MRR invariant zeroes the revenue figure.
		sub.SetPricing(sub.Tier, sub.MRRCents)
		sub.UpdatedAt = time.Now().UTC()
		return u.subs.Save(ctx, tx, sub)
	})
}

// preservedRoutine picks the routine kept accessible through the grace
// window: the recorded active one when still owned by the tenant, otherwise
// the most recently created.
func (u *reconcilerUC) preservedRoutine(ctx context.Context, tx repository.Tx, sub *model.Subscription) (*int64, error) {
	if sub.LastActiveRoutineID != nil {
		r, err := u.routines.FindByID(ctx, tx, *sub.LastActiveRoutineID)
		if err == nil && r.TenantID == sub.TenantID {
			return sub.LastActiveRoutineID, nil
		}
		if err != nil && !isNotFound(err) {
			return nil, err
		}
	}
	r, err := u.routines.MostRecent(ctx, tx, sub.TenantID)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r.ID, nil
}

func strPtr(s string) *string { return &s }

func orKeep(cur *string, val string) *string {
	if val == "" {
		return cur
	}
	return &val
}

func derefOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}
