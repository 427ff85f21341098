package adapter

import (
	"context"
	"time"

	"practice-entitlement-engine/internal/domain/model"
)

// CheckoutSession is a provider-hosted payment page for a new subscription.
type CheckoutSession struct {
	ID  string
	URL string
}

// PortalSession is a provider-hosted self-service billing page.
type PortalSession struct {
	URL string
}

// ProviderSubscription is the provider's current view of a subscription,
// fetched on demand when a webhook payload is too thin to act on.
type ProviderSubscription struct {
	SubscriptionRef     string
	SubscriptionItemRef string
	CustomerRef         string
	PriceRef            string
	Status              model.Status
	CurrentPeriodStart  *time.Time
	CurrentPeriodEnd    *time.Time
	CancelAtPeriodEnd   bool
}

// Payment is the most recent charge on a customer, for receipts.
type Payment struct {
	AmountCents int64
	Currency    string
	PaidAt      time.Time
	CardBrand   string
	CardLast4   string
	ReceiptURL  string
}

// BillingProvider is the outbound payment-provider port. All calls are
// network calls; none may run inside a database transaction.
type BillingProvider interface {
	CreateCheckoutSession(ctx context.Context, tenantID int64, customerRef, priceRef, successURL, cancelURL string) (*CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerRef, returnURL string) (*PortalSession, error)

	GetSubscription(ctx context.Context, subscriptionRef string) (*ProviderSubscription, error)
	UpdateSubscriptionPrice(ctx context.Context, subscriptionRef, subscriptionItemRef, priceRef string) error
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionRef string, cancel bool) error
	CancelSubscription(ctx context.Context, subscriptionRef string) error

	LastPayment(ctx context.Context, customerRef string) (*Payment, error)

	// Refund issues a partial refund against the tenant's latest paid
	// charge, located by customer ref when available and by subscription
	// ref otherwise. Used by account deletion for unspent period time.
	Refund(ctx context.Context, customerRef, subscriptionRef string, amountCents int64) error
}
