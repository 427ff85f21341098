// File: internal/infra/adapters/billing/noop_billing.go
package billing

import (
	"context"

	"practice-entitlement-engine/internal/domain"
	"practice-entitlement-engine/internal/domain/model"
	"practice-entitlement-engine/internal/domain/ports/adapter"
)

var _ adapter.BillingProvider = (*NoopGateway)(nil)

// NoopGateway is a stand-in provider for development and tests.
type NoopGateway struct{}

func NewNoopGateway() *NoopGateway { return &NoopGateway{} }

func (NoopGateway) CreateCheckoutSession(ctx context.Context, tenantID int64, customerRef, priceRef, successURL, cancelURL string) (*adapter.CheckoutSession, error) {
	return &adapter.CheckoutSession{ID: "cs_noop", URL: "https://example.invalid/checkout"}, nil
}

func (NoopGateway) CreatePortalSession(ctx context.Context, customerRef, returnURL string) (*adapter.PortalSession, error) {
	return &adapter.PortalSession{URL: "https://example.invalid/portal"}, nil
}

func (NoopGateway) GetSubscription(ctx context.Context, subscriptionRef string) (*adapter.ProviderSubscription, error) {
	return &adapter.ProviderSubscription{SubscriptionRef: subscriptionRef, Status: model.StatusActive}, nil
}

func (NoopGateway) UpdateSubscriptionPrice(ctx context.Context, subscriptionRef, subscriptionItemRef, priceRef string) error {
	return nil
}

func (NoopGateway) SetCancelAtPeriodEnd(ctx context.Context, subscriptionRef string, cancel bool) error {
	return nil
}

func (NoopGateway) CancelSubscription(ctx context.Context, subscriptionRef string) error { return nil }

func (NoopGateway) LastPayment(ctx context.Context, customerRef string) (*adapter.Payment, error) {
	return nil, domain.ErrNotFound
}

func (NoopGateway) Refund(ctx context.Context, customerRef, subscriptionRef string, amountCents int64) error {
	return nil
}
