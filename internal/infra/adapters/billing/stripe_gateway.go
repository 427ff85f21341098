// File: internal/infra/adapters/billing/stripe_gateway.go
package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"practice-entitlement-engine/internal/domain"
	"practice-entitlement-engine/internal/domain/model"
	"practice-entitlement-engine/internal/domain/ports/adapter"
)

var _ adapter.BillingProvider = (*StripeGateway)(nil)

// StripeGateway implements adapter.BillingProvider against the Stripe REST
// API (form-encoded v1 endpoints).
type StripeGateway struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewStripeGateway(apiKey, baseURL string) *StripeGateway {
	if baseURL == "" {
		baseURL = "https://api.stripe.com/v1"
	}
	return &StripeGateway{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (g *StripeGateway) Name() string { return "stripe" }

// do posts a form-encoded request (or GET when form is nil) and decodes the
// JSON response into out. Network failures and 5xx map to transient
// ProviderErrors; 4xx to non-transient ones.
func (g *StripeGateway) do(ctx context.Context, op, method, path string, form url.Values, out interface{}) error {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return &domain.ProviderError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if method == http.MethodPost {
		// Stripe dedupes retried mutations on this key.
		req.Header.Set("Idempotency-Key", newIdempotencyKey())
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return &domain.ProviderError{Op: op, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &domain.ProviderError{
			Op:        op,
			Status:    resp.StatusCode,
			Transient: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
			Err:       fmt.Errorf("%s: %s", apiErr.Error.Type, apiErr.Error.Message),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.ProviderError{Op: op, Err: err}
	}
	return nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, tenantID int64, customerRef, priceRef, successURL, cancelURL string) (*adapter.CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("line_items[0][price]", priceRef)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", successURL)
	form.Set("cancel_url", cancelURL)
	// The tenant id rides along as metadata so the webhook can correlate
	// the resulting subscription without a provider-side lookup.
	form.Set("metadata[tenant_id]", strconv.FormatInt(tenantID, 10))
	form.Set("subscription_data[metadata][tenant_id]", strconv.FormatInt(tenantID, 10))
	if customerRef != "" {
		form.Set("customer", customerRef)
	}

	var out struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := g.do(ctx, "create_checkout_session", http.MethodPost, "/checkout/sessions", form, &out); err != nil {
		return nil, err
	}
	return &adapter.CheckoutSession{ID: out.ID, URL: out.URL}, nil
}

func (g *StripeGateway) CreatePortalSession(ctx context.Context, customerRef, returnURL string) (*adapter.PortalSession, error) {
	form := url.Values{}
	form.Set("customer", customerRef)
	form.Set("return_url", returnURL)

	var out struct {
		URL string `json:"url"`
	}
	if err := g.do(ctx, "create_portal_session", http.MethodPost, "/billing_portal/sessions", form, &out); err != nil {
		return nil, err
	}
	return &adapter.PortalSession{URL: out.URL}, nil
}

type stripeSubscription struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Items              struct {
		Data []struct {
			ID    string `json:"id"`
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (g *StripeGateway) GetSubscription(ctx context.Context, subscriptionRef string) (*adapter.ProviderSubscription, error) {
	var out stripeSubscription
	if err := g.do(ctx, "get_subscription", http.MethodGet, "/subscriptions/"+subscriptionRef, nil, &out); err != nil {
		return nil, err
	}

	ps := &adapter.ProviderSubscription{
		SubscriptionRef:    out.ID,
		CustomerRef:        out.Customer,
		Status:             model.Status(out.Status),
		CancelAtPeriodEnd:  out.CancelAtPeriodEnd,
		CurrentPeriodStart: unixPtr(out.CurrentPeriodStart),
		CurrentPeriodEnd:   unixPtr(out.CurrentPeriodEnd),
	}
	if len(out.Items.Data) > 0 {
		ps.SubscriptionItemRef = out.Items.Data[0].ID
		ps.PriceRef = out.Items.Data[0].Price.ID
	}
	return ps, nil
}

func (g *StripeGateway) UpdateSubscriptionPrice(ctx context.Context, subscriptionRef, subscriptionItemRef, priceRef string) error {
	form := url.Values{}
	form.Set("items[0][id]", subscriptionItemRef)
	form.Set("items[0][price]", priceRef)
	form.Set("proration_behavior", "create_prorations")
	return g.do(ctx, "update_subscription_price", http.MethodPost, "/subscriptions/"+subscriptionRef, form, nil)
}

func (g *StripeGateway) SetCancelAtPeriodEnd(ctx context.Context, subscriptionRef string, cancel bool) error {
	form := url.Values{}
	form.Set("cancel_at_period_end", strconv.FormatBool(cancel))
	return g.do(ctx, "set_cancel_at_period_end", http.MethodPost, "/subscriptions/"+subscriptionRef, form, nil)
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, subscriptionRef string) error {
	return g.do(ctx, "cancel_subscription", http.MethodDelete, "/subscriptions/"+subscriptionRef, nil, nil)
}

func (g *StripeGateway) LastPayment(ctx context.Context, customerRef string) (*adapter.Payment, error) {
	var out struct {
		Data []struct {
			AmountPaid int64  `json:"amount_paid"`
			Currency   string `json:"currency"`
			Created    int64  `json:"created"`
			HostedURL  string `json:"hosted_invoice_url"`
			Charge     struct {
				PaymentMethodDetails struct {
					Card struct {
						Brand string `json:"brand"`
						Last4 string `json:"last4"`
					} `json:"card"`
				} `json:"payment_method_details"`
			} `json:"charge"`
		} `json:"data"`
	}
	path := "/invoices?customer=" + url.QueryEscape(customerRef) + "&status=paid&limit=10&expand[]=data.charge"
	if err := g.do(ctx, "last_payment", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	for _, inv := range out.Data {
		if inv.AmountPaid <= 0 {
			continue
		}
		return &adapter.Payment{
			AmountCents: inv.AmountPaid,
			Currency:    inv.Currency,
			PaidAt:      time.Unix(inv.Created, 0).UTC(),
			CardBrand:   inv.Charge.PaymentMethodDetails.Card.Brand,
			CardLast4:   inv.Charge.PaymentMethodDetails.Card.Last4,
			ReceiptURL:  inv.HostedURL,
		}, nil
	}
	return nil, domain.ErrNotFound
}

func (g *StripeGateway) Refund(ctx context.Context, customerRef, subscriptionRef string, amountCents int64) error {
	// Find the latest paid charge. The customer ref outlives the
	// subscription, so it is the primary lookup key.
	var inv struct {
		Data []struct {
			Charge string `json:"charge"`
		} `json:"data"`
	}
	var path string
	switch {
	case customerRef != "":
		path = "/invoices?customer=" + url.QueryEscape(customerRef) + "&status=paid&limit=1"
	case subscriptionRef != "":
		path = "/invoices?subscription=" + url.QueryEscape(subscriptionRef) + "&status=paid&limit=1"
	default:
		return &domain.ProviderError{Op: "refund", Err: fmt.Errorf("no customer or subscription to refund against")}
	}
	if err := g.do(ctx, "refund_lookup", http.MethodGet, path, nil, &inv); err != nil {
		return err
	}
	if len(inv.Data) == 0 || inv.Data[0].Charge == "" {
		return &domain.ProviderError{Op: "refund", Err: fmt.Errorf("no charge found for customer %q subscription %q", customerRef, subscriptionRef)}
	}

	form := url.Values{}
	form.Set("charge", inv.Data[0].Charge)
	form.Set("amount", strconv.FormatInt(amountCents, 10))
	return g.do(ctx, "refund", http.MethodPost, "/refunds", form, nil)
}

func newIdempotencyKey() string {
	return ulid.Make().String()
}

func unixPtr(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
