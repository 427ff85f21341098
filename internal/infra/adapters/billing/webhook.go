// File: internal/infra/adapters/billing/webhook.go
package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"practice-entitlement-engine/internal/domain"
	"practice-entitlement-engine/internal/domain/model"
)

// SignatureTolerance bounds how old a signed payload may be; replays outside
// the window are rejected even with a valid MAC.
const SignatureTolerance = 5 * time.Minute

// VerifySignature checks a "t=<unix>,v1=<hex hmac>" signature header against
// the shared webhook secret. The signed message is "<t>.<payload>".
func VerifySignature(payload []byte, header, secret string, now time.Time) error {
	var ts int64
	var macs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return domain.ErrInvalidSignature
			}
			ts = parsed
		case "v1":
			macs = append(macs, v)
		}
	}
	if ts == 0 || len(macs) == 0 {
		return domain.ErrInvalidSignature
	}

	age := now.Sub(time.Unix(ts, 0))
	if age > SignatureTolerance || age < -SignatureTolerance {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, got := range macs {
		if hmac.Equal([]byte(expected), []byte(got)) {
			return nil
		}
	}
	return domain.ErrInvalidSignature
}

// stripeEvent is the envelope shape shared by all event types.
type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeEventObject struct {
	ID       string            `json:"id"`
	Customer string            `json:"customer"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`

	// Checkout session fields.
	Subscription string `json:"subscription"`

	// Subscription fields.
	CancelAtPeriodEnd  bool  `json:"cancel_at_period_end"`
	CancelAt           int64 `json:"cancel_at"`
	CurrentPeriodStart int64 `json:"current_period_start"`
	CurrentPeriodEnd   int64 `json:"current_period_end"`
	CancellationDetails struct {
		Reason string `json:"reason"`
	} `json:"cancellation_details"`
	Items struct {
		Data []struct {
			ID    string `json:"id"`
			Price struct {
				ID         string `json:"id"`
				UnitAmount int64  `json:"unit_amount"`
				Recurring  struct {
					Interval string `json:"interval"`
				} `json:"recurring"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// ParseEvent decodes a verified webhook payload into the provider-agnostic
// event the reconciler consumes.
func ParseEvent(payload []byte) (*model.BillingEvent, error) {
	var env stripeEvent
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, domain.ErrInvalidArgument
	}
	var obj stripeEventObject
	if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
		return nil, domain.ErrInvalidArgument
	}

	ev := &model.BillingEvent{
		ID:                 env.ID,
		Kind:               model.ParseEventKind(env.Type),
		CustomerRef:        obj.Customer,
		Status:             model.Status(obj.Status),
		CancelAtPeriodEnd:  obj.CancelAtPeriodEnd,
		CancelAt:           unixPtr(obj.CancelAt),
		CurrentPeriodStart: unixPtr(obj.CurrentPeriodStart),
		CurrentPeriodEnd:   unixPtr(obj.CurrentPeriodEnd),
		CancellationReason: model.CancellationReason(obj.CancellationDetails.Reason),
		Raw:                payload,
	}

	switch ev.Kind {
	case model.EventCheckoutCompleted, model.EventInvoicePaymentSucceeded, model.EventInvoicePaymentFailed:
		// Checkout sessions and invoices carry the subscription in a
		// dedicated field; the object id names the session or invoice.
		ev.SubscriptionRef = obj.Subscription
	default:
		ev.SubscriptionRef = obj.ID
	}
	if len(obj.Items.Data) > 0 {
		item := obj.Items.Data[0]
		ev.SubscriptionItemRef = item.ID
		ev.PriceRef = item.Price.ID
		ev.PriceAmountCents = item.Price.UnitAmount
		ev.PriceInterval = model.Interval(item.Price.Recurring.Interval)
	}
	if raw, ok := obj.Metadata["tenant_id"]; ok {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			ev.TenantID = id
		}
	}
	if tier, ok := obj.Metadata["tier"]; ok {
		ev.TierHint = model.Tier(tier)
	}
	return ev, nil
}
