package model

import "time"

// EventKind is the closed set of billing-provider notifications the engine
// reconciles. Dispatch is an exhaustive switch: a new kind is a compile-time
// decision, not a silently-ignored default branch.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventCheckoutCompleted
	EventSubscriptionCreated
	EventSubscriptionUpdated
	EventSubscriptionDeleted
	EventInvoicePaymentSucceeded
	EventInvoicePaymentFailed
)

var eventKindNames = map[EventKind]string{
	EventUnknown:                 "unknown",
	EventCheckoutCompleted:       "checkout.session.completed",
	EventSubscriptionCreated:     "customer.subscription.created",
	EventSubscriptionUpdated:     "customer.subscription.updated",
	EventSubscriptionDeleted:     "customer.subscription.deleted",
	EventInvoicePaymentSucceeded: "invoice.payment_succeeded",
	EventInvoicePaymentFailed:    "invoice.payment_failed",
}

func (k EventKind) String() string { return eventKindNames[k] }

// ParseEventKind maps a provider event type string to its kind.
func ParseEventKind(s string) EventKind {
	for k, name := range eventKindNames {
		if k != EventUnknown && name == s {
			return k
		}
	}
	return EventUnknown
}

// CancellationReason distinguishes a user-initiated cancellation (grace
// period applies) from an automatic one (payment failure/dispute, no grace).
type CancellationReason string

const (
	CancelReasonUserRequested   CancellationReason = "cancellation_requested"
	CancelReasonPaymentFailed   CancellationReason = "payment_failed"
	CancelReasonPaymentDisputed CancellationReason = "payment_disputed"
)

// Automatic reports whether the provider ended the subscription on its own.
func (r CancellationReason) Automatic() bool {
	return r == CancelReasonPaymentFailed || r == CancelReasonPaymentDisputed
}

// BillingEvent is the provider-agnostic shape of a webhook notification
// after payload decoding. Delivery is at-least-once and unordered; every
// field the reconciler needs is carried here so handlers stay pure.
type BillingEvent struct {
	ID   string
	Kind EventKind

	// TenantID comes from provider-side metadata stamped at checkout time.
	// Zero when the event carries no metadata (invoice events).
	TenantID int64
	TierHint Tier

	CustomerRef         string
	SubscriptionRef     string
	SubscriptionItemRef string
	PriceRef            string
	PriceAmountCents    int64
	PriceInterval       Interval

	Status             Status
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	CancelAt           *time.Time
	CancellationReason CancellationReason

	Raw []byte
}

// CancellationPending reports whether the event signals an upcoming
// provider-side cancellation.
func (e *BillingEvent) CancellationPending() bool {
	return e.CancelAtPeriodEnd || e.CancelAt != nil
}

// DeadLetter is a billing event whose processing failed after the delivery
// was acknowledged. Kept for operator replay.
type DeadLetter struct {
	ID         int64
	EventID    string
	EventKind  EventKind
	TenantID   int64
	Payload    []byte
	FailReason string
	FailedAt   time.Time
	Resolved   bool
}
