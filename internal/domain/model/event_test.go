// File: internal/domain/model/event_test.go
package model

import (
	"testing"
	"time"
)

func TestParseEventKind(t *testing.T) {
	cases := map[string]EventKind{
		"checkout.session.completed":    EventCheckoutCompleted,
		"customer.subscription.created": EventSubscriptionCreated,
		"customer.subscription.updated": EventSubscriptionUpdated,
		"customer.subscription.deleted": EventSubscriptionDeleted,
		"invoice.payment_succeeded":     EventInvoicePaymentSucceeded,
		"invoice.payment_failed":        EventInvoicePaymentFailed,
		"customer.created":              EventUnknown,
		"":                              EventUnknown,
	}
	for s, want := range cases {
		if got := ParseEventKind(s); got != want {
			t.Errorf("ParseEventKind(%q) = %v, want %v", s, got, want)
		}
	}
}

func TestEventKindStringRoundTrip(t *testing.T) {
	for _, k := range []EventKind{
		EventCheckoutCompleted, EventSubscriptionCreated, EventSubscriptionUpdated,
		EventSubscriptionDeleted, EventInvoicePaymentSucceeded, EventInvoicePaymentFailed,
	} {
		if got := ParseEventKind(k.String()); got != k {
			t.Errorf("round trip for %v gave %v", k, got)
		}
	}
}

func TestCancellationReasonAutomatic(t *testing.T) {
	if CancelReasonUserRequested.Automatic() {
		t.Error("user-requested cancellation is not automatic")
	}
	if !CancelReasonPaymentFailed.Automatic() || !CancelReasonPaymentDisputed.Automatic() {
		t.Error("payment failure and dispute are provider-initiated")
	}
}

func TestCancellationPending(t *testing.T) {
	e := &BillingEvent{}
	if e.CancellationPending() {
		t.Error("clean event flagged as pending cancellation")
	}
	e.CancelAtPeriodEnd = true
	if !e.CancellationPending() {
		t.Error("cancel_at_period_end not detected")
	}

	at := time.Now()
	e = &BillingEvent{CancelAt: &at}
	if !e.CancellationPending() {
		t.Error("cancel_at not detected")
	}
}
