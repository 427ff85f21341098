package model

import (
	"time"
)

type Tier string

const (
	TierFree          Tier = "free"
	TierBasic         Tier = "basic"
	TierTheGoods      Tier = "thegoods"
	TierMoreGoods     Tier = "moregoods"
	TierTheMost       Tier = "themost"
	TierComplimentary Tier = "complimentary"
)

type Status string

const (
	StatusTrialing   Status = "trialing"
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
	StatusIncomplete Status = "incomplete"
)

// Healthy reports whether the subscription is in good billing standing.
// MRR may only be non-zero in a healthy status.
func (s Status) Healthy() bool {
	return s == StatusActive || s == StatusTrialing
}

type DeletionType string

const (
	DeletionImmediate DeletionType = "immediate"
	DeletionScheduled DeletionType = "scheduled"
)

// GraceWindow is how long a lapsed tenant keeps restricted access before
// their data becomes eligible for deletion.
const GraceWindow = 90 * 24 * time.Hour

// Subscription is the canonical per-tenant entitlement record, 1:1 with the
// tenant identity. All money fields are integer cents.
type Subscription struct {
	ID       int64
	TenantID int64

	// Opaque billing-provider correlation ids. Nullable, unique when present.
	CustomerRef         *string
	SubscriptionRef     *string
	SubscriptionItemRef *string
	PriceRef            *string

	Tier   Tier
	Status Status

	// MRRCents is derived from the active price normalized to monthly.
	// It is zero whenever Status is not healthy.
	MRRCents int64

	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool

	// Grace-period ("unplugged") tracking.
	UnpluggedMode       bool
	LapseDate           *time.Time
	DataDeletionDate    *time.Time // always LapseDate + GraceWindow
	LastActiveRoutineID *int64

	// Once-per-billing-period gate for pause/unpause.
	LastPauseAction *time.Time

	// Termination workflow.
	DeletionScheduledFor *time.Time
	DeletionType         *DeletionType
	ProratedRefundCents  *int64

	// Metered-feature quota windows.
	QuotaUsedToday     int
	QuotaUsedThisHour  int
	QuotaDailyResetAt  *time.Time
	QuotaHourlyResetAt *time.Time

	IsComplimentary     bool
	ComplimentaryReason *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSubscription creates the record attached to a tenant at signup.
// Every tenant starts on the free tier in active standing.
func NewSubscription(tenantID int64) *Subscription {
	now := time.Now().UTC()
	return &Subscription{
		TenantID:  tenantID,
		Tier:      TierFree,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Owner implements tenant.Owned.
func (s *Subscription) Owner() int64 { return s.TenantID }

// EnterGrace puts the subscription into unplugged mode, pinning the grace
// bounds to now and preserving routineID for restricted access. A nil
// routineID means the tenant has no routines; access degrades to none.
func (s *Subscription) EnterGrace(now time.Time, routineID *int64) {
	lapse := now.UTC()
	deletion := lapse.Add(GraceWindow)
	s.UnpluggedMode = true
	s.LapseDate = &lapse
	s.DataDeletionDate = &deletion
	if s.LastActiveRoutineID == nil {
		s.LastActiveRoutineID = routineID
	}
}

// ClearGrace removes all lapse tracking. Reactivation always wins over a
// pending lapse.
func (s *Subscription) ClearGrace() {
	s.UnpluggedMode = false
	s.LapseDate = nil
	s.DataDeletionDate = nil
	s.LastActiveRoutineID = nil
}

// SetPricing applies a tier and normalized-to-monthly revenue figure derived
// from a provider price. MRR is forced to zero outside healthy statuses so
// the invariant cannot be violated by callers setting fields directly.
func (s *Subscription) SetPricing(tier Tier, mrrCents int64) {
	s.Tier = tier
	if s.Status.Healthy() {
		s.MRRCents = mrrCents
	} else {
		s.MRRCents = 0
	}
}

// DetachProvider clears the external subscription linkage after a provider-
// side cancellation. The customer ref is kept so a later resume can reuse it.
func (s *Subscription) DetachProvider() {
	s.SubscriptionRef = nil
	s.SubscriptionItemRef = nil
	s.PriceRef = nil
	s.CancelAtPeriodEnd = false
}

// PauseAllowed reports whether a pause/unpause action is permitted under the
// once-per-billing-period rule, and when the gate reopens if not.
func (s *Subscription) PauseAllowed(now time.Time) (bool, time.Time) {
	if s.LastPauseAction == nil {
		return true, time.Time{}
	}
	if s.CurrentPeriodStart != nil && s.LastPauseAction.Before(*s.CurrentPeriodStart) {
		return true, time.Time{}
	}
	if s.CurrentPeriodEnd != nil {
		return false, *s.CurrentPeriodEnd
	}
	// No period bounds on record: fall back to 30 days after the last action.
	return false, s.LastPauseAction.Add(30 * 24 * time.Hour)
}
