package model

import "time"

// TenantIdentity is the account a Subscription belongs to. Identity
// verification itself lives outside the engine; this record exists so the
// termination workflow can purge it and the sweeps can address the owner.
type TenantIdentity struct {
	ID           int64
	Email        string
	Username     string
	RegisteredAt time.Time
	LastActiveAt *time.Time

	// Inactivity-reminder tracking.
	InactivityOptOut        bool
	LastInactivityEmailSent *time.Time
}
