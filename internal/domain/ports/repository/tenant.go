package repository

import (
	"context"
	"time"

	"practice-entitlement-engine/internal/domain/model"
)

// -----------------------------
// Tenant identities
// -----------------------------

type TenantRepository interface {
	FindByID(ctx context.Context, tx Tx, id int64) (*model.TenantIdentity, error)

	// ListInactiveSince returns identities with no recorded activity since
	// the cutoff that have not opted out of reminders and were not reminded
	// inside the cutoff window.
	ListInactiveSince(ctx context.Context, tx Tx, cutoff time.Time, limit int) ([]*model.TenantIdentity, error)
	MarkInactivityEmailSent(ctx context.Context, tx Tx, id int64, at time.Time) error

	// PurgeTenantData removes every tenant-owned record except the identity
	// and subscription rows, child tables first. Counts feed the audit log.
	PurgeTenantData(ctx context.Context, tx Tx, tenantID int64) (model.PurgeCounts, error)

	// Delete removes the identity row itself. Runs last in the purge order.
	Delete(ctx context.Context, tx Tx, id int64) error
}
