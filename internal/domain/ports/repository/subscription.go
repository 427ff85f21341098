package repository

import (
	"context"
	"time"

	"practice-entitlement-engine/internal/domain/model"
)

// -----------------------------
// Subscriptions
// -----------------------------

type SubscriptionRepository interface {
	// Save upserts on tenant id; a tenant has at most one subscription row.
	Save(ctx context.Context, tx Tx, sub *model.Subscription) error
	FindByTenant(ctx context.Context, tx Tx, tenantID int64) (*model.Subscription, error)
	FindBySubscriptionRef(ctx context.Context, tx Tx, subscriptionRef string) (*model.Subscription, error)
	FindByCustomerRef(ctx context.Context, tx Tx, customerRef string) (*model.Subscription, error)

	// ListDueForDeletion returns subscriptions whose scheduled deletion date
	// has passed, oldest first.
	ListDueForDeletion(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.Subscription, error)

	// ListPaying returns healthy subscriptions on a paid tier whose current
	// period end has passed, for the period-refresh sweep.
	ListPaying(ctx context.Context, tx Tx, periodEndBefore time.Time, limit int) ([]*model.Subscription, error)

	// ResetExpiredQuotaWindows zeroes quota counters whose window has
	// passed, in bulk. A fallback for the lazy per-row heal; returns the
	// number of rows touched.
	ResetExpiredQuotaWindows(ctx context.Context, tx Tx, now time.Time) (int64, error)

	CountByStatus(ctx context.Context, tx Tx) (map[model.Status]int, error)
	Delete(ctx context.Context, tx Tx, tenantID int64) error
}
