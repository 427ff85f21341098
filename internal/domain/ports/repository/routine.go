package repository

import (
	"context"

	"practice-entitlement-engine/internal/domain/model"
)

// -----------------------------
// Routines
// -----------------------------

type RoutineRepository interface {
	Save(ctx context.Context, tx Tx, r *model.Routine) error
	FindByID(ctx context.Context, tx Tx, id int64) (*model.Routine, error)

	// MostRecent returns the tenant's newest routine: latest created_at,
	// ties broken by highest id. Returns domain.ErrNotFound when the tenant
	// has none.
	MostRecent(ctx context.Context, tx Tx, tenantID int64) (*model.Routine, error)
}
