package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"practice-entitlement-engine/internal/domain"
	"practice-entitlement-engine/internal/domain/model"
	"practice-entitlement-engine/internal/domain/ports/repository"
	"practice-entitlement-engine/internal/domain/tenant"
)

// Ensure routineRepo implements repository.RoutineRepository
var _ repository.RoutineRepository = (*routineRepo)(nil)

type routineRepo struct {
	pool *pgxpool.Pool
}

func NewRoutineRepo(pool *pgxpool.Pool) *routineRepo {
	return &routineRepo{pool: pool}
}

func (r *routineRepo) Save(ctx context.Context, tx repository.Tx, rt *model.Routine) error {
	// New rows carry the tenant id from the request identity, never from
	// the payload.
	if rt.ID == 0 {
		id, err := tenant.Stamp(ctx)
		if err != nil {
			return err
		}
		rt.TenantID = id
	} else if tid, ok := tenant.FromContext(ctx); ok && !tenant.Owns(rt, tid) {
		return domain.ErrNotOwner
	}

	const q = `
INSERT INTO routines (id, tenant_id, name, display_order, created_at)
VALUES (COALESCE(NULLIF($1,0), nextval('routines_id_seq')), $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET name=$3, display_order=$4
RETURNING id;`
	row, err := pickRow(ctx, r.pool, tx, q, rt.ID, rt.TenantID, rt.Name, rt.Order, rt.CreatedAt)
	if err != nil {
		return err
	}
	if err := row.Scan(&rt.ID); err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *routineRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.Routine, error) {
	// The scope predicate narrows visibility to the context tenant; with no
	// identity present (engine-internal paths) it is a no-op.
	const q = `
SELECT id, tenant_id, name, display_order, created_at
  FROM routines
 WHERE id=$1 AND ($2 = 0 OR tenant_id = $2);`
	return r.queryOne(ctx, tx, q, id, tenant.ScopeID(ctx))
}

func (r *routineRepo) MostRecent(ctx context.Context, tx repository.Tx, tenantID int64) (*model.Routine, error) {
	// Deterministic: latest created_at, ties broken by highest id.
	const q = `
SELECT id, tenant_id, name, display_order, created_at
  FROM routines
 WHERE tenant_id=$1
 ORDER BY created_at DESC, id DESC
 LIMIT 1;`
	return r.queryOne(ctx, tx, q, tenantID)
}

func (r *routineRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Routine, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	var rt model.Routine
	if err := row.Scan(&rt.ID, &rt.TenantID, &rt.Name, &rt.Order, &rt.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return &rt, nil
}
