package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"practice-entitlement-engine/internal/domain"
	"practice-entitlement-engine/internal/domain/model"
	"practice-entitlement-engine/internal/domain/ports/repository"
)

// Ensure tenantRepo implements repository.TenantRepository
var _ repository.TenantRepository = (*tenantRepo)(nil)

type tenantRepo struct {
	pool *pgxpool.Pool
}

func NewTenantRepo(pool *pgxpool.Pool) *tenantRepo {
	return &tenantRepo{pool: pool}
}

func (r *tenantRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.TenantIdentity, error) {
	const q = `
SELECT id, email, username, registered_at, last_active_at, inactivity_opt_out, last_inactivity_email_sent
  FROM tenants
 WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanTenant(row)
}

func (r *tenantRepo) ListInactiveSince(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.TenantIdentity, error) {
	const q = `
SELECT id, email, username, registered_at, last_active_at, inactivity_opt_out, last_inactivity_email_sent
  FROM tenants
 WHERE NOT inactivity_opt_out
   AND last_active_at IS NOT NULL AND last_active_at <= $1
   AND (last_inactivity_email_sent IS NULL OR last_inactivity_email_sent <= $1)
 ORDER BY last_active_at ASC
 LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, cutoff, limit)
	if err != nil {
		return nil, wrapQueryErr(err)
	}
	defer rows.Close()
	var out []*model.TenantIdentity
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *tenantRepo) MarkInactivityEmailSent(ctx context.Context, tx repository.Tx, id int64, at time.Time) error {
	const q = `UPDATE tenants SET last_inactivity_email_sent=$2 WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, id, at)
	if err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

// PurgeTenantData removes every tenant-owned row except the identity and
// subscription. Child tables go first so foreign keys never block the purge.
func (r *tenantRepo) PurgeTenantData(ctx context.Context, tx repository.Tx, tenantID int64) (model.PurgeCounts, error) {
	var counts model.PurgeCounts
	steps := []struct {
		q    string
		dest *int64
	}{
		{`DELETE FROM practice_events WHERE tenant_id=$1;`, &counts.PracticeEvents},
		{`DELETE FROM user_preferences WHERE tenant_id=$1;`, &counts.Preferences},
		{`DELETE FROM chord_charts WHERE tenant_id=$1;`, &counts.ChordCharts},
		{`DELETE FROM routine_items WHERE tenant_id=$1;`, &counts.RoutineItems},
		{`DELETE FROM routines WHERE tenant_id=$1;`, &counts.Routines},
		{`DELETE FROM practice_items WHERE tenant_id=$1;`, &counts.Items},
	}
	for _, step := range steps {
		tag, err := execSQL(ctx, r.pool, tx, step.q, tenantID)
		if err != nil {
			return counts, domain.ErrOperationFailed
		}
		*step.dest = tag.RowsAffected()
	}
	return counts, nil
}

func (r *tenantRepo) Delete(ctx context.Context, tx repository.Tx, id int64) error {
	const q = `DELETE FROM tenants WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func scanTenant(row pgx.Row) (*model.TenantIdentity, error) {
	var t model.TenantIdentity
	err := row.Scan(&t.ID, &t.Email, &t.Username, &t.RegisteredAt, &t.LastActiveAt, &t.InactivityOptOut, &t.LastInactivityEmailSent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return &t, nil
}
