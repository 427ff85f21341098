package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"practice-entitlement-engine/internal/domain"
	"practice-entitlement-engine/internal/domain/model"
	"practice-entitlement-engine/internal/domain/ports/repository"
)

// Ensure deadLetterRepo implements repository.DeadLetterRepository
var _ repository.DeadLetterRepository = (*deadLetterRepo)(nil)

type deadLetterRepo struct {
	pool *pgxpool.Pool
}

func NewDeadLetterRepo(pool *pgxpool.Pool) *deadLetterRepo {
	return &deadLetterRepo{pool: pool}
}

func (r *deadLetterRepo) Record(ctx context.Context, tx repository.Tx, dl *model.DeadLetter) error {
	const q = `
INSERT INTO webhook_dead_letters (event_id, event_kind, tenant_id, payload, fail_reason, failed_at, resolved)
VALUES ($1,$2,$3,$4,$5,$6,false)
RETURNING id;`
	row, err := pickRow(ctx, r.pool, tx, q, dl.EventID, dl.EventKind.String(), dl.TenantID, dl.Payload, dl.FailReason, dl.FailedAt)
	if err != nil {
		return err
	}
	if err := row.Scan(&dl.ID); err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *deadLetterRepo) ListUnresolved(ctx context.Context, tx repository.Tx, limit int) ([]*model.DeadLetter, error) {
	const q = `
SELECT id, event_id, event_kind, tenant_id, payload, fail_reason, failed_at, resolved
  FROM webhook_dead_letters
 WHERE NOT resolved
 ORDER BY failed_at ASC
 LIMIT $1;`
	rows, err := queryRows(ctx, r.pool, tx, q, limit)
	if err != nil {
		return nil, wrapQueryErr(err)
	}
	defer rows.Close()
	var out []*model.DeadLetter
	for rows.Next() {
		var dl model.DeadLetter
		var kind string
		if err := rows.Scan(&dl.ID, &dl.EventID, &kind, &dl.TenantID, &dl.Payload, &dl.FailReason, &dl.FailedAt, &dl.Resolved); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		dl.EventKind = model.ParseEventKind(kind)
		out = append(out, &dl)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *deadLetterRepo) MarkResolved(ctx context.Context, tx repository.Tx, id int64) error {
	const q = `UPDATE webhook_dead_letters SET resolved=true WHERE id=$1;`
	if _, err := execSQL(ctx, r.pool, tx, q, id); err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}
