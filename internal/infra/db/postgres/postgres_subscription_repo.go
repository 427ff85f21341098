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

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subscriptionCols = `
  id, tenant_id, tier, status,
  stripe_customer_id, stripe_subscription_id, stripe_subscription_item_id, stripe_price_id,
  mrr_cents, current_period_start, current_period_end, cancel_at_period_end,
  unplugged_mode, lapse_date, data_deletion_date, last_active_routine_id, last_pause_action,
  deletion_scheduled_for, deletion_type, prorated_refund_cents,
  quota_used_today, quota_used_this_hour, quota_daily_reset_at, quota_hourly_reset_at,
  is_complimentary, complimentary_reason, created_at, updated_at`

func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	// One row per tenant; the upsert key is tenant_id so concurrent writers
	// converge on the same record.
	const q = `
INSERT INTO subscriptions (
  tenant_id, tier, status,
  stripe_customer_id, stripe_subscription_id, stripe_subscription_item_id, stripe_price_id,
  mrr_cents, current_period_start, current_period_end, cancel_at_period_end,
  unplugged_mode, lapse_date, data_deletion_date, last_active_routine_id, last_pause_action,
  deletion_scheduled_for, deletion_type, prorated_refund_cents,
  quota_used_today, quota_used_this_hour, quota_daily_reset_at, quota_hourly_reset_at,
  is_complimentary, complimentary_reason, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)
ON CONFLICT (tenant_id) DO UPDATE SET
  tier=$2, status=$3,
  stripe_customer_id=$4, stripe_subscription_id=$5, stripe_subscription_item_id=$6, stripe_price_id=$7,
  mrr_cents=$8, current_period_start=$9, current_period_end=$10, cancel_at_period_end=$11,
  unplugged_mode=$12, lapse_date=$13, data_deletion_date=$14, last_active_routine_id=$15, last_pause_action=$16,
  deletion_scheduled_for=$17, deletion_type=$18, prorated_refund_cents=$19,
  quota_used_today=$20, quota_used_this_hour=$21, quota_daily_reset_at=$22, quota_hourly_reset_at=$23,
  is_complimentary=$24, complimentary_reason=$25, updated_at=$27
RETURNING id;`

	row, err := pickRow(ctx, r.pool, tx, q,
		s.TenantID, s.Tier, s.Status,
		s.CustomerRef, s.SubscriptionRef, s.SubscriptionItemRef, s.PriceRef,
		s.MRRCents, s.CurrentPeriodStart, s.CurrentPeriodEnd, s.CancelAtPeriodEnd,
		s.UnpluggedMode, s.LapseDate, s.DataDeletionDate, s.LastActiveRoutineID, s.LastPauseAction,
		s.DeletionScheduledFor, s.DeletionType, s.ProratedRefundCents,
		s.QuotaUsedToday, s.QuotaUsedThisHour, s.QuotaDailyResetAt, s.QuotaHourlyResetAt,
		s.IsComplimentary, s.ComplimentaryReason, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if err := row.Scan(&s.ID); err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *subscriptionRepo) FindByTenant(ctx context.Context, tx repository.Tx, tenantID int64) (*model.Subscription, error) {
	const q = `SELECT` + subscriptionCols + ` FROM subscriptions WHERE tenant_id=$1;`
	return r.queryOne(ctx, tx, q, tenantID)
}

func (r *subscriptionRepo) FindBySubscriptionRef(ctx context.Context, tx repository.Tx, subscriptionRef string) (*model.Subscription, error) {
	const q = `SELECT` + subscriptionCols + ` FROM subscriptions WHERE stripe_subscription_id=$1;`
	return r.queryOne(ctx, tx, q, subscriptionRef)
}

func (r *subscriptionRepo) FindByCustomerRef(ctx context.Context, tx repository.Tx, customerRef string) (*model.Subscription, error) {
	const q = `SELECT` + subscriptionCols + ` FROM subscriptions WHERE stripe_customer_id=$1;`
	return r.queryOne(ctx, tx, q, customerRef)
}

func (r *subscriptionRepo) ListDueForDeletion(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	const q = `
SELECT` + subscriptionCols + `
  FROM subscriptions
 WHERE deletion_type='scheduled' AND deletion_scheduled_for <= $1
 ORDER BY deletion_scheduled_for ASC
 LIMIT $2;`
	return r.queryMany(ctx, tx, q, now, limit)
}

func (r *subscriptionRepo) ListPaying(ctx context.Context, tx repository.Tx, periodEndBefore time.Time, limit int) ([]*model.Subscription, error) {
	const q = `
SELECT` + subscriptionCols + `
  FROM subscriptions
 WHERE status IN ('active','trialing')
   AND tier <> 'free'
   AND stripe_subscription_id IS NOT NULL
   AND (current_period_end IS NULL OR current_period_end <= $1)
 ORDER BY current_period_end ASC NULLS FIRST
 LIMIT $2;`
	return r.queryMany(ctx, tx, q, periodEndBefore, limit)
}

func (r *subscriptionRepo) ResetExpiredQuotaWindows(ctx context.Context, tx repository.Tx, now time.Time) (int64, error) {
	const daily = `
UPDATE subscriptions
   SET quota_used_today = 0,
       quota_daily_reset_at = date_trunc('day', $1::timestamptz) + interval '1 day'
 WHERE quota_daily_reset_at IS NOT NULL AND quota_daily_reset_at <= $1;`
	const hourly = `
UPDATE subscriptions
   SET quota_used_this_hour = 0,
       quota_hourly_reset_at = date_trunc('hour', $1::timestamptz) + interval '1 hour'
 WHERE quota_hourly_reset_at IS NOT NULL AND quota_hourly_reset_at <= $1;`

	var total int64
	for _, q := range []string{daily, hourly} {
		tag, err := execSQL(ctx, r.pool, tx, q, now)
		if err != nil {
			switch err {
			case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
				return total, err
			default:
				return total, domain.ErrOperationFailed
			}
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

func (r *subscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.Status]int, error) {
	const q = `SELECT status, COUNT(*) FROM subscriptions GROUP BY status;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, wrapQueryErr(err)
	}
	defer rows.Close()
	out := make(map[model.Status]int)
	for rows.Next() {
		var st model.Status
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[st] = n
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *subscriptionRepo) Delete(ctx context.Context, tx repository.Tx, tenantID int64) error {
	const q = `DELETE FROM subscriptions WHERE tenant_id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, tenantID)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return err
		default:
			return domain.ErrOperationFailed
		}
	}
	return nil
}

func (r *subscriptionRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Subscription, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	s, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return s, nil
}

func (r *subscriptionRepo) queryMany(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Subscription, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, wrapQueryErr(err)
	}
	defer rows.Close()
	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	var s model.Subscription
	err := row.Scan(
		&s.ID, &s.TenantID, &s.Tier, &s.Status,
		&s.CustomerRef, &s.SubscriptionRef, &s.SubscriptionItemRef, &s.PriceRef,
		&s.MRRCents, &s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.CancelAtPeriodEnd,
		&s.UnpluggedMode, &s.LapseDate, &s.DataDeletionDate, &s.LastActiveRoutineID, &s.LastPauseAction,
		&s.DeletionScheduledFor, &s.DeletionType, &s.ProratedRefundCents,
		&s.QuotaUsedToday, &s.QuotaUsedThisHour, &s.QuotaDailyResetAt, &s.QuotaHourlyResetAt,
		&s.IsComplimentary, &s.ComplimentaryReason, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func wrapQueryErr(err error) error {
	switch err {
	case pgx.ErrNoRows:
		return domain.ErrNotFound
	case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
		return err
	default:
		return domain.ErrOperationFailed
	}
}
