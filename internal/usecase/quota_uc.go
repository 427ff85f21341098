// File: internal/usecase/quota_uc.go
package usecase

import (
	"context"
	"time"

	"practice-entitlement-engine/internal/domain"
	"practice-entitlement-engine/internal/domain/model"
	"practice-entitlement-engine/internal/domain/ports/repository"
	"practice-entitlement-engine/internal/infra/logging"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ QuotaUseCase = (*quotaUC)(nil)

// QuotaStatus is the outcome of a quota check, machine-readable enough for
// the caller to render "try again at" messaging.
type QuotaStatus struct {
	Allowed         bool
	Reason          string
	RemainingDaily  int // -1 when unlimited
	RemainingHourly int
	DailyResetAt    time.Time
	HourlyResetAt   time.Time
}

// QuotaUseCase counts usage of the metered feature per tenant over daily and
// hourly windows. Check and Use are atomic per tenant: both run inside the
// per-tenant advisory lock, so concurrent callers cannot exceed a limit by
// more than the lock queue admits one at a time.
type QuotaUseCase interface {
	// Check reports whether the tenant may use the metered feature now.
	// usingOwnKey bypasses the no-access gate of 0/0 tiers; it never
	// bypasses counting tiers' limits.
	Check(ctx context.Context, tenantID int64, usingOwnKey bool) (*QuotaStatus, error)

	// Use records one successful metered operation. Denied calls return
	// RateLimitError and record nothing.
	Use(ctx context.Context, tenantID int64) (*QuotaStatus, error)
}

type quotaUC struct {
	subs repository.SubscriptionRepository
	tm   repository.TransactionManager
	log  *zerolog.Logger
}

func NewQuotaUseCase(subs repository.SubscriptionRepository, tm repository.TransactionManager, logger *zerolog.Logger) *quotaUC {
	return &quotaUC{subs: subs, tm: tm, log: logger}
}

func (u *quotaUC) Check(ctx context.Context, tenantID int64, usingOwnKey bool) (*QuotaStatus, error) {
	defer logging.TraceDuration(u.log, "QuotaUC.Check")()
	return u.evaluate(ctx, tenantID, usingOwnKey, false)
}

func (u *quotaUC) Use(ctx context.Context, tenantID int64) (*QuotaStatus, error) {
	defer logging.TraceDuration(u.log, "QuotaUC.Use")()
	return u.evaluate(ctx, tenantID, false, true)
}

func (u *quotaUC) evaluate(ctx context.Context, tenantID int64, usingOwnKey, consume bool) (*QuotaStatus, error) {
	var status *QuotaStatus
	err := u.tm.WithTenantLock(ctx, tenantID, func(ctx context.Context, tx repository.Tx) error {
		sub, err := u.subs.FindByTenant(ctx, tx, tenantID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		healed := healWindows(sub, now)

		limits := model.Limits(sub.Tier, sub.IsComplimentary)
		if limits.DailyQuota == 0 && limits.HourlyQuota == 0 {
			if usingOwnKey {
				status = &QuotaStatus{Allowed: true, RemainingDaily: -1, RemainingHourly: -1}
				if healed {
					sub.UpdatedAt = now
					return u.subs.Save(ctx, tx, sub)
				}
				return nil
			}
			status = &QuotaStatus{Allowed: false, Reason: "tier_no_access"}
			return &domain.RateLimitError{Reason: "tier_no_access"}
		}

		st := &QuotaStatus{
			Allowed:         true,
			RemainingDaily:  remaining(limits.DailyQuota, sub.QuotaUsedToday),
			RemainingHourly: remaining(limits.HourlyQuota, sub.QuotaUsedThisHour),
			DailyResetAt:    derefTime(sub.QuotaDailyResetAt),
			HourlyResetAt:   derefTime(sub.QuotaHourlyResetAt),
		}

		// The hourly window is checked first so the denial reason names
		// the sooner-resetting limit.
		if limits.HourlyQuota >= 0 && sub.QuotaUsedThisHour >= limits.HourlyQuota {
			st.Allowed = false
			st.Reason = "hourly_limit"
		} else if limits.DailyQuota >= 0 && sub.QuotaUsedToday >= limits.DailyQuota {
			st.Allowed = false
			st.Reason = "daily_limit"
		}

		status = st
		if !st.Allowed {
			retryAt := st.HourlyResetAt
			if st.Reason == "daily_limit" {
				retryAt = st.DailyResetAt
			}
			// The error rolls the transaction back; a heal is re-derived
			// on the next call, so losing it here is harmless.
			return &domain.RateLimitError{
				Reason:          st.Reason,
				RemainingDaily:  st.RemainingDaily,
				RemainingHourly: st.RemainingHourly,
				RetryAt:         retryAt,
			}
		}

		if consume {
			sub.QuotaUsedToday++
			sub.QuotaUsedThisHour++
			st.RemainingDaily = remaining(limits.DailyQuota, sub.QuotaUsedToday)
			st.RemainingHourly = remaining(limits.HourlyQuota, sub.QuotaUsedThisHour)
		}
		if consume || healed {
			sub.UpdatedAt = now
			return u.subs.Save(ctx, tx, sub)
		}
		return nil
	})
	if status != nil {
		// RateLimitError still carries the status for rendering.
		return status, err
	}
	return nil, err
}

// healWindows resets any expired quota window before the limit comparison,
// so the counters self-correct even when the fallback sweep never runs.
// Reports whether anything changed.
func healWindows(sub *model.Subscription, now time.Time) bool {
	changed := false
	if sub.QuotaDailyResetAt == nil || !now.Before(*sub.QuotaDailyResetAt) {
		sub.QuotaUsedToday = 0
		next := nextUTCMidnight(now)
		sub.QuotaDailyResetAt = &next
		changed = true
	}
	if sub.QuotaHourlyResetAt == nil || !now.Before(*sub.QuotaHourlyResetAt) {
		sub.QuotaUsedThisHour = 0
		next := nextHourTop(now)
		sub.QuotaHourlyResetAt = &next
		changed = true
	}
	return changed
}

func nextUTCMidnight(now time.Time) time.Time {
	now = now.UTC()
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}

func nextHourTop(now time.Time) time.Time {
	return now.UTC().Truncate(time.Hour).Add(time.Hour)
}

func remaining(limit, used int) int {
	if limit < 0 {
		return -1
	}
	if used >= limit {
		return 0
	}
	return limit - used
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
