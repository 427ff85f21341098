// File: internal/usecase/quota_uc_test.go
package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"practice-entitlement-engine/internal/domain"
	"practice-entitlement-engine/internal/domain/model"
)

func newQuotaFixture(sub *model.Subscription) (*quotaUC, *memSubscriptionRepo) {
	subs := newMemSubscriptionRepo()
	if sub != nil {
		subs.put(sub)
	}
	uc := NewQuotaUseCase(subs, newFakeTxManager(), testLogger())
	return uc, subs
}

func paidSub(tenantID int64, tier model.Tier) *model.Subscription {
	sub := model.NewSubscription(tenantID)
	sub.Tier = tier
	sub.Status = model.StatusActive
	return sub
}

func TestQuotaCheckAllowsWithinLimits(t *testing.T) {
	uc, _ := newQuotaFixture(paidSub(1, model.TierTheGoods))

	st, err := uc.Check(context.Background(), 1, false)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !st.Allowed {
		t.Fatalf("denied: %+v", st)
	}
	if st.RemainingDaily != 25 || st.RemainingHourly != 10 {
		t.Errorf("remaining = %d/%d, want 25/10", st.RemainingDaily, st.RemainingHourly)
	}
}

func TestQuotaUseConsumesAndPersists(t *testing.T) {
	uc, subs := newQuotaFixture(paidSub(1, model.TierTheGoods))
	ctx := context.Background()

	st, err := uc.Use(ctx, 1)
	if err != nil {
		t.Fatalf("Use: %v", err)
	}
	if st.RemainingDaily != 24 || st.RemainingHourly != 9 {
		t.Errorf("remaining after use = %d/%d, want 24/9", st.RemainingDaily, st.RemainingHourly)
	}

	sub, _ := subs.FindByTenant(ctx, nil, 1)
	if sub.QuotaUsedToday != 1 || sub.QuotaUsedThisHour != 1 {
		t.Errorf("persisted counters = %d/%d, want 1/1", sub.QuotaUsedToday, sub.QuotaUsedThisHour)
	}
	if sub.QuotaDailyResetAt == nil || sub.QuotaHourlyResetAt == nil {
		t.Error("reset stamps not persisted")
	}
}

func TestQuotaHourlyDeniedBeforeDaily(t *testing.T) {
	sub := paidSub(1, model.TierTheGoods)
	future := time.Now().UTC().Add(time.Hour)
	sub.QuotaUsedThisHour = 10 // hourly limit for thegoods
	sub.QuotaUsedToday = 10
	sub.QuotaDailyResetAt = &future
	sub.QuotaHourlyResetAt = &future
	uc, _ := newQuotaFixture(sub)

	st, err := uc.Use(context.Background(), 1)
	var rle *domain.RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if rle.Reason != "hourly_limit" {
		t.Errorf("reason = %q, want hourly_limit", rle.Reason)
	}
	if st == nil || st.Allowed {
		t.Fatalf("status = %+v, want denied", st)
	}
	if !rle.RetryAt.Equal(future) {
		t.Errorf("retry at = %v, want hourly reset %v", rle.RetryAt, future)
	}
}

func TestQuotaDailyDenied(t *testing.T) {
	sub := paidSub(1, model.TierTheGoods)
	future := time.Now().UTC().Add(2 * time.Hour)
	sub.QuotaUsedToday = 25 // daily limit for thegoods
	sub.QuotaUsedThisHour = 2
	sub.QuotaDailyResetAt = &future
	sub.QuotaHourlyResetAt = &future
	uc, _ := newQuotaFixture(sub)

	_, err := uc.Use(context.Background(), 1)
	var rle *domain.RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if rle.Reason != "daily_limit" {
		t.Errorf("reason = %q, want daily_limit", rle.Reason)
	}
}

func TestQuotaDeniedUseRecordsNothing(t *testing.T) {
	sub := paidSub(1, model.TierTheGoods)
	future := time.Now().UTC().Add(time.Hour)
	sub.QuotaUsedThisHour = 10
	sub.QuotaUsedToday = 3
	sub.QuotaDailyResetAt = &future
	sub.QuotaHourlyResetAt = &future
	uc, subs := newQuotaFixture(sub)
	ctx := context.Background()

	if _, err := uc.Use(ctx, 1); !domain.IsRateLimited(err) {
		t.Fatalf("err = %v, want rate limited", err)
	}
	got, _ := subs.FindByTenant(ctx, nil, 1)
	if got.QuotaUsedToday != 3 || got.QuotaUsedThisHour != 10 {
		t.Errorf("counters moved on denial: %d/%d", got.QuotaUsedToday, got.QuotaUsedThisHour)
	}
}

func TestQuotaWindowsSelfHeal(t *testing.T) {
	sub := paidSub(1, model.TierTheGoods)
	past := time.Now().UTC().Add(-time.Minute)
	sub.QuotaUsedToday = 999
	sub.QuotaUsedThisHour = 999
	sub.QuotaDailyResetAt = &past
	sub.QuotaHourlyResetAt = &past
	uc, subs := newQuotaFixture(sub)
	ctx := context.Background()

	st, err := uc.Check(ctx, 1, false)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !st.Allowed {
		t.Fatalf("expired windows must reset before comparison: %+v", st)
	}
	if st.RemainingDaily != 25 || st.RemainingHourly != 10 {
		t.Errorf("remaining = %d/%d, want full 25/10", st.RemainingDaily, st.RemainingHourly)
	}

	// The heal is persisted even on a read-only check.
	got, _ := subs.FindByTenant(ctx, nil, 1)
	if got.QuotaUsedToday != 0 || got.QuotaUsedThisHour != 0 {
		t.Errorf("healed counters not persisted: %d/%d", got.QuotaUsedToday, got.QuotaUsedThisHour)
	}
	if got.QuotaDailyResetAt == nil || !got.QuotaDailyResetAt.After(time.Now()) {
		t.Errorf("daily reset not advanced: %v", got.QuotaDailyResetAt)
	}
}

func TestQuotaFreeTierDeniedWithoutOwnKey(t *testing.T) {
	uc, _ := newQuotaFixture(paidSub(1, model.TierFree))

	_, err := uc.Check(context.Background(), 1, false)
	var rle *domain.RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if rle.Reason != "tier_no_access" {
		t.Errorf("reason = %q, want tier_no_access", rle.Reason)
	}
}

func TestQuotaFreeTierAllowedWithOwnKey(t *testing.T) {
	uc, _ := newQuotaFixture(paidSub(1, model.TierFree))

	st, err := uc.Check(context.Background(), 1, true)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !st.Allowed || st.RemainingDaily != -1 {
		t.Errorf("own-key check = %+v, want unlimited allow", st)
	}
}

func TestQuotaComplimentaryUnlimitedDaily(t *testing.T) {
	sub := paidSub(1, model.TierFree)
	sub.IsComplimentary = true
	uc, _ := newQuotaFixture(sub)

	st, err := uc.Check(context.Background(), 1, false)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !st.Allowed {
		t.Fatalf("complimentary denied: %+v", st)
	}
	if st.RemainingDaily != -1 {
		t.Errorf("remaining daily = %d, want -1 (unlimited)", st.RemainingDaily)
	}
	if st.RemainingHourly != 40 {
		t.Errorf("remaining hourly = %d, want 40", st.RemainingHourly)
	}
}

func TestQuotaUnknownTenant(t *testing.T) {
	uc, _ := newQuotaFixture(nil)
	if _, err := uc.Check(context.Background(), 1, false); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
