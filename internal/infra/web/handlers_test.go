// File: internal/infra/web/handlers_test.go
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"practice-entitlement-engine/internal/domain"
	"practice-entitlement-engine/internal/domain/model"
	"practice-entitlement-engine/internal/domain/tenant"
)

type mockEntitlements struct {
	sub *model.Subscription
	err error
}

func (m *mockEntitlements) Get(ctx context.Context, tenantID int64) (*model.Subscription, error) {
	return m.sub, m.err
}

func (m *mockEntitlements) Limits(ctx context.Context, tenantID int64) (model.TierLimits, error) {
	if m.err != nil {
		return model.TierLimits{}, m.err
	}
	return model.Limits(m.sub.Tier, m.sub.IsComplimentary), nil
}

func (m *mockEntitlements) Apply(ctx context.Context, tenantID int64, mutate func(sub *model.Subscription) error) (*model.Subscription, error) {
	if m.err != nil {
		return nil, m.err
	}
	if err := mutate(m.sub); err != nil {
		return nil, err
	}
	return m.sub, nil
}

func (m *mockEntitlements) EnsureForTenant(ctx context.Context, tenantID int64) (*model.Subscription, error) {
	return m.sub, m.err
}

func authedRequest(method, target string) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	return r.WithContext(tenant.WithTenant(r.Context(), 1))
}

func TestWriteErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrNotAuthenticated, http.StatusUnauthorized},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrInvalidArgument, http.StatusBadRequest},
		{domain.ErrAlreadyExists, http.StatusConflict},
		{domain.ErrDeletionPending, http.StatusConflict},
		{domain.ErrNoDeletionPending, http.StatusConflict},
		{domain.ErrNotOwner, http.StatusForbidden},
		{&domain.ProviderError{Op: "checkout", Status: 503, Transient: true, Err: errors.New("down")}, http.StatusBadGateway},
		{errors.New("anything else"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		writeError(w, tc.err)
		if w.Code != tc.want {
			t.Errorf("writeError(%v) = %d, want %d", tc.err, w.Code, tc.want)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
	}
}

func TestWriteErrorRateLimited(t *testing.T) {
	retry := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	w := httptest.NewRecorder()
	writeError(w, &domain.RateLimitError{
		Reason:          "daily_limit",
		RemainingDaily:  0,
		RemainingHourly: 3,
		RetryAt:         retry,
	})

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	var body struct {
		Error           string `json:"error"`
		RemainingDaily  int    `json:"remaining_daily"`
		RemainingHourly int    `json:"remaining_hourly"`
		RetryAt         string `json:"retry_at"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "daily_limit" || body.RemainingHourly != 3 {
		t.Errorf("body = %+v", body)
	}
	if body.RetryAt != "2026-07-01T00:00:00Z" {
		t.Errorf("retry_at = %q", body.RetryAt)
	}
}

func TestGetSubscriptionHandler(t *testing.T) {
	sub := model.NewSubscription(1)
	sub.Tier = model.TierTheGoods
	sub.MRRCents = 600
	h := NewGetSubscriptionHandler(&mockEntitlements{sub: sub}, testLogger())

	w := httptest.NewRecorder()
	h(w, authedRequest(http.MethodGet, "/api/v1/subscription"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body subscriptionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Tier != model.TierTheGoods || body.MRRCents != 600 {
		t.Errorf("body = %+v", body)
	}
}

func TestGetSubscriptionHandlerUnauthenticated(t *testing.T) {
	h := NewGetSubscriptionHandler(&mockEntitlements{sub: model.NewSubscription(1)}, testLogger())

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/api/v1/subscription", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestGetLimitsHandler(t *testing.T) {
	sub := model.NewSubscription(1)
	sub.Tier = model.TierTheGoods
	h := NewGetLimitsHandler(&mockEntitlements{sub: sub}, testLogger())

	w := httptest.NewRecorder()
	h(w, authedRequest(http.MethodGet, "/api/v1/subscription/limits"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["items_limit"].(float64) != 200 {
		t.Errorf("items_limit = %v", body["items_limit"])
	}
	if body["daily_quota"].(float64) != 25 {
		t.Errorf("daily_quota = %v", body["daily_quota"])
	}
}
