// File: internal/infra/web/handlers.go
package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"practice-entitlement-engine/internal/domain"
	"practice-entitlement-engine/internal/domain/model"
	"practice-entitlement-engine/internal/domain/tenant"
	"practice-entitlement-engine/internal/infra/metrics"
	"practice-entitlement-engine/internal/usecase"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP statuses. Provider failures never
// leak upstream details to the client.
func writeError(w http.ResponseWriter, err error) {
	var rle *domain.RateLimitError
	if errors.As(err, &rle) {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":            rle.Reason,
			"remaining_daily":  rle.RemainingDaily,
			"remaining_hourly": rle.RemainingHourly,
			"retry_at":         rle.RetryAt.UTC().Format(time.RFC3339),
		})
		return
	}

	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, domain.ErrNotAuthenticated):
		status, msg = http.StatusUnauthorized, "not authenticated"
	case errors.Is(err, domain.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrInvalidArgument):
		status, msg = http.StatusBadRequest, "invalid request"
	case errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrDeletionPending):
		status, msg = http.StatusConflict, "conflicting state"
	case errors.Is(err, domain.ErrNoDeletionPending):
		status, msg = http.StatusConflict, "no deletion pending"
	case errors.Is(err, domain.ErrNotOwner):
		status, msg = http.StatusForbidden, "forbidden"
	default:
		var pe *domain.ProviderError
		if errors.As(err, &pe) {
			status, msg = http.StatusBadGateway, "payment provider unavailable"
		}
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<16))
	if err := dec.Decode(v); err != nil {
		return domain.ErrInvalidArgument
	}
	return nil
}

type subscriptionResponse struct {
	Tier                 model.Tier   `json:"tier"`
	Status               model.Status `json:"status"`
	MRRCents             int64        `json:"mrr_cents"`
	CancelAtPeriodEnd    bool         `json:"cancel_at_period_end"`
	UnpluggedMode        bool         `json:"unplugged_mode"`
	IsComplimentary      bool         `json:"is_complimentary"`
	CurrentPeriodEnd     *time.Time   `json:"current_period_end,omitempty"`
	LapseDate            *time.Time   `json:"lapse_date,omitempty"`
	DataDeletionDate     *time.Time   `json:"data_deletion_date,omitempty"`
	DeletionScheduledFor *time.Time   `json:"deletion_scheduled_for,omitempty"`
	LastActiveRoutineID  *int64       `json:"last_active_routine_id,omitempty"`
}

func toSubscriptionResponse(s *model.Subscription) subscriptionResponse {
	return subscriptionResponse{
		Tier:                 s.Tier,
		Status:               s.Status,
		MRRCents:             s.MRRCents,
		CancelAtPeriodEnd:    s.CancelAtPeriodEnd,
		UnpluggedMode:        s.UnpluggedMode,
		IsComplimentary:      s.IsComplimentary,
		CurrentPeriodEnd:     s.CurrentPeriodEnd,
		LapseDate:            s.LapseDate,
		DataDeletionDate:     s.DataDeletionDate,
		DeletionScheduledFor: s.DeletionScheduledFor,
		LastActiveRoutineID:  s.LastActiveRoutineID,
	}
}

type quotaResponse struct {
	Allowed         bool      `json:"allowed"`
	Reason          string    `json:"reason,omitempty"`
	RemainingDaily  int       `json:"remaining_daily"`
	RemainingHourly int       `json:"remaining_hourly"`
	DailyResetAt    time.Time `json:"daily_reset_at"`
	HourlyResetAt   time.Time `json:"hourly_reset_at"`
}

func toQuotaResponse(s *usecase.QuotaStatus) quotaResponse {
	return quotaResponse{
		Allowed:         s.Allowed,
		Reason:          s.Reason,
		RemainingDaily:  s.RemainingDaily,
		RemainingHourly: s.RemainingHourly,
		DailyResetAt:    s.DailyResetAt,
		HourlyResetAt:   s.HourlyResetAt,
	}
}

type tierRequest struct {
	Tier     model.Tier     `json:"tier"`
	Interval model.Interval `json:"interval"`
}

func (t *tierRequest) normalize() {
	if t.Interval == "" {
		t.Interval = model.IntervalMonth
	}
}

func NewGetSubscriptionHandler(entitlements usecase.EntitlementUseCase, log *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenant.Require(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		sub, err := entitlements.Get(r.Context(), tenantID)
		if err != nil {
			log.Error().Err(err).Msg("get subscription failed")
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
	}
}

func NewGetLimitsHandler(entitlements usecase.EntitlementUseCase, log *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenant.Require(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		limits, err := entitlements.Limits(r.Context(), tenantID)
		if err != nil {
			log.Error().Err(err).Msg("get limits failed")
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"display_name":        limits.DisplayName,
			"items_limit":         limits.ItemsLimit,
			"routines_limit":      limits.RoutinesLimit,
			"autocreate_enabled":  limits.AutocreateEnabled,
			"monthly_price_cents": limits.MonthlyPriceCents,
			"yearly_price_cents":  limits.YearlyPriceCents,
			"daily_quota":         limits.DailyQuota,
			"hourly_quota":        limits.HourlyQuota,
		})
	}
}

func NewStartCheckoutHandler(billing usecase.BillingUseCase, log *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenant.Require(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		var req tierRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		req.normalize()
		url, err := billing.StartCheckout(r.Context(), tenantID, req.Tier, req.Interval)
		if err != nil {
			log.Error().Err(err).Str("tier", string(req.Tier)).Msg("start checkout failed")
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	}
}

func NewChangeTierHandler(billing usecase.BillingUseCase, log *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenant.Require(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		var req tierRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		req.normalize()
		sub, err := billing.ChangeTier(r.Context(), tenantID, req.Tier, req.Interval)
		if err != nil {
			log.Error().Err(err).Str("tier", string(req.Tier)).Msg("change tier failed")
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
	}
}

func NewBillingPortalHandler(billing usecase.BillingUseCase, log *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenant.Require(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		url, err := billing.OpenBillingPortal(r.Context(), tenantID)
		if err != nil {
			log.Error().Err(err).Msg("open billing portal failed")
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	}
}

func NewResumeHandler(billing usecase.BillingUseCase, log *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenant.Require(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		var req tierRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		req.normalize()
		url, err := billing.Resume(r.Context(), tenantID, req.Interval)
		if err != nil {
			log.Error().Err(err).Msg("resume failed")
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	}
}

func NewLastPaymentHandler(billing usecase.BillingUseCase, log *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenant.Require(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		payment, err := billing.LastPayment(r.Context(), tenantID)
		if err != nil {
			log.Error().Err(err).Msg("last payment lookup failed")
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"amount_cents": payment.AmountCents,
			"currency":     payment.Currency,
			"paid_at":      payment.PaidAt.UTC().Format(time.RFC3339),
			"card_brand":   payment.CardBrand,
			"card_last4":   payment.CardLast4,
			"receipt_url":  payment.ReceiptURL,
		})
	}
}

func NewPauseHandler(grace usecase.GraceUseCase, log *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenant.Require(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		sub, err := grace.Pause(r.Context(), tenantID)
		if err != nil {
			log.Warn().Err(err).Msg("pause failed")
			metrics.IncPauseAction("pause", pauseOutcome(err))
			writeError(w, err)
			return
		}
		metrics.IncPauseAction("pause", "ok")
		writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
	}
}

func pauseOutcome(err error) string {
	if domain.IsRateLimited(err) {
		return "rate_limited"
	}
	return "error"
}

func NewUnpauseHandler(grace usecase.GraceUseCase, log *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenant.Require(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		sub, err := grace.Unpause(r.Context(), tenantID)
		if err != nil {
			log.Warn().Err(err).Msg("unpause failed")
			metrics.IncPauseAction("unpause", pauseOutcome(err))
			writeError(w, err)
			return
		}
		metrics.IncPauseAction("unpause", "ok")
		writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
	}
}

func NewQuotaCheckHandler(quota usecase.QuotaUseCase, log *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenant.Require(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		usingOwnKey := r.URL.Query().Get("own_key") == "true"
		status, err := quota.Check(r.Context(), tenantID, usingOwnKey)
		if err != nil && !domain.IsRateLimited(err) {
			log.Error().Err(err).Msg("quota check failed")
			metrics.IncQuotaCheck("error")
			writeError(w, err)
			return
		}
		if status.Allowed {
			metrics.IncQuotaCheck("allowed")
		} else {
			metrics.IncQuotaCheck("denied")
			metrics.IncQuotaDenial(status.Reason)
		}
		// A denied check is still a successful check.
		writeJSON(w, http.StatusOK, toQuotaResponse(status))
	}
}

func NewQuotaUseHandler(quota usecase.QuotaUseCase, log *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenant.Require(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		status, err := quota.Use(r.Context(), tenantID)
		if err != nil {
			if domain.IsRateLimited(err) {
				metrics.IncQuotaCheck("denied")
				metrics.IncQuotaDenial(status.Reason)
			} else {
				metrics.IncQuotaCheck("error")
			}
			writeError(w, err)
			return
		}
		metrics.IncQuotaCheck("allowed")
		writeJSON(w, http.StatusOK, toQuotaResponse(status))
	}
}

type deletionRequest struct {
	Mode model.DeletionType `json:"mode"`
}

func NewRequestDeletionHandler(termination usecase.TerminationUseCase, log *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenant.Require(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		var req deletionRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		if req.Mode == "" {
			req.Mode = model.DeletionScheduled
		}
		sub, err := termination.RequestDeletion(r.Context(), tenantID, req.Mode)
		if err != nil {
			log.Error().Err(err).Str("mode", string(req.Mode)).Msg("deletion request failed")
			writeError(w, err)
			return
		}
		if req.Mode == model.DeletionImmediate {
			writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
			return
		}
		writeJSON(w, http.StatusAccepted, toSubscriptionResponse(sub))
	}
}

func NewCancelDeletionHandler(termination usecase.TerminationUseCase, log *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenant.Require(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		sub, err := termination.CancelScheduledDeletion(r.Context(), tenantID)
		if err != nil {
			log.Warn().Err(err).Msg("cancel deletion failed")
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
	}
}
