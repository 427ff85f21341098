// File: internal/infra/web/webhook.go
package web

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"practice-entitlement-engine/internal/domain/model"
	"practice-entitlement-engine/internal/domain/ports/repository"
	"practice-entitlement-engine/internal/infra/adapters/billing"
	"practice-entitlement-engine/internal/infra/logging"
	"practice-entitlement-engine/internal/infra/metrics"
	"practice-entitlement-engine/internal/usecase"
)

const (
	maxWebhookBody = 1 << 20

	// Far above any legitimate delivery rate; trips only on floods.
	webhookBurstLimit  = 600
	webhookBurstWindow = time.Minute

	webhookProcessTimeout = 30 * time.Second
)

// BurstLimiter caps the inbound webhook rate per source.
type BurstLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// NewWebhookHandler verifies, parses and reconciles billing provider
// events. A verified event is always acknowledged with 200, even when its
// handler fails: the failure goes to the dead-letter log for operator
// replay instead of provider redelivery, which would arrive out of order
// anyway.
func NewWebhookHandler(
	reconciler usecase.ReconcilerUseCase,
	deadLetters repository.DeadLetterRepository,
	dedup usecase.ProcessedEventCache,
	limiter BurstLimiter,
	secret string,
	log *zerolog.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if allowed, err := limiter.Allow(ctx, "rate_limit:webhook:stripe", webhookBurstLimit, webhookBurstWindow); err != nil {
			// Redis trouble must not drop billing events.
			log.Warn().Err(err).Msg("webhook burst limiter unavailable, letting event through")
		} else if !allowed {
			metrics.IncWebhookEvent("unknown", "rejected")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
		if err != nil || len(payload) > maxWebhookBody {
			metrics.IncWebhookEvent("unknown", "rejected")
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		sig := r.Header.Get("Stripe-Signature")
		if err := billing.VerifySignature(payload, sig, secret, time.Now()); err != nil {
			log.Warn().Err(err).Msg("webhook signature rejected")
			metrics.IncWebhookEvent("unknown", "rejected")
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		ev, err := billing.ParseEvent(payload)
		if err != nil {
			log.Warn().Err(err).Msg("webhook payload unparseable")
			metrics.IncWebhookEvent("unknown", "rejected")
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		kind := ev.Kind.String()
		if kind == "" {
			kind = "unknown"
		}

		ctx = logging.WithEventID(ctx, ev.ID)
		if ev.TenantID != 0 {
			ctx = logging.WithTenantID(ctx, ev.TenantID)
		}
		ctx, cancel := context.WithTimeout(ctx, webhookProcessTimeout)
		defer cancel()

		if seen, err := dedup.Seen(ctx, ev.ID); err == nil && seen {
			metrics.IncWebhookEvent(kind, "duplicate")
			w.WriteHeader(http.StatusOK)
			return
		}

		start := time.Now()
		procErr := reconciler.Process(ctx, ev)
		metrics.ObserveWebhookDuration(time.Since(start).Seconds())

		if procErr != nil {
			logging.With(ctx, log).Error().
				Err(procErr).
				Str("event_kind", kind).
				Str("subscription_ref", ev.SubscriptionRef).
				Msg("webhook processing failed, dead-lettering")
			metrics.IncWebhookEvent(kind, "failed")
			metrics.IncWebhookFailure(kind)

			dl := &model.DeadLetter{
				EventID:    ev.ID,
				EventKind:  ev.Kind,
				TenantID:   ev.TenantID,
				Payload:    payload,
				FailReason: procErr.Error(),
				FailedAt:   time.Now().UTC(),
			}
			// A fresh context: the processing deadline may already be spent.
			dlCtx, dlCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer dlCancel()
			if err := deadLetters.Record(dlCtx, repository.NoTX, dl); err != nil {
				log.Error().Err(err).Str("event_id", ev.ID).Msg("dead-letter record failed")
			} else {
				metrics.IncWebhookDeadLetter()
			}
			// Acknowledge anyway; redelivery cannot fix a handler bug.
			w.WriteHeader(http.StatusOK)
			return
		}

		metrics.IncWebhookEvent(kind, "processed")
		w.WriteHeader(http.StatusOK)
	}
}
