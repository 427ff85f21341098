// File: internal/infra/web/server.go
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"practice-entitlement-engine/internal/infra/logging"
	"practice-entitlement-engine/internal/usecase"
)

// Server hosts the tenant-facing API and the billing webhook endpoint.
type Server struct {
	entitlements usecase.EntitlementUseCase
	billing      usecase.BillingUseCase
	quota        usecase.QuotaUseCase
	grace        usecase.GraceUseCase
	termination  usecase.TerminationUseCase
	webhook      http.HandlerFunc
	auth         *AuthManager
	log          *zerolog.Logger

	httpServer *http.Server
}

func NewServer(
	entitlements usecase.EntitlementUseCase,
	billing usecase.BillingUseCase,
	quota usecase.QuotaUseCase,
	grace usecase.GraceUseCase,
	termination usecase.TerminationUseCase,
	webhook http.HandlerFunc,
	auth *AuthManager,
	logger *zerolog.Logger,
) *Server {
	return &Server{
		entitlements: entitlements,
		billing:      billing,
		quota:        quota,
		grace:        grace,
		termination:  termination,
		webhook:      webhook,
		auth:         auth,
		log:          logger,
	}
}

// Router builds the full route tree. Everything under /api/v1 requires a
// valid session token; the webhook authenticates by signature instead.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(s.traceContext)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/webhooks/billing", s.webhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Route("/subscription", func(r chi.Router) {
			r.Get("/", NewGetSubscriptionHandler(s.entitlements, s.log))
			r.Get("/limits", NewGetLimitsHandler(s.entitlements, s.log))
			r.Post("/pause", NewPauseHandler(s.grace, s.log))
			r.Post("/unpause", NewUnpauseHandler(s.grace, s.log))
		})

		r.Route("/quota", func(r chi.Router) {
			r.Get("/", NewQuotaCheckHandler(s.quota, s.log))
			r.Post("/use", NewQuotaUseHandler(s.quota, s.log))
		})

		r.Route("/billing", func(r chi.Router) {
			r.Post("/checkout", NewStartCheckoutHandler(s.billing, s.log))
			r.Post("/tier", NewChangeTierHandler(s.billing, s.log))
			r.Post("/portal", NewBillingPortalHandler(s.billing, s.log))
			r.Post("/resume", NewResumeHandler(s.billing, s.log))
			r.Get("/last-payment", NewLastPaymentHandler(s.billing, s.log))
		})

		r.Route("/account", func(r chi.Router) {
			r.Post("/deletion", NewRequestDeletionHandler(s.termination, s.log))
			r.Delete("/deletion", NewCancelDeletionHandler(s.termination, s.log))
		})
	})

	return r
}

// traceContext copies chi's request id into the logging context so every
// log line of a request carries the same trace_id.
func (s *Server) traceContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			r = r.WithContext(logging.WithTraceID(r.Context(), reqID))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start(port int) error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
