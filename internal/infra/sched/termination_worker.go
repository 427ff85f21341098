package sched

import (
	"context"
	"time"

	"practice-entitlement-engine/internal/infra/metrics"
	"practice-entitlement-engine/internal/usecase"

	"github.com/rs/zerolog"
)

// TerminationWorker periodically finalizes due scheduled account deletions.
// The sweep itself is cross-process locked, so overlapping replicas are safe.
type TerminationWorker struct {
	interval time.Duration
	termUC   usecase.TerminationUseCase
	log      *zerolog.Logger
}

func NewTerminationWorker(interval time.Duration, termUC usecase.TerminationUseCase, logger *zerolog.Logger) *TerminationWorker {
	compLog := logger.With().Str("component", "TerminationWorker").Logger()
	return &TerminationWorker{
		interval: interval,
		termUC:   termUC,
		log:      &compLog,
	}
}

func (w *TerminationWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting termination worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping termination worker")
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			n, err := w.termUC.RunSweep(ctx)
			metrics.ObserveSweepDuration(time.Since(start).Seconds())
			if err != nil {
				w.log.Error().Err(err).Msg("termination sweep error")
			}
			if n > 0 {
				w.log.Info().Int("count", n).Msg("scheduled deletions finalized")
			}
		}
	}
}
