// File: internal/infra/adapters/analytics/noop_sink.go
package analytics

import (
	"context"

	"practice-entitlement-engine/internal/domain/ports/adapter"
)

var _ adapter.AnalyticsSink = (*NoopSink)(nil)

// NoopSink discards analytics; used in dev mode and tests.
type NoopSink struct{}

func NewNoopSink() *NoopSink { return &NoopSink{} }

func (NoopSink) Capture(ctx context.Context, tenantID int64, event string, props map[string]any) {}

func (NoopSink) DeletePerson(ctx context.Context, tenantID int64) error { return nil }
