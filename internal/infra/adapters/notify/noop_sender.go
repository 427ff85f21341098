// File: internal/infra/adapters/notify/noop_sender.go
package notify

import (
	"context"
	"time"

	"practice-entitlement-engine/internal/domain/ports/adapter"
)

var _ adapter.NotificationSender = (*NoopSender)(nil)

// NoopSender swallows all notifications; used in dev mode.
type NoopSender struct{}

func NewNoopSender() *NoopSender { return &NoopSender{} }

func (NoopSender) SendDeletionScheduled(ctx context.Context, email, username string, deleteAt time.Time) error {
	return nil
}

func (NoopSender) SendFarewell(ctx context.Context, email, username string, refundCents int64) error {
	return nil
}

func (NoopSender) SendWelcomeBack(ctx context.Context, email, username string) error { return nil }

func (NoopSender) SendInactivityReminder(ctx context.Context, email, username string, lastActive time.Time) error {
	return nil
}
