package adapter

import (
	"context"
	"time"
)

// NotificationSender delivers lifecycle email to tenants. Failures are
// logged and never abort the operation that triggered them.
type NotificationSender interface {
	SendDeletionScheduled(ctx context.Context, email, username string, deleteAt time.Time) error
	SendFarewell(ctx context.Context, email, username string, refundCents int64) error
	SendWelcomeBack(ctx context.Context, email, username string) error
	SendInactivityReminder(ctx context.Context, email, username string, lastActive time.Time) error
}
