package repository

import (
	"context"

	"practice-entitlement-engine/internal/domain/model"
)

// -----------------------------
// Webhook dead letters
// -----------------------------

// DeadLetterRepository records billing events whose processing failed after
// the payload was already acknowledged to the provider. Operators replay
// from here; the provider is never asked to redeliver.
type DeadLetterRepository interface {
	Record(ctx context.Context, tx Tx, dl *model.DeadLetter) error
	ListUnresolved(ctx context.Context, tx Tx, limit int) ([]*model.DeadLetter, error)
	MarkResolved(ctx context.Context, tx Tx, id int64) error
}
