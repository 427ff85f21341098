// File: internal/infra/redis/event_dedup.go
package redis

import (
	"context"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"practice-entitlement-engine/internal/usecase"
)

// Ensure EventDedup satisfies the reconciler's cache port.
var _ usecase.ProcessedEventCache = (*EventDedup)(nil)

// EventDedup remembers processed webhook event ids so redeliveries short-
// circuit before touching the database. Best effort: a cache miss only costs
// a redundant (idempotent) reconciliation.
type EventDedup struct {
	client *Client
}

func NewEventDedup(client *Client) *EventDedup {
	return &EventDedup{client: client}
}

func dedupKey(eventID string) string { return "webhook:processed:" + eventID }

func (d *EventDedup) Seen(ctx context.Context, eventID string) (bool, error) {
	_, err := d.client.Get(ctx, dedupKey(eventID))
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *EventDedup) Mark(ctx context.Context, eventID string, ttl time.Duration) error {
	return d.client.Set(ctx, dedupKey(eventID), "1", ttl)
}
