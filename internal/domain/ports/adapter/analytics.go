package adapter

import "context"

// AnalyticsSink records lifecycle events for product analytics. Capture is
// fire-and-forget; errors never propagate to callers.
type AnalyticsSink interface {
	Capture(ctx context.Context, tenantID int64, event string, props map[string]any)

	// DeletePerson erases the tenant's analytics profile as part of the
	// termination purge.
	DeletePerson(ctx context.Context, tenantID int64) error
}
