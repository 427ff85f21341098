// Package tenant carries the per-request tenant identity and the isolation
// primitives every tenant-scoped read and write goes through.
package tenant

import (
	"context"

	"practice-entitlement-engine/internal/domain"
)

type ctxKey struct{}

// WithTenant returns a context carrying the authenticated tenant id.
func WithTenant(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the current tenant id, if any. Unauthenticated paths
// have none; scoping then degrades to a no-op and callers that require
// isolation must use Require instead.
func FromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ctxKey{}).(int64)
	return id, ok && id != 0
}

// Require returns the current tenant id or ErrNotAuthenticated.
func Require(ctx context.Context) (int64, error) {
	id, ok := FromContext(ctx)
	if !ok {
		return 0, domain.ErrNotAuthenticated
	}
	return id, nil
}

// ScopeID returns the id repositories narrow their queries by. Zero means
// "no identity present, leave the query unfiltered"; write paths must not
// rely on it and should call Owns as well.
func ScopeID(ctx context.Context) int64 {
	id, _ := FromContext(ctx)
	return id
}

// Owned is any record that belongs to exactly one tenant.
type Owned interface {
	Owner() int64
}

// Owns reports whether rec belongs to tenantID. Update and delete paths call
// this even though reads are already narrowed, so a record fetched by
// primary key cannot be mutated across tenants.
func Owns(rec Owned, tenantID int64) bool {
	if rec == nil || tenantID == 0 {
		return false
	}
	return rec.Owner() == tenantID
}

// RequireOwner asserts ownership of rec by the context tenant.
func RequireOwner(ctx context.Context, rec Owned) error {
	id, err := Require(ctx)
	if err != nil {
		return err
	}
	if !Owns(rec, id) {
		return domain.ErrNotOwner
	}
	return nil
}

// Stamp returns the tenant id a newly created record must carry. The id
// always comes from the request identity, never from payload data.
func Stamp(ctx context.Context) (int64, error) {
	return Require(ctx)
}
