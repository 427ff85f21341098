package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrOperationFailed    = errors.New("operation failed")
	ErrInvalidExecContext = errors.New("invalid executor context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidSignature   = errors.New("webhook signature verification failed")
	ErrNoFeatureAccess    = errors.New("tier does not include this feature")
	ErrDeletionPending    = errors.New("account deletion already scheduled")
	ErrNoDeletionPending  = errors.New("no scheduled deletion to cancel")
	ErrNotOwner           = errors.New("record belongs to another tenant")
	ErrLockNotAcquired    = errors.New("lock is held elsewhere")
)

// RateLimitError is returned for quota and once-per-period rejections.
// Reason is human-actionable; the remaining/reset fields are machine-readable.
type RateLimitError struct {
	Reason          string
	RemainingDaily  int // -1 means unlimited
	RemainingHourly int
	RetryAt         time.Time
}

func (e *RateLimitError) Error() string { return e.Reason }

// IsRateLimited reports whether err carries a RateLimitError.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// ProviderError wraps a failed outbound call to the billing provider.
// Transient failures (network, 5xx) are safe to retry with backoff;
// the rest are caller mistakes and must not be retried.
type ProviderError struct {
	Op        string
	Status    int
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("billing provider %s failed (status=%d): %v", e.Op, e.Status, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsTransientProviderError reports whether err is a retryable provider failure.
func IsTransientProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}
