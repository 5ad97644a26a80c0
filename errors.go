package quota

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios. A denied admission check
// is never one of these: denial is a normal entitlement.Decision value.
var (
	// General errors
	ErrNotFound     = errors.New("quota: not found")
	ErrInvalidInput = errors.New("quota: invalid input")

	// Plan errors
	ErrTierNotInCatalog = errors.New("quota: tier not in catalog")
	ErrUnknownDimension = errors.New("quota: unknown dimension")

	// Subscription errors
	ErrSubscriptionNotFound = errors.New("quota: subscription not found")
	ErrSubscriptionInactive = errors.New("quota: subscription inactive")

	// Usage errors
	ErrUsageNotFound   = errors.New("quota: usage record not found")
	ErrInvalidQuantity = errors.New("quota: invalid usage quantity")

	// Store errors
	ErrStoreNotReady   = errors.New("quota: store not ready")
	ErrStoreClosed     = errors.New("quota: store is closed")
	ErrMigrationFailed = errors.New("quota: migration failed")

	// Cache errors
	ErrCacheMiss = errors.New("quota: cache miss")
)

// ValidationError represents an input validation failure, raised before
// any store access.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("quota: validation failed for %s: %s", e.Field, e.Message)
}

// IsValidation returns true if the error is a validation failure.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// IsNotFound returns true if the error is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrUsageNotFound) ||
		errors.Is(err, ErrTierNotInCatalog)
}

// IsRetryable returns true if the error is temporary and the operation
// can be retried by the caller. The engine itself never retries: a
// dropped usage event under-counts, which is the safe direction for a
// soft cap.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreNotReady)
}
