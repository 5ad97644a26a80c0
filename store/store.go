// Package store defines the unified persistence interface for the quota
// engine. Backends live in the subpackages memory, sqlite, postgres and
// mongo; all of them provide atomic create-if-absent for subscriptions
// and atomic increments for usage counters, so callers never compose
// read-modify-write cycles themselves.
package store

import (
	"context"
	"time"

	"github.com/newleaf-app/quota/entitlement"
	"github.com/newleaf-app/quota/subscription"
	"github.com/newleaf-app/quota/usage"
)

// Store is the unified storage interface for all quota entities.
// Methods are declared explicitly rather than by embedding the
// per-package interfaces, to keep the surface readable in one place.
type Store interface {
	// Subscription methods.
	//
	// GetOrCreateSubscription must be atomic create-if-absent: two
	// first-time callers racing must converge on a single default
	// record. The created flag reports whether this call provisioned it.
	GetOrCreateSubscription(ctx context.Context, userID string, def *subscription.Subscription) (sub *subscription.Subscription, created bool, err error)
	GetSubscription(ctx context.Context, userID string) (*subscription.Subscription, error)
	UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error

	// Usage methods.
	//
	// GetUsage returns a zero-valued record when (userID, cycle) has
	// never been written. AddUsage applies the whole delta in a single
	// atomic operation at the store layer and returns the updated
	// record. ResetUsage zeroes every counter for the cycle.
	GetUsage(ctx context.Context, userID string, cycle usage.Cycle) (*usage.Record, error)
	AddUsage(ctx context.Context, userID string, cycle usage.Cycle, delta usage.Delta) (*usage.Record, error)
	ResetUsage(ctx context.Context, userID string, cycle usage.Cycle) error
	ListUsage(ctx context.Context, userID string, limit int) ([]*usage.Record, error)

	// Decision cache methods.
	GetCachedDecision(ctx context.Context, userID, feature string) (*entitlement.Decision, error)
	SetCachedDecision(ctx context.Context, userID, feature string, d *entitlement.Decision, ttl time.Duration) error
	InvalidateDecisions(ctx context.Context, userID string) error

	// Core methods.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
