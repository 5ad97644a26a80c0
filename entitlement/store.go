package entitlement

import (
	"context"
	"time"
)

// Cache is the decision cache surface of a store. Cached decisions are
// soft-cap slack: they may lag in-flight usage recording by at most the
// TTL.
type Cache interface {
	GetCachedDecision(ctx context.Context, userID, feature string) (*Decision, error)
	SetCachedDecision(ctx context.Context, userID, feature string, d *Decision, ttl time.Duration) error
	InvalidateDecisions(ctx context.Context, userID string) error
}
