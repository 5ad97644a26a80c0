// Package memory provides an in-memory Store implementation, suitable
// for tests and single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/newleaf-app/quota"
	"github.com/newleaf-app/quota/entitlement"
	"github.com/newleaf-app/quota/subscription"
	"github.com/newleaf-app/quota/usage"
)

type Store struct {
	mu sync.RWMutex

	// Subscription storage, keyed by user ID.
	subscriptions map[string]*subscription.Subscription

	// Usage storage, keyed by user ID then cycle.
	records map[string]map[usage.Cycle]*usage.Record

	// Decision cache, keyed by user ID then feature.
	decisionCache map[string]map[string]cachedDecision

	closed bool
}

type cachedDecision struct {
	decision  *entitlement.Decision
	expiresAt time.Time
}

func New() *Store {
	return &Store{
		subscriptions: make(map[string]*subscription.Subscription),
		records:       make(map[string]map[usage.Cycle]*usage.Record),
		decisionCache: make(map[string]map[string]cachedDecision),
	}
}

// Subscription Store implementation

func (s *Store) GetOrCreateSubscription(_ context.Context, userID string, def *subscription.Subscription) (*subscription.Subscription, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, quota.ErrStoreClosed
	}

	if sub, ok := s.subscriptions[userID]; ok {
		return cloneSub(sub), false, nil
	}

	stored := cloneSub(def)
	stored.UserID = userID
	s.subscriptions[userID] = stored
	return cloneSub(stored), true, nil
}

func (s *Store) GetSubscription(_ context.Context, userID string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, quota.ErrStoreClosed
	}

	if sub, ok := s.subscriptions[userID]; ok {
		return cloneSub(sub), nil
	}
	return nil, quota.ErrSubscriptionNotFound
}

func (s *Store) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return quota.ErrStoreClosed
	}

	if _, exists := s.subscriptions[sub.UserID]; !exists {
		return quota.ErrSubscriptionNotFound
	}
	s.subscriptions[sub.UserID] = cloneSub(sub)
	return nil
}

// Usage Store implementation

func (s *Store) GetUsage(_ context.Context, userID string, cycle usage.Cycle) (*usage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, quota.ErrStoreClosed
	}

	if rec, ok := s.records[userID][cycle]; ok {
		c := *rec
		return &c, nil
	}
	return usage.NewRecord(userID, cycle), nil
}

func (s *Store) AddUsage(_ context.Context, userID string, cycle usage.Cycle, delta usage.Delta) (*usage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, quota.ErrStoreClosed
	}

	byCycle, ok := s.records[userID]
	if !ok {
		byCycle = make(map[usage.Cycle]*usage.Record)
		s.records[userID] = byCycle
	}

	rec, ok := byCycle[cycle]
	if !ok {
		rec = usage.NewRecord(userID, cycle)
		byCycle[cycle] = rec
	}

	rec.Apply(delta)
	c := *rec
	return &c, nil
}

func (s *Store) ResetUsage(_ context.Context, userID string, cycle usage.Cycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return quota.ErrStoreClosed
	}

	if rec, ok := s.records[userID][cycle]; ok {
		rec.Zero()
	}
	return nil
}

func (s *Store) ListUsage(_ context.Context, userID string, limit int) ([]*usage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, quota.ErrStoreClosed
	}

	result := make([]*usage.Record, 0, len(s.records[userID]))
	for _, rec := range s.records[userID] {
		c := *rec
		result = append(result, &c)
	}

	// Newest cycle first; YYYY-MM sorts lexicographically.
	sort.Slice(result, func(i, j int) bool {
		return result[i].Cycle > result[j].Cycle
	})

	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// Decision cache implementation

func (s *Store) GetCachedDecision(_ context.Context, userID, feature string) (*entitlement.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, quota.ErrStoreClosed
	}

	entry, ok := s.decisionCache[userID][feature]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, quota.ErrCacheMiss
	}
	c := *entry.decision
	return &c, nil
}

func (s *Store) SetCachedDecision(_ context.Context, userID, feature string, d *entitlement.Decision, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return quota.ErrStoreClosed
	}
	if ttl <= 0 {
		return nil
	}

	byFeature, ok := s.decisionCache[userID]
	if !ok {
		byFeature = make(map[string]cachedDecision)
		s.decisionCache[userID] = byFeature
	}
	c := *d
	byFeature[feature] = cachedDecision{decision: &c, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *Store) InvalidateDecisions(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return quota.ErrStoreClosed
	}

	delete(s.decisionCache, userID)
	return nil
}

// Core methods

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return quota.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// cloneSub copies a subscription, including payment metadata, so callers
// never share pointers with stored state.
func cloneSub(sub *subscription.Subscription) *subscription.Subscription {
	c := *sub
	if sub.Payment != nil {
		p := *sub.Payment
		c.Payment = &p
	}
	return &c
}
