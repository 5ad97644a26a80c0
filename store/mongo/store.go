// Package mongo implements the quota store on MongoDB. Counter updates
// use $inc with upsert, so increments are atomic at the document level
// and first-touch creation needs no separate insert path.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/newleaf-app/quota"
	"github.com/newleaf-app/quota/entitlement"
	"github.com/newleaf-app/quota/id"
	quotastore "github.com/newleaf-app/quota/store"
	"github.com/newleaf-app/quota/subscription"
	"github.com/newleaf-app/quota/usage"
)

// Collection name constants.
const (
	colSubscriptions = "quota_subscriptions"
	colUsage         = "quota_usage"
	colDecisions     = "quota_decision_cache"
)

// compile-time interface check
var _ quotastore.Store = (*Store)(nil)

// Store implements store.Store on a MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database

	// ownsClient is set when Connect created the client, so Close
	// disconnects it.
	ownsClient bool
}

// New creates a store on an existing database handle.
func New(db *mongo.Database) *Store {
	return &Store{client: db.Client(), db: db}
}

// Connect dials uri and returns a store on the named database.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("quota/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx) //nolint:errcheck // already failing
		return nil, fmt.Errorf("quota/mongo: ping: %w", err)
	}
	return &Store{client: client, db: client.Database(database), ownsClient: true}, nil
}

// DB returns the underlying database handle for direct access.
func (s *Store) DB() *mongo.Database { return s.db }

// Migrate creates indexes for all quota collections. The expires_at TTL
// index lets Mongo expire stale decisions on its own.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		colSubscriptions: {
			{Keys: bson.D{{Key: "tier", Value: 1}}},
		},
		colUsage: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "cycle", Value: -1}}},
			{Keys: bson.D{{Key: "cycle", Value: 1}}},
		},
		colDecisions: {
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
			{
				Keys:    bson.D{{Key: "expires_at", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(0),
			},
		},
	}

	for col, models := range indexes {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("%w: %s indexes: %w", quota.ErrMigrationFailed, col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client when this store owns it.
func (s *Store) Close() error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Disconnect(context.Background())
}

// ==================== Subscription Store ====================

func (s *Store) GetOrCreateSubscription(ctx context.Context, userID string, def *subscription.Subscription) (*subscription.Subscription, bool, error) {
	m := toSubscriptionModel(def)
	m.UserID = userID

	// $setOnInsert with upsert makes provisioning winner-takes-all:
	// racing callers all read back the single stored document.
	res := s.db.Collection(colSubscriptions).FindOneAndUpdate(ctx,
		bson.M{"_id": userID},
		bson.M{"$setOnInsert": m},
		options.FindOneAndUpdate().
			SetUpsert(true).
			SetReturnDocument(options.After),
	)

	var stored subscriptionModel
	if err := res.Decode(&stored); err != nil {
		return nil, false, fmt.Errorf("quota/mongo: get or create subscription: %w", err)
	}

	sub, err := fromSubscriptionModel(&stored)
	if err != nil {
		return nil, false, err
	}
	return sub, stored.ID == m.ID, nil
}

func (s *Store) GetSubscription(ctx context.Context, userID string) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.db.Collection(colSubscriptions).
		FindOne(ctx, bson.M{"_id": userID}).
		Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, quota.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("quota/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	m.UpdatedAt = time.Now().UTC()

	res, err := s.db.Collection(colSubscriptions).ReplaceOne(ctx,
		bson.M{"_id": sub.UserID}, m)
	if err != nil {
		return fmt.Errorf("quota/mongo: update subscription: %w", err)
	}
	if res.MatchedCount == 0 {
		return quota.ErrSubscriptionNotFound
	}
	return nil
}

// ==================== Usage Store ====================

func (s *Store) GetUsage(ctx context.Context, userID string, cycle usage.Cycle) (*usage.Record, error) {
	var m usageModel
	err := s.db.Collection(colUsage).
		FindOne(ctx, bson.M{"_id": usageKey(userID, cycle)}).
		Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return usage.NewRecord(userID, cycle), nil
		}
		return nil, fmt.Errorf("quota/mongo: get usage: %w", err)
	}
	return fromUsageModel(&m)
}

func (s *Store) AddUsage(ctx context.Context, userID string, cycle usage.Cycle, delta usage.Delta) (*usage.Record, error) {
	now := time.Now().UTC()

	res := s.db.Collection(colUsage).FindOneAndUpdate(ctx,
		bson.M{"_id": usageKey(userID, cycle)},
		bson.M{
			"$inc": bson.M{
				"token_calls":   delta.TokenCalls,
				"token_cost":    delta.TokenCost,
				"interactions":  delta.Interactions,
				"comments":      delta.Comments,
				"milestones":    delta.Milestones,
				"chats":         delta.Chats,
				"free_features": delta.FreeFeatures,
			},
			"$set": bson.M{"updated_at": now},
			"$setOnInsert": bson.M{
				"id":         id.NewUsageRecordID().String(),
				"user_id":    userID,
				"cycle":      string(cycle),
				"created_at": now,
			},
		},
		options.FindOneAndUpdate().
			SetUpsert(true).
			SetReturnDocument(options.After),
	)

	var m usageModel
	if err := res.Decode(&m); err != nil {
		return nil, fmt.Errorf("quota/mongo: add usage: %w", err)
	}
	return fromUsageModel(&m)
}

func (s *Store) ResetUsage(ctx context.Context, userID string, cycle usage.Cycle) error {
	_, err := s.db.Collection(colUsage).UpdateOne(ctx,
		bson.M{"_id": usageKey(userID, cycle)},
		bson.M{"$set": bson.M{
			"token_calls":   int64(0),
			"token_cost":    int64(0),
			"interactions":  int64(0),
			"comments":      int64(0),
			"milestones":    int64(0),
			"chats":         int64(0),
			"free_features": int64(0),
			"updated_at":    time.Now().UTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("quota/mongo: reset usage: %w", err)
	}
	return nil
}

func (s *Store) ListUsage(ctx context.Context, userID string, limit int) ([]*usage.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "cycle", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}

	cur, err := s.db.Collection(colUsage).Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("quota/mongo: list usage: %w", err)
	}
	defer cur.Close(ctx)

	var result []*usage.Record
	for cur.Next(ctx) {
		var m usageModel
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		rec, err := fromUsageModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, cur.Err()
}

// ==================== Decision cache ====================

func (s *Store) GetCachedDecision(ctx context.Context, userID, feature string) (*entitlement.Decision, error) {
	var m decisionModel
	err := s.db.Collection(colDecisions).
		FindOne(ctx, bson.M{"_id": userID + ":" + feature}).
		Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, quota.ErrCacheMiss
		}
		return nil, fmt.Errorf("quota/mongo: get cached decision: %w", err)
	}

	// The TTL monitor runs once a minute; treat expired-but-present
	// documents as misses.
	if time.Now().After(m.ExpiresAt) {
		return nil, quota.ErrCacheMiss
	}

	var d entitlement.Decision
	if err := json.Unmarshal(m.Decision, &d); err != nil {
		return nil, quota.ErrCacheMiss
	}
	return &d, nil
}

func (s *Store) SetCachedDecision(ctx context.Context, userID, feature string, d *entitlement.Decision, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}

	m := decisionModel{
		Key:       userID + ":" + feature,
		UserID:    userID,
		Feature:   feature,
		Decision:  raw,
		ExpiresAt: time.Now().Add(ttl).UTC(),
	}

	_, err = s.db.Collection(colDecisions).ReplaceOne(ctx,
		bson.M{"_id": m.Key}, m,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("quota/mongo: set cached decision: %w", err)
	}
	return nil
}

func (s *Store) InvalidateDecisions(ctx context.Context, userID string) error {
	_, err := s.db.Collection(colDecisions).DeleteMany(ctx, bson.M{"user_id": userID})
	if err != nil {
		return fmt.Errorf("quota/mongo: invalidate decisions: %w", err)
	}
	return nil
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
