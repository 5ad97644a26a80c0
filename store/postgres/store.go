// Package postgres implements the quota store on PostgreSQL via pgx.
// This is the backend for multi-node deployments: create-if-absent and
// counter increments are single statements, so concurrent app servers
// never race each other.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/newleaf-app/quota"
	"github.com/newleaf-app/quota/entitlement"
	"github.com/newleaf-app/quota/id"
	"github.com/newleaf-app/quota/plan"
	quotastore "github.com/newleaf-app/quota/store"
	"github.com/newleaf-app/quota/subscription"
	"github.com/newleaf-app/quota/usage"
)

// compile-time interface check
var _ quotastore.Store = (*Store)(nil)

// Store implements store.Store on a PostgreSQL connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store on an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect creates a pool from a connection string and returns a store
// on it.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("quota/postgres: connect: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Pool returns the underlying pool for direct access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Migrate applies pending schema migrations in version order.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS quota_schema_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`)
	if err != nil {
		return fmt.Errorf("%w: create migrations table: %w", quota.ErrMigrationFailed, err)
	}

	for _, m := range migrations {
		var exists int
		err := s.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM quota_schema_migrations WHERE version = $1`, m.Version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("%w: check version %s: %w", quota.ErrMigrationFailed, m.Version, err)
		}
		if exists > 0 {
			continue
		}

		if _, err := s.pool.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("%w: apply %s: %w", quota.ErrMigrationFailed, m.Name, err)
		}
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO quota_schema_migrations (version, name) VALUES ($1, $2)`,
			m.Version, m.Name,
		); err != nil {
			return fmt.Errorf("%w: record %s: %w", quota.ErrMigrationFailed, m.Name, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ==================== Subscription Store ====================

func (s *Store) GetOrCreateSubscription(ctx context.Context, userID string, def *subscription.Subscription) (*subscription.Subscription, bool, error) {
	payment, err := marshalPayment(def.Payment)
	if err != nil {
		return nil, false, err
	}

	tag, err := s.pool.Exec(ctx, `
INSERT INTO quota_subscriptions (user_id, id, tier, start_date, end_date, active, payment, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (user_id) DO NOTHING`,
		userID,
		def.ID.String(),
		string(def.Tier),
		def.StartDate.UTC(),
		def.EndDate.UTC(),
		def.Active,
		payment,
		def.CreatedAt.UTC(),
		def.UpdatedAt.UTC(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("quota/postgres: upsert subscription: %w", err)
	}

	sub, err := s.GetSubscription(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return sub, tag.RowsAffected() > 0, nil
}

func (s *Store) GetSubscription(ctx context.Context, userID string) (*subscription.Subscription, error) {
	row := s.pool.QueryRow(ctx, `
SELECT user_id, id, tier, start_date, end_date, active, payment, created_at, updated_at
FROM quota_subscriptions WHERE user_id = $1`, userID)

	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, quota.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	payment, err := marshalPayment(sub.Payment)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
UPDATE quota_subscriptions
SET tier = $1, start_date = $2, end_date = $3, active = $4, payment = $5, updated_at = now()
WHERE user_id = $6`,
		string(sub.Tier),
		sub.StartDate.UTC(),
		sub.EndDate.UTC(),
		sub.Active,
		payment,
		sub.UserID,
	)
	if err != nil {
		return fmt.Errorf("quota/postgres: update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return quota.ErrSubscriptionNotFound
	}
	return nil
}

// ==================== Usage Store ====================

func (s *Store) GetUsage(ctx context.Context, userID string, cycle usage.Cycle) (*usage.Record, error) {
	row := s.pool.QueryRow(ctx, `
SELECT user_id, cycle, id, token_calls, token_cost, interactions, comments, milestones, chats, free_features, created_at, updated_at
FROM quota_usage WHERE user_id = $1 AND cycle = $2`, userID, string(cycle))

	rec, err := scanUsage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return usage.NewRecord(userID, cycle), nil
		}
		return nil, err
	}
	return rec, nil
}

func (s *Store) AddUsage(ctx context.Context, userID string, cycle usage.Cycle, delta usage.Delta) (*usage.Record, error) {
	row := s.pool.QueryRow(ctx, `
INSERT INTO quota_usage (user_id, cycle, id, token_calls, token_cost, interactions, comments, milestones, chats, free_features)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (user_id, cycle) DO UPDATE SET
    token_calls   = quota_usage.token_calls + EXCLUDED.token_calls,
    token_cost    = quota_usage.token_cost + EXCLUDED.token_cost,
    interactions  = quota_usage.interactions + EXCLUDED.interactions,
    comments      = quota_usage.comments + EXCLUDED.comments,
    milestones    = quota_usage.milestones + EXCLUDED.milestones,
    chats         = quota_usage.chats + EXCLUDED.chats,
    free_features = quota_usage.free_features + EXCLUDED.free_features,
    updated_at    = now()
RETURNING user_id, cycle, id, token_calls, token_cost, interactions, comments, milestones, chats, free_features, created_at, updated_at`,
		userID,
		string(cycle),
		id.NewUsageRecordID().String(),
		delta.TokenCalls,
		delta.TokenCost,
		delta.Interactions,
		delta.Comments,
		delta.Milestones,
		delta.Chats,
		delta.FreeFeatures,
	)

	rec, err := scanUsage(row)
	if err != nil {
		return nil, fmt.Errorf("quota/postgres: add usage: %w", err)
	}
	return rec, nil
}

func (s *Store) ResetUsage(ctx context.Context, userID string, cycle usage.Cycle) error {
	_, err := s.pool.Exec(ctx, `
UPDATE quota_usage
SET token_calls = 0, token_cost = 0, interactions = 0, comments = 0, milestones = 0, chats = 0, free_features = 0, updated_at = now()
WHERE user_id = $1 AND cycle = $2`, userID, string(cycle))
	if err != nil {
		return fmt.Errorf("quota/postgres: reset usage: %w", err)
	}
	return nil
}

func (s *Store) ListUsage(ctx context.Context, userID string, limit int) ([]*usage.Record, error) {
	q := `
SELECT user_id, cycle, id, token_calls, token_cost, interactions, comments, milestones, chats, free_features, created_at, updated_at
FROM quota_usage WHERE user_id = $1 ORDER BY cycle DESC`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("quota/postgres: list usage: %w", err)
	}
	defer rows.Close()

	var result []*usage.Record
	for rows.Next() {
		rec, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// ==================== Decision cache ====================

func (s *Store) GetCachedDecision(ctx context.Context, userID, feature string) (*entitlement.Decision, error) {
	var raw []byte
	var expiresAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT decision, expires_at FROM quota_decision_cache WHERE cache_key = $1`,
		userID+":"+feature,
	).Scan(&raw, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, quota.ErrCacheMiss
		}
		return nil, err
	}

	if time.Now().After(expiresAt) {
		return nil, quota.ErrCacheMiss
	}

	var d entitlement.Decision
	if err := json.Unmarshal(raw, &d); err != nil {
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

	_, err = s.pool.Exec(ctx, `
INSERT INTO quota_decision_cache (cache_key, user_id, feature, decision, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (cache_key) DO UPDATE SET
    decision   = EXCLUDED.decision,
    expires_at = EXCLUDED.expires_at`,
		userID+":"+feature,
		userID,
		feature,
		raw,
		time.Now().Add(ttl).UTC(),
	)
	if err != nil {
		return fmt.Errorf("quota/postgres: set cached decision: %w", err)
	}
	return nil
}

func (s *Store) InvalidateDecisions(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM quota_decision_cache WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("quota/postgres: invalidate decisions: %w", err)
	}
	return nil
}

// ==================== Row scanning ====================

type scanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row scanner) (*subscription.Subscription, error) {
	var (
		sub     subscription.Subscription
		idStr   string
		tier    string
		payment []byte
	)
	if err := row.Scan(&sub.UserID, &idStr, &tier, &sub.StartDate, &sub.EndDate, &sub.Active, &payment, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}

	parsed, err := id.ParseWithPrefix(idStr, id.PrefixSubscription)
	if err != nil {
		return nil, fmt.Errorf("quota/postgres: corrupt subscription id %q: %w", idStr, err)
	}
	sub.ID = parsed
	sub.Tier = plan.Tier(tier)

	if len(payment) > 0 {
		var meta subscription.PaymentMeta
		if err := json.Unmarshal(payment, &meta); err != nil {
			return nil, fmt.Errorf("quota/postgres: corrupt payment metadata: %w", err)
		}
		sub.Payment = &meta
	}
	return &sub, nil
}

func scanUsage(row scanner) (*usage.Record, error) {
	var (
		rec   usage.Record
		cycle string
		idStr string
	)
	if err := row.Scan(
		&rec.UserID, &cycle, &idStr,
		&rec.TokenCalls, &rec.TokenCost,
		&rec.Interactions, &rec.Comments, &rec.Milestones, &rec.Chats, &rec.FreeFeatures,
		&rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	parsed, err := id.ParseWithPrefix(idStr, id.PrefixUsageRecord)
	if err != nil {
		return nil, fmt.Errorf("quota/postgres: corrupt usage id %q: %w", idStr, err)
	}
	rec.ID = parsed
	rec.Cycle = usage.Cycle(cycle)
	return &rec, nil
}

func marshalPayment(meta *subscription.PaymentMeta) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("quota/postgres: marshal payment metadata: %w", err)
	}
	return raw, nil
}
