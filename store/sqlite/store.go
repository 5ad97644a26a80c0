// Package sqlite implements the quota store on SQLite via database/sql
// and the modernc.org/sqlite driver. Suited to single-node deployments
// and integration tests that need durable state without a server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

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

const timeLayout = time.RFC3339Nano

// Store implements store.Store on a SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a store on an existing database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens (or creates) a SQLite database at path and returns a store
// on it. Busy timeout and foreign keys are set through the DSN.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("quota/sqlite: open %s: %w", path, err)
	}
	// modernc sqlite serializes writes; one connection avoids
	// SQLITE_BUSY churn under concurrent use.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// DB returns the underlying database handle for direct access.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate applies pending schema migrations in version order.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS quota_schema_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TEXT NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("%w: create migrations table: %w", quota.ErrMigrationFailed, err)
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM quota_schema_migrations WHERE version = ?`, m.Version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("%w: check version %s: %w", quota.ErrMigrationFailed, m.Version, err)
		}
		if exists > 0 {
			continue
		}

		if _, err := s.db.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("%w: apply %s: %w", quota.ErrMigrationFailed, m.Name, err)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO quota_schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			m.Version, m.Name, time.Now().UTC().Format(timeLayout),
		); err != nil {
			return fmt.Errorf("%w: record %s: %w", quota.ErrMigrationFailed, m.Name, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Subscription Store ====================

func (s *Store) GetOrCreateSubscription(ctx context.Context, userID string, def *subscription.Subscription) (*subscription.Subscription, bool, error) {
	payment, err := marshalPayment(def.Payment)
	if err != nil {
		return nil, false, err
	}

	// ON CONFLICT DO NOTHING makes the insert the atomic winner-takes-all
	// step; the follow-up select reads whatever won.
	res, err := s.db.ExecContext(ctx, `
INSERT INTO quota_subscriptions (user_id, id, tier, start_date, end_date, active, payment, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id) DO NOTHING`,
		userID,
		def.ID.String(),
		string(def.Tier),
		def.StartDate.UTC().Format(timeLayout),
		def.EndDate.UTC().Format(timeLayout),
		boolToInt(def.Active),
		payment,
		def.CreatedAt.UTC().Format(timeLayout),
		def.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, false, fmt.Errorf("quota/sqlite: upsert subscription: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	sub, err := s.GetSubscription(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return sub, rows > 0, nil
}

func (s *Store) GetSubscription(ctx context.Context, userID string) (*subscription.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT user_id, id, tier, start_date, end_date, active, payment, created_at, updated_at
FROM quota_subscriptions WHERE user_id = ?`, userID)

	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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

	res, err := s.db.ExecContext(ctx, `
UPDATE quota_subscriptions
SET tier = ?, start_date = ?, end_date = ?, active = ?, payment = ?, updated_at = ?
WHERE user_id = ?`,
		string(sub.Tier),
		sub.StartDate.UTC().Format(timeLayout),
		sub.EndDate.UTC().Format(timeLayout),
		boolToInt(sub.Active),
		payment,
		time.Now().UTC().Format(timeLayout),
		sub.UserID,
	)
	if err != nil {
		return fmt.Errorf("quota/sqlite: update subscription: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return quota.ErrSubscriptionNotFound
	}
	return nil
}

// ==================== Usage Store ====================

func (s *Store) GetUsage(ctx context.Context, userID string, cycle usage.Cycle) (*usage.Record, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT user_id, cycle, id, token_calls, token_cost, interactions, comments, milestones, chats, free_features, created_at, updated_at
FROM quota_usage WHERE user_id = ? AND cycle = ?`, userID, string(cycle))

	rec, err := scanUsage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return usage.NewRecord(userID, cycle), nil
		}
		return nil, err
	}
	return rec, nil
}

func (s *Store) AddUsage(ctx context.Context, userID string, cycle usage.Cycle, delta usage.Delta) (*usage.Record, error) {
	now := time.Now().UTC().Format(timeLayout)

	// Single-statement upsert: the increment happens inside the engine's
	// storage layer, never as read-modify-write in the caller.
	_, err := s.db.ExecContext(ctx, `
INSERT INTO quota_usage (user_id, cycle, id, token_calls, token_cost, interactions, comments, milestones, chats, free_features, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, cycle) DO UPDATE SET
    token_calls   = token_calls + excluded.token_calls,
    token_cost    = token_cost + excluded.token_cost,
    interactions  = interactions + excluded.interactions,
    comments      = comments + excluded.comments,
    milestones    = milestones + excluded.milestones,
    chats         = chats + excluded.chats,
    free_features = free_features + excluded.free_features,
    updated_at    = excluded.updated_at`,
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
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("quota/sqlite: add usage: %w", err)
	}

	return s.GetUsage(ctx, userID, cycle)
}

func (s *Store) ResetUsage(ctx context.Context, userID string, cycle usage.Cycle) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE quota_usage
SET token_calls = 0, token_cost = 0, interactions = 0, comments = 0, milestones = 0, chats = 0, free_features = 0, updated_at = ?
WHERE user_id = ? AND cycle = ?`,
		time.Now().UTC().Format(timeLayout), userID, string(cycle),
	)
	if err != nil {
		return fmt.Errorf("quota/sqlite: reset usage: %w", err)
	}
	return nil
}

func (s *Store) ListUsage(ctx context.Context, userID string, limit int) ([]*usage.Record, error) {
	q := `
SELECT user_id, cycle, id, token_calls, token_cost, interactions, comments, milestones, chats, free_features, created_at, updated_at
FROM quota_usage WHERE user_id = ? ORDER BY cycle DESC`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("quota/sqlite: list usage: %w", err)
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
	var raw string
	var expiresAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT decision, expires_at FROM quota_decision_cache WHERE cache_key = ?`,
		userID+":"+feature,
	).Scan(&raw, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, quota.ErrCacheMiss
		}
		return nil, err
	}

	exp, err := time.Parse(timeLayout, expiresAt)
	if err != nil || time.Now().After(exp) {
		return nil, quota.ErrCacheMiss
	}

	var d entitlement.Decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
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

	_, err = s.db.ExecContext(ctx, `
INSERT INTO quota_decision_cache (cache_key, user_id, feature, decision, expires_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (cache_key) DO UPDATE SET
    decision   = excluded.decision,
    expires_at = excluded.expires_at`,
		userID+":"+feature,
		userID,
		feature,
		string(raw),
		time.Now().Add(ttl).UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("quota/sqlite: set cached decision: %w", err)
	}
	return nil
}

func (s *Store) InvalidateDecisions(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM quota_decision_cache WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("quota/sqlite: invalidate decisions: %w", err)
	}
	return nil
}

// ==================== Row scanning ====================

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row scanner) (*subscription.Subscription, error) {
	var (
		sub       subscription.Subscription
		idStr     string
		tier      string
		startDate string
		endDate   string
		active    int
		payment   sql.NullString
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&sub.UserID, &idStr, &tier, &startDate, &endDate, &active, &payment, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	parsed, err := id.ParseWithPrefix(idStr, id.PrefixSubscription)
	if err != nil {
		return nil, fmt.Errorf("quota/sqlite: corrupt subscription id %q: %w", idStr, err)
	}
	sub.ID = parsed
	sub.Tier = plan.Tier(tier)
	sub.Active = active != 0

	if sub.StartDate, err = time.Parse(timeLayout, startDate); err != nil {
		return nil, err
	}
	if sub.EndDate, err = time.Parse(timeLayout, endDate); err != nil {
		return nil, err
	}
	if sub.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, err
	}
	if sub.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, err
	}

	if payment.Valid && payment.String != "" {
		var meta subscription.PaymentMeta
		if err := json.Unmarshal([]byte(payment.String), &meta); err != nil {
			return nil, fmt.Errorf("quota/sqlite: corrupt payment metadata: %w", err)
		}
		sub.Payment = &meta
	}
	return &sub, nil
}

func scanUsage(row scanner) (*usage.Record, error) {
	var (
		rec       usage.Record
		cycle     string
		idStr     string
		createdAt string
		updatedAt string
	)
	if err := row.Scan(
		&rec.UserID, &cycle, &idStr,
		&rec.TokenCalls, &rec.TokenCost,
		&rec.Interactions, &rec.Comments, &rec.Milestones, &rec.Chats, &rec.FreeFeatures,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	parsed, err := id.ParseWithPrefix(idStr, id.PrefixUsageRecord)
	if err != nil {
		return nil, fmt.Errorf("quota/sqlite: corrupt usage id %q: %w", idStr, err)
	}
	rec.ID = parsed
	rec.Cycle = usage.Cycle(cycle)

	if rec.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

func marshalPayment(meta *subscription.PaymentMeta) (any, error) {
	if meta == nil {
		return nil, nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("quota/sqlite: marshal payment metadata: %w", err)
	}
	return string(raw), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
