package postgres

// migration is one versioned schema step, tracked in
// quota_schema_migrations so Migrate is safe to run on every start.
type migration struct {
	Version string
	Name    string
	SQL     string
}

var migrations = []migration{
	{
		Version: "20260101000001",
		Name:    "create_quota_subscriptions",
		SQL: `
CREATE TABLE IF NOT EXISTS quota_subscriptions (
    user_id    TEXT PRIMARY KEY,
    id         TEXT NOT NULL,
    tier       TEXT NOT NULL DEFAULT 'free',
    start_date TIMESTAMPTZ NOT NULL,
    end_date   TIMESTAMPTZ NOT NULL,
    active     BOOLEAN NOT NULL DEFAULT TRUE,
    payment    JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_quota_subs_tier ON quota_subscriptions (tier);
`,
	},
	{
		Version: "20260101000002",
		Name:    "create_quota_usage",
		SQL: `
CREATE TABLE IF NOT EXISTS quota_usage (
    user_id       TEXT NOT NULL,
    cycle         TEXT NOT NULL,
    id            TEXT NOT NULL,
    token_calls   BIGINT NOT NULL DEFAULT 0,
    token_cost    BIGINT NOT NULL DEFAULT 0,
    interactions  BIGINT NOT NULL DEFAULT 0,
    comments      BIGINT NOT NULL DEFAULT 0,
    milestones    BIGINT NOT NULL DEFAULT 0,
    chats         BIGINT NOT NULL DEFAULT 0,
    free_features BIGINT NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (user_id, cycle)
);

CREATE INDEX IF NOT EXISTS idx_quota_usage_cycle ON quota_usage (cycle);
`,
	},
	{
		Version: "20260101000003",
		Name:    "create_quota_decision_cache",
		SQL: `
CREATE TABLE IF NOT EXISTS quota_decision_cache (
    cache_key  TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    feature    TEXT NOT NULL,
    decision   JSONB NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_quota_cache_user ON quota_decision_cache (user_id);
CREATE INDEX IF NOT EXISTS idx_quota_cache_expires ON quota_decision_cache (expires_at);
`,
	},
}
