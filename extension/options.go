package extension

import (
	"time"

	"github.com/newleaf-app/quota"
	"github.com/newleaf-app/quota/plugin"
	"github.com/newleaf-app/quota/store"
)

// Option configures the quota Forge extension.
type Option func(*Extension)

// WithStore sets the store for the quota engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithEngineOption passes a quota.Option through to the underlying engine.
func WithEngineOption(opt quota.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers a quota plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, quota.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithCatalogPath sets a YAML file overriding the built-in plan catalog.
func WithCatalogPath(path string) Option {
	return func(e *Extension) { e.config.CatalogPath = path }
}

// WithTestMode forces every admission check to allow.
func WithTestMode() Option {
	return func(e *Extension) { e.config.TestMode = true }
}

// WithRenewalWindowDays sets the mid-cycle renewal window in days.
func WithRenewalWindowDays(days int) Option {
	return func(e *Extension) { e.config.RenewalWindowDays = days }
}

// WithDecisionCacheTTL sets the admission decision cache duration.
func WithDecisionCacheTTL(d time.Duration) Option {
	return func(e *Extension) { e.config.DecisionCacheTTL = d }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}
