package extension

import "time"

// Config holds the quota extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.quota" or "quota" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// CatalogPath is an optional YAML file overriding the built-in plan
	// catalog.
	CatalogPath string `json:"catalog_path" mapstructure:"catalog_path" yaml:"catalog_path"`

	// TestMode forces every admission check to allow. Never enable in
	// production.
	TestMode bool `json:"test_mode" mapstructure:"test_mode" yaml:"test_mode"`

	// RenewalWindowDays is the mid-cycle renewal window measured from the
	// subscription's billing anchor (default: 30).
	RenewalWindowDays int `json:"renewal_window_days" mapstructure:"renewal_window_days" yaml:"renewal_window_days"`

	// DecisionCacheTTL controls how long admission decisions are cached
	// before re-evaluating against the store (default: 30s).
	DecisionCacheTTL time.Duration `json:"decision_cache_ttl" mapstructure:"decision_cache_ttl" yaml:"decision_cache_ttl"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RenewalWindowDays: 30,
		DecisionCacheTTL:  30 * time.Second,
	}
}
