// Package extension provides the Forge extension adapter for the quota
// engine.
//
// It implements the forge.Extension interface to integrate the engine
// into a Forge application with DI registration and lifecycle
// management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.quota" or "quota" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/newleaf-app/quota"
	"github.com/newleaf-app/quota/plan"
	"github.com/newleaf-app/quota/store"
	"github.com/newleaf-app/quota/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "quota"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Subscription-tier usage quota and admission control engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the quota engine as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *quota.Engine
	store      store.Store
	engineOpts []quota.Option
}

// New creates a new quota Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying quota engine.
// This is nil until Register is called.
func (e *Extension) Engine() *quota.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the quota engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	opts, err := e.buildEngineOpts()
	if err != nil {
		return err
	}

	e.engine = quota.New(e.store, opts...)

	return vessel.Provide(fapp.Container(), func() (*quota.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("quota: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("quota: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildEngineOpts constructs quota.Option values from the resolved config.
func (e *Extension) buildEngineOpts() ([]quota.Option, error) {
	opts := make([]quota.Option, 0, len(e.engineOpts)+4)

	if e.config.CatalogPath != "" {
		catalog, err := plan.LoadCatalogFile(e.config.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("quota: load catalog %s: %w", e.config.CatalogPath, err)
		}
		opts = append(opts, quota.WithCatalog(catalog))
	}

	if e.config.RenewalWindowDays > 0 {
		opts = append(opts, quota.WithRenewalWindow(time.Duration(e.config.RenewalWindowDays)*24*time.Hour))
	}

	if e.config.DecisionCacheTTL > 0 {
		opts = append(opts, quota.WithDecisionCacheTTL(e.config.DecisionCacheTTL))
	}

	if e.config.TestMode {
		opts = append(opts, quota.WithTestMode(true))
	}

	// Append any pass-through engine options.
	opts = append(opts, e.engineOpts...)

	return opts, nil
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("quota: configuration is required but not found in config files; " +
				"ensure 'extensions.quota' or 'quota' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("quota: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("catalog_path", e.config.CatalogPath),
		forge.F("test_mode", e.config.TestMode),
		forge.F("renewal_window_days", e.config.RenewalWindowDays),
		forge.F("decision_cache_ttl", e.config.DecisionCacheTTL),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.quota" first (namespaced pattern).
	if cm.IsSet("extensions.quota") {
		if err := cm.Bind("extensions.quota", &cfg); err == nil {
			e.Logger().Debug("quota: loaded config from file",
				forge.F("key", "extensions.quota"),
			)
			return cfg, true
		}
		e.Logger().Warn("quota: failed to bind extensions.quota config",
			forge.F("error", "bind failed"),
		)
	}

	// Try bare "quota" key.
	if cm.IsSet("quota") {
		if err := cm.Bind("quota", &cfg); err == nil {
			e.Logger().Debug("quota: loaded config from file",
				forge.F("key", "quota"),
			)
			return cfg, true
		}
		e.Logger().Warn("quota: failed to bind quota config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.RenewalWindowDays == 0 {
		cfg.RenewalWindowDays = defaults.RenewalWindowDays
	}
	if cfg.DecisionCacheTTL == 0 {
		cfg.DecisionCacheTTL = defaults.DecisionCacheTTL
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.TestMode {
		yamlConfig.TestMode = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.CatalogPath == "" && programmaticConfig.CatalogPath != "" {
		yamlConfig.CatalogPath = programmaticConfig.CatalogPath
	}

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.RenewalWindowDays == 0 && programmaticConfig.RenewalWindowDays != 0 {
		yamlConfig.RenewalWindowDays = programmaticConfig.RenewalWindowDays
	}
	if yamlConfig.DecisionCacheTTL == 0 && programmaticConfig.DecisionCacheTTL != 0 {
		yamlConfig.DecisionCacheTTL = programmaticConfig.DecisionCacheTTL
	}

	// Fill remaining zeros with defaults.
	return e.mergeWithDefaults(yamlConfig)
}
