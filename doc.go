// Package quota provides a subscription-tier usage quota and admission
// control engine for Go applications.
//
// quota is designed as a library, not a service. Import it directly into
// your application and put a Check call in front of every gated feature.
// It provides:
//
//   - Single-call admission decisions combining tier, limits and usage
//   - Per-user monthly usage ledger with atomic counter increments
//   - A declarative plan catalog with per-dimension limits
//   - Mid-cycle token renewal offers inside a configurable window
//   - Pluggable event hooks for metrics and audit trails
//
// # Quick Start
//
// Create an engine with your preferred store:
//
//	import (
//	    "github.com/newleaf-app/quota"
//	    "github.com/newleaf-app/quota/store/memory"
//	)
//
//	eng := quota.New(memory.New())
//	if err := eng.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Stop()
//
// # Core Concepts
//
// The plan catalog maps each tier to per-dimension limits. A limit of -1
// means unlimited, 0 means the dimension is not available on that tier.
//
// Admission checks return a Decision value; denial is never an error:
//
//	d, err := eng.Check(ctx, userID, quota.FeatureAIChat)
//	if err != nil {
//	    return err
//	}
//	if !d.Allowed {
//	    // Surface d.Reason, d.RequiredTier or d.CanRenew to the user.
//	    return nil
//	}
//
//	// Run the gated action, then record its usage.
//	eng.Record(ctx, userID, quota.FeatureAIChat, tokenCost)
//
// Usage is accounted per calendar month (UTC). Rollover needs no
// scheduled job: a new month's counters simply read as zero.
//
// # Semantics
//
// Check is read-only and Record is write-through: a check that allows
// does not reserve quota, and concurrent requests may each pass a check
// before either records. The quota is a soft cap biased toward
// under-counting; it is a feature gate, not a financial ledger.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	sub_01h2xcejqtf2nbrexx3vqjhp41   // Subscription ID
//	urec_01h455vb4pex5vsknk084sn02q  // Usage record ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of entities.
package quota
