package quota_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/newleaf-app/quota"
	"github.com/newleaf-app/quota/plan"
	"github.com/newleaf-app/quota/store/memory"
	"github.com/newleaf-app/quota/subscription"
)

// TestDocumentationExamples verifies that all examples in the documentation compile
func TestDocumentationExamples(t *testing.T) {
	// Test Quick Start example from the package docs
	t.Run("QuickStartExample", func(t *testing.T) {
		// Create store (memory for demo, use PostgreSQL in production)
		st := memory.New()

		// Initialize the engine
		eng := quota.New(st,
			quota.WithLogger(slog.Default()),
			quota.WithDecisionCacheTTL(30*time.Second),
		)

		// Start the engine
		ctx := context.Background()
		if err := eng.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer eng.Stop()

		userID := "user_demo"

		// Gate a feature behind an admission check
		d, err := eng.Check(ctx, userID, quota.FeatureInteraction)
		if err != nil {
			t.Fatal(err)
		}
		if !d.Allowed {
			t.Fatalf("expected free-tier interaction to be allowed: %s", d.Reason)
		}

		// Record the usage after the gated action succeeds
		if _, err := eng.Record(ctx, userID, quota.FeatureInteraction, 0); err != nil {
			t.Fatal(err)
		}
	})

	// Test the payment upgrade flow
	t.Run("PaymentFlowExample", func(t *testing.T) {
		eng := quota.New(memory.New())
		ctx := context.Background()
		if err := eng.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer eng.Stop()

		// A successful payment moves the user onto a paid tier with a
		// fresh billing period
		res, err := eng.PaymentSuccess(ctx, "user_demo", plan.TierBasic, &subscription.PaymentMeta{
			Provider:  "stripe",
			Reference: "pi_3OqXYZ",
			Amount:    quota.USD(990), // $9.90
		})
		if err != nil {
			t.Fatal(err)
		}
		if res.Subscription.Tier != plan.TierBasic {
			t.Fatalf("tier = %s, want basic", res.Subscription.Tier)
		}

		// Paid tiers unlock token-metered features
		d, err := eng.Check(ctx, "user_demo", quota.FeatureAIChat)
		if err != nil {
			t.Fatal(err)
		}
		if !d.Allowed {
			t.Fatalf("expected basic tier to allow aiChat: %s", d.Reason)
		}
	})

	// Test the status snapshot example
	t.Run("StatusExample", func(t *testing.T) {
		eng := quota.New(memory.New())
		ctx := context.Background()
		if err := eng.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer eng.Stop()

		st, err := eng.Status(ctx, "user_demo")
		if err != nil {
			t.Fatal(err)
		}
		if st.Plan.Tier != plan.TierFree {
			t.Fatalf("plan tier = %s, want free", st.Plan.Tier)
		}
		if st.Limits[plan.DimensionFreeFeatures] != plan.Unlimited {
			t.Fatal("free features should be unlimited on every tier")
		}
	})
}
