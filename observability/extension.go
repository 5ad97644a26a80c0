// Package observability provides a metrics plugin for the quota engine
// that records decision and lifecycle event counts via a MetricFactory.
package observability

import (
	"context"

	"github.com/newleaf-app/quota/entitlement"
	"github.com/newleaf-app/quota/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                    = (*MetricsExtension)(nil)
	_ plugin.OnInit                    = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionProvisioned = (*MetricsExtension)(nil)
	_ plugin.OnTierChanged             = (*MetricsExtension)(nil)
	_ plugin.OnPaymentSucceeded        = (*MetricsExtension)(nil)
	_ plugin.OnDecision                = (*MetricsExtension)(nil)
	_ plugin.OnQuotaExceeded           = (*MetricsExtension)(nil)
	_ plugin.OnRenewalOffered          = (*MetricsExtension)(nil)
	_ plugin.OnUsageRecorded           = (*MetricsExtension)(nil)
	_ plugin.OnUsageReset              = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide admission and lifecycle metrics.
// Register it as an engine plugin to track quota activity automatically.
type MetricsExtension struct {
	factory MetricFactory

	// Subscription metrics
	SubscriptionProvisioned Counter
	TierChanged             Counter
	PaymentSucceeded        Counter

	// Admission metrics
	ChecksAllowed  Counter
	ChecksDenied   Counter
	QuotaExceeded  Counter
	RenewalOffered Counter

	// Usage metrics
	UsageRecorded Counter
	UsageReset    Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		SubscriptionProvisioned: factory.Counter("quota.subscription.provisioned"),
		TierChanged:             factory.Counter("quota.subscription.tier_changed"),
		PaymentSucceeded:        factory.Counter("quota.subscription.payment_succeeded"),

		ChecksAllowed:  factory.Counter("quota.check.allowed"),
		ChecksDenied:   factory.Counter("quota.check.denied"),
		QuotaExceeded:  factory.Counter("quota.check.quota_exceeded"),
		RenewalOffered: factory.Counter("quota.check.renewal_offered"),

		UsageRecorded: factory.Counter("quota.usage.recorded"),
		UsageReset:    factory.Counter("quota.usage.reset"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// OnSubscriptionProvisioned implements plugin.OnSubscriptionProvisioned.
func (m *MetricsExtension) OnSubscriptionProvisioned(_ context.Context, _ interface{}) error {
	m.SubscriptionProvisioned.Inc()
	return nil
}

// OnTierChanged implements plugin.OnTierChanged.
func (m *MetricsExtension) OnTierChanged(_ context.Context, _ interface{}, _, _ string) error {
	m.TierChanged.Inc()
	return nil
}

// OnPaymentSucceeded implements plugin.OnPaymentSucceeded.
func (m *MetricsExtension) OnPaymentSucceeded(_ context.Context, _ interface{}) error {
	m.PaymentSucceeded.Inc()
	return nil
}

// OnDecision implements plugin.OnDecision.
func (m *MetricsExtension) OnDecision(_ context.Context, decision interface{}) error {
	d, ok := decision.(*entitlement.Decision)
	if !ok {
		return nil
	}
	if d.Allowed {
		m.ChecksAllowed.Inc()
	} else {
		m.ChecksDenied.Inc()
	}
	return nil
}

// OnQuotaExceeded implements plugin.OnQuotaExceeded.
func (m *MetricsExtension) OnQuotaExceeded(_ context.Context, _, _ string, _, _ int64) error {
	m.QuotaExceeded.Inc()
	return nil
}

// OnRenewalOffered implements plugin.OnRenewalOffered.
func (m *MetricsExtension) OnRenewalOffered(_ context.Context, _ string, _ int) error {
	m.RenewalOffered.Inc()
	return nil
}

// OnUsageRecorded implements plugin.OnUsageRecorded.
func (m *MetricsExtension) OnUsageRecorded(_ context.Context, _, _ string, _ interface{}) error {
	m.UsageRecorded.Inc()
	return nil
}

// OnUsageReset implements plugin.OnUsageReset.
func (m *MetricsExtension) OnUsageReset(_ context.Context, _, _ string) error {
	m.UsageReset.Inc()
	return nil
}
