// Package renewal decides whether a token-exhausted user may buy a
// mid-cycle top-up instead of waiting for the calendar-month reset.
//
// The renewal clock runs from the subscription's billing anchor
// (StartDate) and is intentionally independent of the calendar-month
// usage cycle: a user who burns the whole token budget early in the
// billing period gets a top-up offer for the rest of the window.
package renewal

import (
	"time"

	"github.com/newleaf-app/quota/subscription"
)

// DefaultWindow is the renewal window measured from the billing anchor.
const DefaultWindow = 30 * 24 * time.Hour

// Assessment is the outcome of a renewal evaluation.
type Assessment struct {
	CanRenew      bool `json:"can_renew"`
	RemainingDays int  `json:"remaining_days"`
}

// Evaluator computes renewal assessments.
type Evaluator struct {
	// Window is the interval after the billing anchor during which a
	// top-up may be offered. Zero means DefaultWindow.
	Window time.Duration
}

// NewEvaluator returns an evaluator with the default 30-day window.
func NewEvaluator() *Evaluator {
	return &Evaluator{Window: DefaultWindow}
}

// Evaluate reports whether sub may renew at now. Renewal is offered only
// while the elapsed time since the billing anchor is inside the window.
// RemainingDays is window days minus whole elapsed days, so a user ten
// days and a few hours into a 30-day window still has 20 days left.
func (e *Evaluator) Evaluate(sub *subscription.Subscription, now time.Time) Assessment {
	window := e.Window
	if window <= 0 {
		window = DefaultWindow
	}

	elapsed := now.Sub(sub.StartDate)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed >= window {
		return Assessment{}
	}

	return Assessment{
		CanRenew:      true,
		RemainingDays: int(window.Hours()/24) - sub.DaysSinceStart(now),
	}
}
