// Package domain contains core business types and interfaces.
//
// This file defines the plan catalog: the fixed set of subscription tiers
// a user can hold, together with their job-post limits and pricing.
package domain

import (
	"time"
)

// Unlimited indicates no job-post limit for a tier (-1 chosen for SQL compatibility).
const Unlimited int64 = -1

// PlanDuration is the length of every paid plan period and of the
// per-user sliding usage window. The window is anchored to the moment a
// user's count was last reset or the plan last changed, not to a
// calendar month.
const PlanDuration = 30 * 24 * time.Hour

// DefaultPlanName is the tier assigned to every new user.
const DefaultPlanName = "Normal"

// Money represents a monetary amount in the smallest currency unit.
// For example, $49.00 USD is Amount: 4900, Currency: "USD".
type Money struct {
	Amount   int64
	Currency string
}

// PlanTier describes a subscription tier and its entitlements.
//
// The catalog is total: every plan name ever stored on a user resolves to
// exactly one tier. Changing the catalog is a deployment-time operation.
type PlanTier struct {
	Name         string
	JobPostLimit int64 // Unlimited (-1) means no cap
	Price        Money
	Duration     time.Duration // zero means the plan never expires
	Features     []string
}

// IsUnlimited reports whether the tier has no job-post cap.
func (t PlanTier) IsUnlimited() bool {
	return t.JobPostLimit == Unlimited
}

// Expires reports whether the tier has a finite plan period.
func (t PlanTier) Expires() bool {
	return t.Duration > 0
}

// planCatalog is the fixed set of tiers. Order matters for listings.
var planCatalog = []PlanTier{
	{
		Name:         "Normal",
		JobPostLimit: 3,
		Price:        Money{Amount: 0, Currency: "USD"},
		Duration:     0, // free tier never expires
		Features: []string{
			"3 job posts per 30 days",
			"Standard listing placement",
		},
	},
	{
		Name:         "Standard",
		JobPostLimit: 10,
		Price:        Money{Amount: 4900, Currency: "USD"},
		Duration:     PlanDuration,
		Features: []string{
			"10 job posts per 30 days",
			"Highlighted listings",
			"Applicant filtering",
		},
	},
	{
		Name:         "Premium",
		JobPostLimit: Unlimited,
		Price:        Money{Amount: 9900, Currency: "USD"},
		Duration:     PlanDuration,
		Features: []string{
			"Unlimited job posts",
			"Featured listings",
			"Applicant filtering",
			"Priority support",
		},
	},
}

// TierOf resolves a plan name to its tier.
// Returns an EINVALID UnknownPlan error for names outside the catalog.
func TierOf(planName string) (PlanTier, error) {
	for _, t := range planCatalog {
		if t.Name == planName {
			return t, nil
		}
	}
	return PlanTier{}, UnknownPlan("plan.tier_of", planName)
}

// PlanTiers returns the catalog in listing order.
func PlanTiers() []PlanTier {
	out := make([]PlanTier, len(planCatalog))
	copy(out, planCatalog)
	return out
}
