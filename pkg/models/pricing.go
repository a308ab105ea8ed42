package models

import "github.com/shopspring/decimal"

// TierPricing is the per-tier economics of one verified appointment.
// Amounts are frozen onto the appointment at creation time and are never
// recomputed retroactively when the caller's tier changes.
type TierPricing struct {
	BusinessCharge decimal.Decimal
	CallerPayout   decimal.Decimal
	PlatformFee    decimal.Decimal
}

var tierPricing = map[Tier]TierPricing{
	TierBasic: {
		BusinessCharge: decimal.NewFromInt(75),
		CallerPayout:   decimal.NewFromInt(50),
		PlatformFee:    decimal.NewFromInt(25),
	},
	TierAdvanced: {
		BusinessCharge: decimal.NewFromInt(100),
		CallerPayout:   decimal.NewFromInt(75),
		PlatformFee:    decimal.NewFromInt(25),
	},
	TierElite: {
		BusinessCharge: decimal.NewFromInt(125),
		CallerPayout:   decimal.NewFromInt(100),
		PlatformFee:    decimal.NewFromInt(25),
	},
}

// PricingForTier returns the pricing for a tier, falling back to BASIC for
// unknown values.
func PricingForTier(t Tier) TierPricing {
	if p, ok := tierPricing[t]; ok {
		return p
	}
	return tierPricing[TierBasic]
}

// TierRequirements are the minimum stats a caller must hold to sit at a
// tier. MaxDisputeRate is an upper bound; the rest are lower bounds.
type TierRequirements struct {
	Tier           Tier
	MinLeadsWorked int
	MinConversion  float64
	MinAvgRating   float64
	MaxDisputeRate float64
}

// TierLadder is evaluated top-down: the highest tier whose every
// requirement is met wins, so a caller who regresses is demoted rather
// than merely blocked from promotion.
var TierLadder = []TierRequirements{
	{Tier: TierElite, MinLeadsWorked: 100, MinConversion: 0.20, MinAvgRating: 4.5, MaxDisputeRate: 0.05},
	{Tier: TierAdvanced, MinLeadsWorked: 25, MinConversion: 0.10, MinAvgRating: 4.0, MaxDisputeRate: 0.10},
	{Tier: TierBasic},
}

// Meets reports whether the given stats satisfy every requirement.
func (r TierRequirements) Meets(leadsWorked int, conversion, avgRating, disputeRate float64) bool {
	if r.Tier == TierBasic {
		return true
	}
	return leadsWorked >= r.MinLeadsWorked &&
		conversion >= r.MinConversion &&
		avgRating >= r.MinAvgRating &&
		disputeRate <= r.MaxDisputeRate
}
