package models

// Plan is the subscription tier a user is on. PlanFree is the sentinel for
// users with no paid entitlement.
type Plan string

const (
	PlanFree               Plan = "free"
	PlanEnhancedProtection Plan = "enhanced_protection"
	PlanTeam               Plan = "team"
)

// monthlyRateCents is the single source of truth for paid-plan pricing.
var monthlyRateCents = map[Plan]int64{
	PlanEnhancedProtection: 300,
	PlanTeam:               900,
}

var validPlans = map[Plan]bool{
	PlanFree:               true,
	PlanEnhancedProtection: true,
	PlanTeam:               true,
}

// IsValid checks the plan is one of the supported enum values.
func (p Plan) IsValid() bool { return validPlans[p] }

// IsPaid reports whether the plan carries a paid entitlement.
func (p Plan) IsPaid() bool { return p.IsValid() && p != PlanFree }

// MonthlyRate returns the plan's monthly rate in cents; zero for free or
// unknown plans.
func (p Plan) MonthlyRate() int64 { return monthlyRateCents[p] }

func (p Plan) String() string { return string(p) }
