package billing

import (
	"sort"
	"strings"

	"github.com/lumenshot/lumenshot/app/models"
)

// Plan is one immutable catalog entry. Catalog contents only change via
// deployment, never at runtime.
type Plan struct {
	ID           string  `json:"id"`
	Tier         string  `json:"tier"`
	Level        int     `json:"level"`
	BillingCycle string  `json:"billing_cycle"`
	Price        float64 `json:"price"`
	Credits      int     `json:"credits"`
	Quota        int     `json:"quota"`
	DisplayName  string  `json:"display_name"`
}

const (
	TierBasic      = "Basic"
	TierPro        = "Pro"
	TierBusiness   = "Business"
	TierEnterprise = "Enterprise"
)

var planCatalog = map[string]Plan{
	"basic_monthly":      {ID: "basic_monthly", Tier: TierBasic, Level: 1, BillingCycle: models.BillingCycleMonthly, Price: 19, Credits: 50, Quota: 1, DisplayName: "Basic Monthly"},
	"pro_monthly":        {ID: "pro_monthly", Tier: TierPro, Level: 2, BillingCycle: models.BillingCycleMonthly, Price: 49, Credits: 1000, Quota: 3, DisplayName: "Pro Monthly"},
	"business_monthly":   {ID: "business_monthly", Tier: TierBusiness, Level: 3, BillingCycle: models.BillingCycleMonthly, Price: 99, Credits: 3000, Quota: 10, DisplayName: "Business Monthly"},
	"enterprise_monthly": {ID: "enterprise_monthly", Tier: TierEnterprise, Level: 4, BillingCycle: models.BillingCycleMonthly, Price: 199, Credits: 10000, Quota: 50, DisplayName: "Enterprise Monthly"},
	"basic_yearly":       {ID: "basic_yearly", Tier: TierBasic, Level: 1, BillingCycle: models.BillingCycleYearly, Price: 99, Credits: 50, Quota: 1, DisplayName: "Basic Yearly"},
	"pro_yearly":         {ID: "pro_yearly", Tier: TierPro, Level: 2, BillingCycle: models.BillingCycleYearly, Price: 349, Credits: 1000, Quota: 3, DisplayName: "Pro Yearly"},
	"business_yearly":    {ID: "business_yearly", Tier: TierBusiness, Level: 3, BillingCycle: models.BillingCycleYearly, Price: 599, Credits: 3000, Quota: 10, DisplayName: "Business Yearly"},
	"enterprise_yearly":  {ID: "enterprise_yearly", Tier: TierEnterprise, Level: 4, BillingCycle: models.BillingCycleYearly, Price: 1199, Credits: 10000, Quota: 50, DisplayName: "Enterprise Yearly"},
}

// GetPlan resolves a plan id to its catalog entry.
func GetPlan(planID string) (Plan, bool) {
	p, ok := planCatalog[strings.ToLower(strings.TrimSpace(planID))]
	return p, ok
}

// AllPlans returns the catalog sorted by level, then billing cycle.
func AllPlans() []Plan {
	plans := make([]Plan, 0, len(planCatalog))
	for _, p := range planCatalog {
		plans = append(plans, p)
	}
	sort.Slice(plans, func(i, j int) bool {
		if plans[i].Level != plans[j].Level {
			return plans[i].Level < plans[j].Level
		}
		return plans[i].BillingCycle < plans[j].BillingCycle
	})
	return plans
}

// LevelForTier maps a tier name to its privilege level, 0 for unknown tiers.
func LevelForTier(tier string) int {
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case strings.ToLower(TierBasic):
		return 1
	case strings.ToLower(TierPro):
		return 2
	case strings.ToLower(TierBusiness):
		return 3
	case strings.ToLower(TierEnterprise):
		return 4
	default:
		return 0
	}
}
