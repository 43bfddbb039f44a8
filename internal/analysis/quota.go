package analysis

import (
	"encoding/json"

	"github.com/dukerupert/reciperank/internal/plan"
)

// Quota describes an account's standing in the current monthly window.
// Limit and Remaining are plan.Unlimited for uncapped tiers and render as
// "unlimited" in JSON.
type Quota struct {
	Tier      plan.Tier
	Usage     int
	Limit     int
	Remaining int
}

func newQuota(tier plan.Tier, usage int) Quota {
	limit := tier.AnalysisLimit()
	q := Quota{Tier: tier, Usage: usage, Limit: limit, Remaining: plan.Unlimited}
	if limit != plan.Unlimited {
		q.Remaining = max(limit-usage, 0)
	}
	return q
}

func (q Quota) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Tier      plan.Tier `json:"tier"`
		Usage     int       `json:"usage"`
		Limit     any       `json:"limit"`
		Remaining any       `json:"remaining"`
	}{
		Tier:      q.Tier,
		Usage:     q.Usage,
		Limit:     unlimitedOr(q.Limit),
		Remaining: unlimitedOr(q.Remaining),
	})
}

func unlimitedOr(n int) any {
	if n == plan.Unlimited {
		return "unlimited"
	}
	return n
}
