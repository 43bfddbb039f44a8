// Package plan defines subscription tiers and the limits attached to them.
package plan

import "strings"

// Tier is a subscription tier name.
type Tier string

const (
	Starter Tier = "starter"
	Pro     Tier = "pro"
	Agency  Tier = "agency"
)

// Unlimited is the sentinel limit for tiers with no monthly cap.
const Unlimited = -1

// Feature flags granted by tiers.
const (
	FeatureBasicSEO           = "basic_seo"
	FeatureSchemaGenerator    = "schema_generator"
	FeatureEmailSupport       = "email_support"
	FeatureAdvancedKeywords   = "advanced_keywords"
	FeatureCompetitorAnalysis = "competitor_analysis"
	FeatureContentDecay       = "content_decay"
	FeaturePrioritySupport    = "priority_support"
	FeatureUnlimited          = "unlimited"
	FeatureWhiteLabel         = "white_label"
	FeatureTeamCollaboration  = "team_collaboration"
	FeatureCustomIntegrations = "custom_integrations"
	FeaturePhoneSupport       = "phone_support"
)

// Limits describes what a tier allows.
type Limits struct {
	AnalysesPerMonth int
	Features         []string
}

var tiers = map[Tier]Limits{
	Starter: {
		AnalysesPerMonth: 10,
		Features:         []string{FeatureBasicSEO, FeatureSchemaGenerator, FeatureEmailSupport},
	},
	Pro: {
		AnalysesPerMonth: 50,
		Features:         []string{FeatureAdvancedKeywords, FeatureCompetitorAnalysis, FeatureContentDecay, FeaturePrioritySupport},
	},
	Agency: {
		AnalysesPerMonth: Unlimited,
		Features:         []string{FeatureUnlimited, FeatureWhiteLabel, FeatureTeamCollaboration, FeatureCustomIntegrations, FeaturePhoneSupport},
	},
}

// Parse maps a stored tier name to a Tier. Missing or unrecognized names
// resolve to Starter.
func Parse(s string) Tier {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := tiers[t]; ok {
		return t
	}
	return Starter
}

// Valid reports whether t names a known tier.
func (t Tier) Valid() bool {
	_, ok := tiers[t]
	return ok
}

// Limits returns a copy of the tier's limits.
func (t Tier) Limits() Limits {
	l := tiers[Parse(string(t))]
	features := make([]string, len(l.Features))
	copy(features, l.Features)
	return Limits{AnalysesPerMonth: l.AnalysesPerMonth, Features: features}
}

// AnalysisLimit returns the monthly analysis cap, or Unlimited.
func (t Tier) AnalysisLimit() int {
	return tiers[Parse(string(t))].AnalysesPerMonth
}

// IsUnlimited reports whether the tier has no monthly cap.
func (t Tier) IsUnlimited() bool {
	return t.AnalysisLimit() == Unlimited
}

func (t Tier) HasFeature(feature string) bool {
	for _, f := range tiers[Parse(string(t))].Features {
		if f == feature {
			return true
		}
	}
	return false
}

func (t Tier) String() string {
	return string(t)
}

// All returns the tiers in ascending order.
func All() []Tier {
	return []Tier{Starter, Pro, Agency}
}
