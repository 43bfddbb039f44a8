package model

import (
	"time"

	"github.com/dukerupert/reciperank/internal/plan"
)

type Account struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	SubscriptionTier plan.Tier `json:"subscription_tier"`
	StripeCustomerID *string   `json:"stripe_customer_id,omitempty"`
	OrganizationID   *string   `json:"organization_id,omitempty"`
	WhiteLabel
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tier resolves the stored tier, treating unknown values as starter.
func (a *Account) Tier() plan.Tier {
	return plan.Parse(string(a.SubscriptionTier))
}

// WhiteLabel holds agency branding settings.
type WhiteLabel struct {
	CompanyName  *string `json:"company_name"`
	CompanyLogo  *string `json:"company_logo"`
	PrimaryColor *string `json:"primary_color"`
	CustomDomain *string `json:"custom_domain"`
}
