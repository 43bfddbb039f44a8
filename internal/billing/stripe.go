// Package billing wraps the Stripe API calls used for subscriptions.
package billing

import (
	"errors"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checksession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dukerupert/reciperank/internal/plan"
)

// Metadata keys attached to checkout sessions and subscriptions.
const (
	MetadataAccountID = "account_id"
	MetadataPlan      = "plan"
)

const defaultTrialDays = 14

// ErrUnknownPlan is returned when a tier has no configured price.
var ErrUnknownPlan = errors.New("no price configured for plan")

type Config struct {
	SecretKey     string
	WebhookSecret string
	Prices        map[plan.Tier]string
	SuccessURL    string
	CancelURL     string
	TrialDays     int64
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	stripe.Key = cfg.SecretKey
	if cfg.TrialDays == 0 {
		cfg.TrialDays = defaultTrialDays
	}
	return &Client{cfg: cfg}
}

// CreateCustomer creates a Stripe customer tagged with the account ID and
// returns the customer ID.
func (c *Client) CreateCustomer(email, name, accountID string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	if name != "" {
		params.Name = stripe.String(name)
	}
	params.AddMetadata(MetadataAccountID, accountID)

	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return cust.ID, nil
}

// CreateCheckoutSession starts a subscription checkout with a trial and
// returns the hosted checkout URL.
func (c *Client) CreateCheckoutSession(customerID, accountID string, tier plan.Tier) (string, error) {
	priceID := c.PriceIDForTier(tier)
	if priceID == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownPlan, tier)
	}

	metadata := map[string]string{
		MetadataAccountID: accountID,
		MetadataPlan:      string(tier),
	}
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(customerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			TrialPeriodDays: stripe.Int64(c.cfg.TrialDays),
			Metadata:        metadata,
		},
		AllowPromotionCodes: stripe.Bool(true),
		SuccessURL:          stripe.String(c.cfg.SuccessURL),
		CancelURL:           stripe.String(c.cfg.CancelURL),
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	sess, err := checksession.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// CheckoutStatus is the subset of a checkout session shown after redirect.
type CheckoutStatus struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	PaymentStatus  string `json:"payment_status"`
	CustomerEmail  string `json:"customer_email,omitempty"`
	AmountTotal    int64  `json:"amount_total"`
	Currency       string `json:"currency"`
	Plan           string `json:"plan,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	AccountID      string `json:"-"`
}

func (c *Client) GetCheckoutSession(id string) (*CheckoutStatus, error) {
	sess, err := checksession.Get(id, nil)
	if err != nil {
		return nil, fmt.Errorf("get checkout session: %w", err)
	}

	st := &CheckoutStatus{
		ID:            sess.ID,
		Status:        string(sess.Status),
		PaymentStatus: string(sess.PaymentStatus),
		AmountTotal:   sess.AmountTotal,
		Currency:      string(sess.Currency),
		Plan:          sess.Metadata[MetadataPlan],
		AccountID:     sess.Metadata[MetadataAccountID],
	}
	if sess.CustomerDetails != nil {
		st.CustomerEmail = sess.CustomerDetails.Email
	}
	if sess.Subscription != nil {
		st.SubscriptionID = sess.Subscription.ID
	}
	return st, nil
}

// CreateBillingPortalSession creates a Stripe billing portal session and returns the URL.
func (c *Client) CreateBillingPortalSession(customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	sess, err := portalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return sess.URL, nil
}

func (c *Client) GetSubscription(id string) (*stripe.Subscription, error) {
	sub, err := subscription.Get(id, nil)
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

// PriceIDForTier returns the configured Stripe price for tier, or "".
func (c *Client) PriceIDForTier(tier plan.Tier) string {
	return c.cfg.Prices[tier]
}

// ConstructWebhookEvent verifies the signature and returns the parsed event.
func (c *Client) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, sigHeader, c.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

// SubscriptionPeriod returns the current billing period of sub, read from
// its first item.
func SubscriptionPeriod(sub *stripe.Subscription) (start, end *time.Time) {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil, nil
	}
	item := sub.Items.Data[0]
	if item.CurrentPeriodStart > 0 {
		t := time.Unix(item.CurrentPeriodStart, 0).UTC()
		start = &t
	}
	if item.CurrentPeriodEnd > 0 {
		t := time.Unix(item.CurrentPeriodEnd, 0).UTC()
		end = &t
	}
	return start, end
}

// InvoiceSubscriptionID extracts the subscription ID from an invoice's parent.
func InvoiceSubscriptionID(invoice *stripe.Invoice) string {
	if invoice.Parent != nil &&
		invoice.Parent.SubscriptionDetails != nil &&
		invoice.Parent.SubscriptionDetails.Subscription != nil {
		return invoice.Parent.SubscriptionDetails.Subscription.ID
	}
	return ""
}
