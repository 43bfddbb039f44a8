package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/dukerupert/reciperank/internal/analysis"
	"github.com/dukerupert/reciperank/internal/billing"
	"github.com/dukerupert/reciperank/internal/model"
	"github.com/dukerupert/reciperank/internal/plan"
	"github.com/dukerupert/reciperank/internal/store"
)

const maxWebhookBytes = 65536

// StripeEvents verifies incoming events and looks up subscriptions.
type StripeEvents interface {
	ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error)
	GetSubscription(id string) (*stripe.Subscription, error)
}

type StripeWebhookHandler struct {
	stripe        StripeEvents
	accounts      *store.AccountStore
	subscriptions *store.SubscriptionStore
	publisher     analysis.Publisher
	env           Env
}

// NewStripeWebhookHandler builds the webhook receiver. publisher may be nil.
func NewStripeWebhookHandler(se StripeEvents, as *store.AccountStore, ss *store.SubscriptionStore, pub analysis.Publisher, env Env) *StripeWebhookHandler {
	return &StripeWebhookHandler{
		stripe:        se,
		accounts:      as,
		subscriptions: ss,
		publisher:     pub,
		env:           env,
	}
}

// Handle serves POST /webhooks/stripe. Unsigned or mis-signed payloads are
// rejected before anything is parsed.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body")
		return
	}

	event, err := h.stripe.ConstructWebhookEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.env.Logger.Warn("stripe webhook signature rejected", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid signature")
		return
	}

	ctx := r.Context()
	switch event.Type {
	case "checkout.session.completed":
		err = h.checkoutCompleted(ctx, event)
	case "customer.subscription.updated":
		err = h.subscriptionUpdated(ctx, event)
	case "customer.subscription.deleted":
		err = h.subscriptionDeleted(ctx, event)
	case "invoice.paid":
		err = h.invoiceStatus(ctx, event, model.SubscriptionActive)
	case "invoice.payment_failed":
		err = h.invoiceStatus(ctx, event, model.SubscriptionPastDue)
	default:
		h.env.Logger.Debug("ignoring stripe event", "type", event.Type)
	}
	if err != nil {
		// A 500 makes Stripe redeliver the event.
		h.env.serverError(w, r, "Failed to process event", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *StripeWebhookHandler) checkoutCompleted(ctx context.Context, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("unmarshal checkout session: %w", err)
	}
	if sess.Subscription == nil || sess.Subscription.ID == "" {
		return nil
	}

	acct, err := h.resolveAccount(ctx, sess.Metadata[billing.MetadataAccountID], sess.Customer)
	if err != nil || acct == nil {
		return err
	}
	tier := plan.Parse(sess.Metadata[billing.MetadataPlan])

	sub := &model.Subscription{
		AccountID:            acct.ID,
		StripeSubscriptionID: sess.Subscription.ID,
		Plan:                 string(tier),
		Status:               model.SubscriptionActive,
	}
	if full, err := h.stripe.GetSubscription(sess.Subscription.ID); err == nil {
		sub.Status = string(full.Status)
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd = billing.SubscriptionPeriod(full)
		sub.CancelAtPeriodEnd = full.CancelAtPeriodEnd
	} else {
		h.env.Logger.Warn("failed to fetch subscription", "subscription_id", sess.Subscription.ID, "error", err)
	}

	if _, err := h.subscriptions.Upsert(ctx, sub); err != nil {
		return err
	}
	if err := h.accounts.UpdateTier(ctx, acct.ID, tier); err != nil {
		return err
	}
	h.env.Logger.Info("checkout completed", "account_id", acct.ID, "tier", tier)

	if h.publisher != nil {
		h.publisher.Publish(ctx, acct.ID, model.EventUserSubscribed, map[string]string{
			"plan":            string(tier),
			"subscription_id": sub.StripeSubscriptionID,
		})
	}
	return nil
}

// resolveAccount finds the account by metadata ID, falling back to the
// Stripe customer. Unknown accounts are logged and skipped.
func (h *StripeWebhookHandler) resolveAccount(ctx context.Context, accountID string, cust *stripe.Customer) (*model.Account, error) {
	if accountID != "" {
		acct, err := h.accounts.GetByID(ctx, accountID)
		if err != nil || acct != nil {
			return acct, err
		}
	}
	if cust != nil && cust.ID != "" {
		acct, err := h.accounts.GetByStripeCustomerID(ctx, cust.ID)
		if err != nil || acct != nil {
			return acct, err
		}
	}
	h.env.Logger.Warn("stripe event for unknown account", "account_id", accountID)
	return nil, nil
}

func (h *StripeWebhookHandler) subscriptionUpdated(ctx context.Context, event stripe.Event) error {
	var ss stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &ss); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}

	existing, err := h.subscriptions.GetByStripeID(ctx, ss.ID)
	if err != nil {
		return err
	}
	var accountID, planName string
	if existing != nil {
		accountID, planName = existing.AccountID, existing.Plan
	}
	acct, err := h.resolveAccount(ctx, firstNonEmpty(accountID, ss.Metadata[billing.MetadataAccountID]), ss.Customer)
	if err != nil || acct == nil {
		return err
	}
	if p := ss.Metadata[billing.MetadataPlan]; p != "" {
		planName = p
	}
	tier := plan.Parse(planName)

	sub := &model.Subscription{
		AccountID:            acct.ID,
		StripeSubscriptionID: ss.ID,
		Plan:                 string(tier),
		Status:               string(ss.Status),
		CancelAtPeriodEnd:    ss.CancelAtPeriodEnd,
	}
	sub.CurrentPeriodStart, sub.CurrentPeriodEnd = billing.SubscriptionPeriod(&ss)
	saved, err := h.subscriptions.Upsert(ctx, sub)
	if err != nil {
		return err
	}
	if saved.IsActive() {
		return h.accounts.UpdateTier(ctx, acct.ID, tier)
	}
	return nil
}

func (h *StripeWebhookHandler) subscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var ss stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &ss); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}
	existing, err := h.subscriptions.GetByStripeID(ctx, ss.ID)
	if err != nil || existing == nil {
		return err
	}
	if err := h.subscriptions.UpdateStatus(ctx, ss.ID, model.SubscriptionCanceled); err != nil {
		return err
	}
	h.env.Logger.Info("subscription canceled", "account_id", existing.AccountID)
	return h.accounts.UpdateTier(ctx, existing.AccountID, plan.Starter)
}

func (h *StripeWebhookHandler) invoiceStatus(ctx context.Context, event stripe.Event, status string) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("unmarshal invoice: %w", err)
	}
	subID := billing.InvoiceSubscriptionID(&inv)
	if subID == "" {
		return nil
	}
	return h.subscriptions.UpdateStatus(ctx, subID, status)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
