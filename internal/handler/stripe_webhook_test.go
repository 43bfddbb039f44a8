package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dukerupert/reciperank/internal/billing"
	"github.com/dukerupert/reciperank/internal/model"
	"github.com/dukerupert/reciperank/internal/plan"
)

const testWebhookSecret = "whsec_handler_test"

// stubStripe verifies signatures with the real client and serves canned
// subscriptions.
type stubStripe struct {
	*billing.Client
	subs map[string]*stripe.Subscription
}

func (s *stubStripe) GetSubscription(id string) (*stripe.Subscription, error) {
	if sub, ok := s.subs[id]; ok {
		return sub, nil
	}
	return nil, errors.New("no such subscription")
}

type recordingPublisher struct {
	events []string
}

func (p *recordingPublisher) Publish(_ context.Context, accountID, event string, _ any) {
	p.events = append(p.events, accountID+":"+event)
}

func signedEvent(t *testing.T, secret, eventType string, object any) (*http.Request, string) {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatal(err)
	}
	payload := []byte(fmt.Sprintf(`{"id":"evt_test","object":"event","type":%q,"api_version":"2020-08-27","data":{"object":%s}}`, eventType, raw))
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req, signed.Header
}

func newWebhookFixture(t *testing.T) (*testStores, *StripeWebhookHandler, *stubStripe, *recordingPublisher) {
	t.Helper()
	s := setupStores(t)
	stub := &stubStripe{
		Client: billing.NewClient(billing.Config{WebhookSecret: testWebhookSecret}),
		subs:   map[string]*stripe.Subscription{},
	}
	pub := &recordingPublisher{}
	return s, NewStripeWebhookHandler(stub, s.accounts, s.subscriptions, pub, testEnv()), stub, pub
}

func post(h *StripeWebhookHandler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	s, h, _, _ := newWebhookFixture(t)
	acct := s.account(t, "baker@example.com", plan.Starter)

	req, _ := signedEvent(t, "whsec_wrong", "checkout.session.completed", map[string]any{
		"id":           "cs_1",
		"object":       "checkout.session",
		"subscription": "sub_1",
		"metadata":     map[string]string{"account_id": acct.ID, "plan": "agency"},
	})
	if rec := post(h, req); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	saved, _ := s.accounts.GetByID(context.Background(), acct.ID)
	if saved.SubscriptionTier != plan.Starter {
		t.Error("tier changed by unsigned event")
	}
}

func TestStripeCheckoutCompleted(t *testing.T) {
	s, h, stub, pub := newWebhookFixture(t)
	acct := s.account(t, "baker@example.com", plan.Starter)
	stub.subs["sub_1"] = &stripe.Subscription{
		ID:     "sub_1",
		Status: stripe.SubscriptionStatusTrialing,
		Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{{
			CurrentPeriodStart: time.Now().Unix(),
			CurrentPeriodEnd:   time.Now().Add(14 * 24 * time.Hour).Unix(),
		}}},
	}

	req, _ := signedEvent(t, testWebhookSecret, "checkout.session.completed", map[string]any{
		"id":           "cs_1",
		"object":       "checkout.session",
		"subscription": "sub_1",
		"customer":     "cus_1",
		"metadata":     map[string]string{"account_id": acct.ID, "plan": "agency"},
	})
	if rec := post(h, req); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	ctx := context.Background()
	saved, _ := s.accounts.GetByID(ctx, acct.ID)
	if saved.SubscriptionTier != plan.Agency {
		t.Errorf("tier = %q, want agency", saved.SubscriptionTier)
	}
	sub, _ := s.subscriptions.GetByStripeID(ctx, "sub_1")
	if sub == nil || sub.Status != model.SubscriptionTrialing || sub.CurrentPeriodEnd == nil {
		t.Errorf("subscription = %+v", sub)
	}
	if len(pub.events) != 1 || pub.events[0] != acct.ID+":"+model.EventUserSubscribed {
		t.Errorf("published = %v", pub.events)
	}
}

func TestStripeSubscriptionLifecycle(t *testing.T) {
	s, h, _, _ := newWebhookFixture(t)
	acct := s.account(t, "baker@example.com", plan.Pro)
	ctx := context.Background()
	s.subscriptions.Upsert(ctx, &model.Subscription{
		AccountID:            acct.ID,
		StripeSubscriptionID: "sub_9",
		Plan:                 "pro",
		Status:               model.SubscriptionActive,
	})

	req, _ := signedEvent(t, testWebhookSecret, "customer.subscription.updated", map[string]any{
		"id":                   "sub_9",
		"object":               "subscription",
		"status":               "active",
		"cancel_at_period_end": true,
		"metadata":             map[string]string{"plan": "agency"},
	})
	if rec := post(h, req); rec.Code != http.StatusOK {
		t.Fatalf("updated status = %d, body = %s", rec.Code, rec.Body.String())
	}
	sub, _ := s.subscriptions.GetByStripeID(ctx, "sub_9")
	if !sub.CancelAtPeriodEnd || sub.Plan != "agency" {
		t.Errorf("subscription = %+v", sub)
	}
	saved, _ := s.accounts.GetByID(ctx, acct.ID)
	if saved.SubscriptionTier != plan.Agency {
		t.Errorf("tier = %q, want agency", saved.SubscriptionTier)
	}

	req, _ = signedEvent(t, testWebhookSecret, "invoice.payment_failed", map[string]any{
		"id":     "in_1",
		"object": "invoice",
		"parent": map[string]any{
			"type":                 "subscription_details",
			"subscription_details": map[string]any{"subscription": "sub_9"},
		},
	})
	post(h, req)
	sub, _ = s.subscriptions.GetByStripeID(ctx, "sub_9")
	if sub.Status != model.SubscriptionPastDue {
		t.Errorf("status after failed invoice = %q", sub.Status)
	}

	req, _ = signedEvent(t, testWebhookSecret, "customer.subscription.deleted", map[string]any{
		"id":     "sub_9",
		"object": "subscription",
		"status": "canceled",
	})
	post(h, req)
	sub, _ = s.subscriptions.GetByStripeID(ctx, "sub_9")
	saved, _ = s.accounts.GetByID(ctx, acct.ID)
	if sub.Status != model.SubscriptionCanceled || saved.SubscriptionTier != plan.Starter {
		t.Errorf("after delete: status %q, tier %q", sub.Status, saved.SubscriptionTier)
	}
}

func TestStripeIgnoresUnknownEvents(t *testing.T) {
	_, h, _, _ := newWebhookFixture(t)
	req, _ := signedEvent(t, testWebhookSecret, "charge.refunded", map[string]any{"id": "ch_1", "object": "charge"})
	if rec := post(h, req); rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
