package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/dukerupert/reciperank/internal/billing"
	"github.com/dukerupert/reciperank/internal/plan"
)

type fakeBilling struct {
	customers int
	checkout  plan.Tier
	portalFor string
	session   *billing.CheckoutStatus
}

func (f *fakeBilling) CreateCustomer(email, name, accountID string) (string, error) {
	f.customers++
	return "cus_" + accountID[:8], nil
}

func (f *fakeBilling) CreateCheckoutSession(customerID, accountID string, tier plan.Tier) (string, error) {
	if tier == plan.Starter {
		return "", billing.ErrUnknownPlan
	}
	f.checkout = tier
	return "https://checkout.stripe.test/" + customerID, nil
}

func (f *fakeBilling) GetCheckoutSession(id string) (*billing.CheckoutStatus, error) {
	return f.session, nil
}

func (f *fakeBilling) CreateBillingPortalSession(customerID, returnURL string) (string, error) {
	f.portalFor = customerID
	return "https://billing.stripe.test/" + customerID, nil
}

func TestCheckoutCreatesCustomerOnce(t *testing.T) {
	s := setupStores(t)
	acct := s.account(t, "baker@example.com", plan.Starter)
	fb := &fakeBilling{}
	h := NewBillingHandler(fb, s.accounts, "https://app.test/dashboard", testEnv())

	for i := 0; i < 2; i++ {
		rec := serve("/c", h.Checkout, jsonRequest("POST", "/c", map[string]string{"plan": "Pro"}), acct.ID)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		var body map[string]string
		decode(t, rec, &body)
		if body["url"] == "" {
			t.Error("missing checkout url")
		}
	}
	if fb.customers != 1 || fb.checkout != plan.Pro {
		t.Errorf("customers = %d, tier = %q", fb.customers, fb.checkout)
	}

	saved, _ := s.accounts.GetByID(context.Background(), acct.ID)
	if saved.StripeCustomerID == nil {
		t.Error("customer id not stored")
	}
}

func TestCheckoutRejectsBadPlan(t *testing.T) {
	s := setupStores(t)
	acct := s.account(t, "baker@example.com", plan.Starter)
	h := NewBillingHandler(&fakeBilling{}, s.accounts, "", testEnv())

	for _, p := range []string{"enterprise", "starter"} {
		rec := serve("/c", h.Checkout, jsonRequest("POST", "/c", map[string]string{"plan": p}), acct.ID)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", p, rec.Code)
		}
	}
}

func TestPortal(t *testing.T) {
	s := setupStores(t)
	acct := s.account(t, "baker@example.com", plan.Pro)
	fb := &fakeBilling{}
	h := NewBillingHandler(fb, s.accounts, "https://app.test/dashboard", testEnv())

	if rec := serve("/p", h.Portal, jsonRequest("POST", "/p", nil), acct.ID); rec.Code != http.StatusNotFound {
		t.Errorf("no customer status = %d, want 404", rec.Code)
	}

	s.accounts.SetStripeCustomerID(context.Background(), acct.ID, "cus_123")
	rec := serve("/p", h.Portal, jsonRequest("POST", "/p", nil), acct.ID)
	if rec.Code != http.StatusOK || fb.portalFor != "cus_123" {
		t.Errorf("status = %d, portal for %q", rec.Code, fb.portalFor)
	}
}

func TestVerifySession(t *testing.T) {
	s := setupStores(t)
	acct := s.account(t, "baker@example.com", plan.Pro)
	fb := &fakeBilling{session: &billing.CheckoutStatus{ID: "cs_1", Status: "complete", AccountID: acct.ID, Plan: "pro"}}
	h := NewBillingHandler(fb, s.accounts, "", testEnv())

	if rec := serve("/v", h.Verify, jsonRequest("GET", "/v", nil), acct.ID); rec.Code != http.StatusBadRequest {
		t.Errorf("missing id status = %d", rec.Code)
	}
	rec := serve("/v", h.Verify, jsonRequest("GET", "/v?session_id=cs_1", nil), acct.ID)
	var st billing.CheckoutStatus
	decode(t, rec, &st)
	if st.Status != "complete" || st.Plan != "pro" {
		t.Errorf("status = %+v", st)
	}

	other := s.account(t, "other@example.com", plan.Starter)
	if rec := serve("/v", h.Verify, jsonRequest("GET", "/v?session_id=cs_1", nil), other.ID); rec.Code != http.StatusNotFound {
		t.Errorf("foreign session status = %d, want 404", rec.Code)
	}
}

func TestBillingNotConfigured(t *testing.T) {
	s := setupStores(t)
	acct := s.account(t, "baker@example.com", plan.Starter)
	h := NewBillingHandler(nil, s.accounts, "", testEnv())
	if rec := serve("/c", h.Checkout, jsonRequest("POST", "/c", map[string]string{"plan": "pro"}), acct.ID); rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", rec.Code)
	}
}
