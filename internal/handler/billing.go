package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dukerupert/reciperank/internal/auth"
	"github.com/dukerupert/reciperank/internal/billing"
	"github.com/dukerupert/reciperank/internal/plan"
	"github.com/dukerupert/reciperank/internal/store"
)

// BillingProvider is the payment processor surface used by checkout.
type BillingProvider interface {
	CreateCustomer(email, name, accountID string) (string, error)
	CreateCheckoutSession(customerID, accountID string, tier plan.Tier) (string, error)
	GetCheckoutSession(id string) (*billing.CheckoutStatus, error)
	CreateBillingPortalSession(customerID, returnURL string) (string, error)
}

type BillingHandler struct {
	provider  BillingProvider
	accounts  *store.AccountStore
	returnURL string
	env       Env
}

// NewBillingHandler builds the checkout handler. A nil provider answers 501.
func NewBillingHandler(p BillingProvider, as *store.AccountStore, returnURL string, env Env) *BillingHandler {
	return &BillingHandler{provider: p, accounts: as, returnURL: returnURL, env: env}
}

func (h *BillingHandler) configured(w http.ResponseWriter) bool {
	if h.provider == nil {
		writeError(w, http.StatusNotImplemented, "Billing is not configured")
		return false
	}
	return true
}

// Checkout handles POST /api/billing/checkout.
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	var req struct {
		Plan string `json:"plan"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	tier := plan.Tier(strings.ToLower(strings.TrimSpace(req.Plan)))
	if !tier.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid plan")
		return
	}

	ctx := r.Context()
	acct, err := h.accounts.GetByID(ctx, auth.AccountID(ctx))
	if err != nil {
		h.env.serverError(w, r, "Failed to load account", err)
		return
	}
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var customerID string
	if acct.StripeCustomerID != nil {
		customerID = *acct.StripeCustomerID
	}
	if customerID == "" {
		customerID, err = h.provider.CreateCustomer(acct.Email, acct.Name, acct.ID)
		if err != nil {
			h.env.serverError(w, r, "Failed to create customer", err)
			return
		}
		if err := h.accounts.SetStripeCustomerID(ctx, acct.ID, customerID); err != nil {
			h.env.serverError(w, r, "Failed to save customer", err)
			return
		}
	}

	url, err := h.provider.CreateCheckoutSession(customerID, acct.ID, tier)
	if errors.Is(err, billing.ErrUnknownPlan) {
		writeError(w, http.StatusBadRequest, "Plan is not available for purchase")
		return
	}
	if err != nil {
		h.env.serverError(w, r, "Failed to create checkout session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// Verify handles GET /api/billing/verify?session_id=.
func (h *BillingHandler) Verify(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	id := r.URL.Query().Get("session_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	st, err := h.provider.GetCheckoutSession(id)
	if err != nil {
		h.env.serverError(w, r, "Failed to retrieve checkout session", err)
		return
	}
	if st.AccountID != "" && st.AccountID != auth.AccountID(r.Context()) {
		writeError(w, http.StatusNotFound, "Checkout session not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Portal handles POST /api/billing/portal.
func (h *BillingHandler) Portal(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	acct, err := h.accounts.GetByID(r.Context(), auth.AccountID(r.Context()))
	if err != nil {
		h.env.serverError(w, r, "Failed to load account", err)
		return
	}
	if acct == nil || acct.StripeCustomerID == nil {
		writeError(w, http.StatusNotFound, "No billing account")
		return
	}
	url, err := h.provider.CreateBillingPortalSession(*acct.StripeCustomerID, h.returnURL)
	if err != nil {
		h.env.serverError(w, r, "Failed to create portal session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}
