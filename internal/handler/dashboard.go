package handler

import (
	"math"
	"net/http"

	"github.com/dukerupert/reciperank/internal/analysis"
	"github.com/dukerupert/reciperank/internal/auth"
	"github.com/dukerupert/reciperank/internal/model"
	"github.com/dukerupert/reciperank/internal/store"
)

const recentAnalyses = 5

type DashboardHandler struct {
	accounts      *store.AccountStore
	analyses      *store.AnalysisStore
	subscriptions *store.SubscriptionStore
	service       *analysis.Service
	env           Env
}

func NewDashboardHandler(as *store.AccountStore, ans *store.AnalysisStore, ss *store.SubscriptionStore, svc *analysis.Service, env Env) *DashboardHandler {
	return &DashboardHandler{
		accounts:      as,
		analyses:      ans,
		subscriptions: ss,
		service:       svc,
		env:           env,
	}
}

// account loads the caller's account, answering 401 itself when missing.
func (h *DashboardHandler) account(w http.ResponseWriter, r *http.Request) (*model.Account, bool) {
	acct, err := h.accounts.GetByID(r.Context(), auth.AccountID(r.Context()))
	if err != nil {
		h.env.serverError(w, r, "Failed to load account", err)
		return nil, false
	}
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return nil, false
	}
	return acct, true
}

// Stats handles GET /api/dashboard/stats.
func (h *DashboardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.account(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	quota, err := h.service.Quota(ctx, acct)
	if err != nil {
		h.env.serverError(w, r, "Failed to load usage", err)
		return
	}
	total, err := h.analyses.Count(ctx, acct.ID)
	if err != nil {
		h.env.serverError(w, r, "Failed to count analyses", err)
		return
	}
	avg, err := h.analyses.AverageScore(ctx, acct.ID)
	if err != nil {
		h.env.serverError(w, r, "Failed to average scores", err)
		return
	}
	recent, err := h.analyses.Recent(ctx, acct.ID, recentAnalyses)
	if err != nil {
		h.env.serverError(w, r, "Failed to load recent analyses", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"stats": map[string]int{
			"monthly_analyses":  quota.Usage,
			"total_analyses":    total,
			"average_seo_score": int(math.Round(avg)),
		},
		"recent_analyses": recent,
		"quota":           quota,
	})
}

// Subscription handles GET /api/subscription.
func (h *DashboardHandler) Subscription(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.account(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	sub, err := h.subscriptions.GetActiveByAccount(ctx, acct.ID)
	if err != nil {
		h.env.serverError(w, r, "Failed to load subscription", err)
		return
	}
	quota, err := h.service.Quota(ctx, acct)
	if err != nil {
		h.env.serverError(w, r, "Failed to load usage", err)
		return
	}

	tier := acct.Tier()
	writeJSON(w, http.StatusOK, map[string]any{
		"tier":         tier,
		"features":     tier.Limits().Features,
		"has_billing":  acct.StripeCustomerID != nil,
		"subscription": sub,
		"usage":        quota,
	})
}
