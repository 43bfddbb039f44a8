package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dukerupert/reciperank/internal/analysis"
	"github.com/dukerupert/reciperank/internal/auth"
	"github.com/dukerupert/reciperank/internal/model"
	"github.com/dukerupert/reciperank/internal/store"
	"github.com/dukerupert/reciperank/internal/team"
)

type TeamHandler struct {
	accounts *store.AccountStore
	orgs     *store.OrganizationStore
	analyses *store.AnalysisStore
	usage    *store.UsageLogStore
	team     *team.Service
	env      Env
}

func NewTeamHandler(as *store.AccountStore, os *store.OrganizationStore, ans *store.AnalysisStore, us *store.UsageLogStore, ts *team.Service, env Env) *TeamHandler {
	return &TeamHandler{
		accounts: as,
		orgs:     os,
		analyses: ans,
		usage:    us,
		team:     ts,
		env:      env,
	}
}

func (h *TeamHandler) teamError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, team.ErrForbidden):
		writeError(w, http.StatusForbidden, "Insufficient permissions")
	case errors.Is(err, team.ErrProtectedMember):
		writeError(w, http.StatusForbidden, "The organization owner cannot be changed or removed")
	case errors.Is(err, team.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, team.ErrAlreadyMember):
		writeError(w, http.StatusConflict, "User is already part of a team")
	case errors.Is(err, team.ErrInvalidRole):
		writeError(w, http.StatusBadRequest, "Role must be ADMIN, MEMBER or VIEWER")
	default:
		h.env.serverError(w, r, "Team operation failed", err)
	}
}

// organization resolves the caller's organization, creating it on first use.
func (h *TeamHandler) organization(w http.ResponseWriter, r *http.Request) (*model.Account, *model.Organization, bool) {
	acct, err := h.accounts.GetByID(r.Context(), auth.AccountID(r.Context()))
	if err != nil {
		h.env.serverError(w, r, "Failed to load account", err)
		return nil, nil, false
	}
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return nil, nil, false
	}
	org, err := h.team.EnsureOrganization(r.Context(), acct)
	if err != nil {
		h.teamError(w, r, err)
		return nil, nil, false
	}
	return acct, org, true
}

// List handles GET /api/agency/team.
func (h *TeamHandler) List(w http.ResponseWriter, r *http.Request) {
	acct, org, ok := h.organization(w, r)
	if !ok {
		return
	}
	members, err := h.team.ListMembers(r.Context(), acct.ID, org.ID)
	if err != nil {
		h.teamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"organization": org,
		"members":      members,
	})
}

type inviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Invite handles POST /api/agency/team/invite.
func (h *TeamHandler) Invite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "A valid email is required")
		return
	}
	if req.Role == "" {
		req.Role = string(team.Member)
	}

	acct, org, ok := h.organization(w, r)
	if !ok {
		return
	}
	m, err := h.team.Invite(r.Context(), acct.ID, org.ID, req.Email, req.Role)
	if err != nil {
		h.teamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// UpdateRole handles PUT /api/agency/team/{id}.
func (h *TeamHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role string `json:"role"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := h.team.ChangeRole(r.Context(), auth.AccountID(r.Context()), chi.URLParam(r, "id"), req.Role)
	if err != nil {
		h.teamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Remove handles DELETE /api/agency/team/{id}.
func (h *TeamHandler) Remove(w http.ResponseWriter, r *http.Request) {
	if err := h.team.Remove(r.Context(), auth.AccountID(r.Context()), chi.URLParam(r, "id")); err != nil {
		h.teamError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats handles GET /api/agency/stats.
func (h *TeamHandler) Stats(w http.ResponseWriter, r *http.Request) {
	acct, org, ok := h.organization(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	analyses, err := h.analyses.CountForOrganization(ctx, org.ID)
	if err != nil {
		h.env.serverError(w, r, "Failed to count analyses", err)
		return
	}
	members, err := h.orgs.CountMembers(ctx, org.ID)
	if err != nil {
		h.env.serverError(w, r, "Failed to count members", err)
		return
	}
	calls, err := h.usage.CountByAction(ctx, acct.ID, model.ActionAPICall, analysis.MonthStart(time.Now()))
	if err != nil {
		h.env.serverError(w, r, "Failed to count api calls", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"total_analyses":    analyses,
		"team_members":      members,
		"monthly_api_calls": calls,
	})
}
