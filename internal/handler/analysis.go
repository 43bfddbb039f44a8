package handler

import (
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dukerupert/reciperank/internal/analysis"
	"github.com/dukerupert/reciperank/internal/auth"
	"github.com/dukerupert/reciperank/internal/model"
	"github.com/dukerupert/reciperank/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	// maxPage keeps (page-1)*limit within an int32 offset.
	maxPage         = math.MaxInt32 / maxPageSize
)

type AnalysisHandler struct {
	service  *analysis.Service
	analyses *store.AnalysisStore
	env      Env
}

func NewAnalysisHandler(svc *analysis.Service, as *store.AnalysisStore, env Env) *AnalysisHandler {
	return &AnalysisHandler{service: svc, analyses: as, env: env}
}

// Submit handles POST /api/analyze.
func (h *AnalysisHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req analysis.Request
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.service.Submit(r.Context(), auth.AccountID(r.Context()), req)
	if err != nil {
		var (
			verr *analysis.ValidationError
			qerr *analysis.QuotaExceededError
		)
		switch {
		case errors.As(err, &verr):
			writeErrorDetails(w, http.StatusBadRequest, verr.Message, map[string]string{"field": verr.Field})
		case errors.As(err, &qerr):
			writeErrorDetails(w, http.StatusForbidden, "Monthly analysis limit reached", map[string]any{
				"usage": qerr.Count,
				"limit": qerr.Limit,
				"tier":  qerr.Tier,
			})
		case errors.Is(err, analysis.ErrUnauthenticated):
			writeError(w, http.StatusUnauthorized, "Authentication required")
		default:
			h.env.serverError(w, r, "Failed to analyze recipe", err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

type pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// List handles GET /api/analyses.
func (h *AnalysisHandler) List(w http.ResponseWriter, r *http.Request) {
	page := min(queryInt(r, "page", 1), maxPage)
	limit := min(queryInt(r, "limit", defaultPageSize), maxPageSize)

	list, total, err := h.analyses.List(r.Context(), auth.AccountID(r.Context()), store.ListOptions{
		Limit:  limit,
		Offset: (page - 1) * limit,
		Search: strings.TrimSpace(r.URL.Query().Get("search")),
	})
	if err != nil {
		h.env.serverError(w, r, "Failed to list analyses", err)
		return
	}
	if list == nil {
		list = []model.Analysis{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"analyses": list,
		"pagination": pagination{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: (total + limit - 1) / limit,
		},
	})
}

// Get handles GET /api/analyses/{id}. Records of other accounts are 404.
func (h *AnalysisHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.analyses.GetByID(r.Context(), auth.AccountID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.env.serverError(w, r, "Failed to load analysis", err)
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "Analysis not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}
