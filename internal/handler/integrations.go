package handler

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dukerupert/reciperank/internal/auth"
	"github.com/dukerupert/reciperank/internal/model"
	"github.com/dukerupert/reciperank/internal/store"
)

const maxKeyName = 100

type IntegrationHandler struct {
	keys      *store.APIKeyStore
	endpoints *store.WebhookEndpointStore
	env       Env
}

func NewIntegrationHandler(ks *store.APIKeyStore, es *store.WebhookEndpointStore, env Env) *IntegrationHandler {
	return &IntegrationHandler{keys: ks, endpoints: es, env: env}
}

// ListAPIKeys handles GET /api/agency/api-keys. Hashes are never returned.
func (h *IntegrationHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.ListByAccount(r.Context(), auth.AccountID(r.Context()))
	if err != nil {
		h.env.serverError(w, r, "Failed to list API keys", err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// CreateAPIKey handles POST /api/agency/api-keys. The full key appears only
// in this response.
func (h *IntegrationHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > maxKeyName {
		writeError(w, http.StatusBadRequest, "Name is required (max 100 characters)")
		return
	}

	key, prefix, hash, err := auth.GenerateAPIKey()
	if err != nil {
		h.env.serverError(w, r, "Failed to generate API key", err)
		return
	}
	k, err := h.keys.Create(r.Context(), auth.AccountID(r.Context()), req.Name, prefix, hash)
	if err != nil {
		h.env.serverError(w, r, "Failed to create API key", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"api_key": k,
		"key":     key,
	})
}

// DeleteAPIKey handles DELETE /api/agency/api-keys/{id}.
func (h *IntegrationHandler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	ok, err := h.keys.Delete(r.Context(), auth.AccountID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.env.serverError(w, r, "Failed to delete API key", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "API key not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListWebhooks handles GET /api/agency/webhooks.
func (h *IntegrationHandler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	eps, err := h.endpoints.ListByAccount(r.Context(), auth.AccountID(r.Context()))
	if err != nil {
		h.env.serverError(w, r, "Failed to list webhooks", err)
		return
	}
	writeJSON(w, http.StatusOK, eps)
}

type webhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

func (req webhookRequest) validate() string {
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "URL must be an absolute http or https URL"
	}
	if len(req.Events) == 0 {
		return "At least one event is required"
	}
	for _, ev := range req.Events {
		if !slices.Contains(model.WebhookEvents, ev) {
			return "Unknown event: " + ev
		}
	}
	return ""
}

// CreateWebhook handles POST /api/agency/webhooks. The signing secret is
// returned once.
func (h *IntegrationHandler) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		h.env.serverError(w, r, "Failed to generate secret", err)
		return
	}
	secret := "whsec_" + hex.EncodeToString(b)

	ep, err := h.endpoints.Create(r.Context(), auth.AccountID(r.Context()), req.URL, secret, slices.Compact(slices.Sorted(slices.Values(req.Events))))
	if err != nil {
		h.env.serverError(w, r, "Failed to create webhook", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"webhook": ep,
		"secret":  secret,
	})
}

// DeleteWebhook handles DELETE /api/agency/webhooks/{id}.
func (h *IntegrationHandler) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	ok, err := h.endpoints.Delete(r.Context(), auth.AccountID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.env.serverError(w, r, "Failed to delete webhook", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Webhook not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
