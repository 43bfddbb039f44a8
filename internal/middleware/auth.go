package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/reciperank/internal/auth"
	"github.com/dukerupert/reciperank/internal/model"
	"github.com/dukerupert/reciperank/internal/plan"
	"github.com/dukerupert/reciperank/internal/store"
)

// TokenVerifier validates bearer tokens from the auth provider.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Identity, error)
}

// Authenticator resolves callers to accounts and populates AuthContext.
type Authenticator struct {
	verifier TokenVerifier
	accounts *store.AccountStore
	keys     *store.APIKeyStore
	usage    *store.UsageLogStore
	logger   *slog.Logger
}

func NewAuthenticator(v TokenVerifier, accounts *store.AccountStore, keys *store.APIKeyStore, usage *store.UsageLogStore, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		verifier: v,
		accounts: accounts,
		keys:     keys,
		usage:    usage,
		logger:   logger,
	}
}

// RequireAuth accepts only bearer tokens. Accounts are provisioned on the
// first request that carries a verified token with an email claim.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, status := a.fromToken(r)
		if status != http.StatusOK {
			rejectAuth(w, status)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithAuth(r.Context(), ac)))
	})
}

// RequireAuthOrAPIKey additionally accepts an X-API-Key header. Every API
// key request is recorded as an api_call usage entry.
func (a *Authenticator) RequireAuthOrAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key := r.Header.Get(auth.APIKeyHeader); key != "" {
			ac, status := a.fromAPIKey(r, key)
			if status != http.StatusOK {
				rejectAuth(w, status)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithAuth(r.Context(), ac)))
			return
		}
		a.RequireAuth(next).ServeHTTP(w, r)
	})
}

// fromToken returns http.StatusOK with the resolved caller, 401 for a
// missing or invalid token and 500 when the account cannot be loaded or
// provisioned.
func (a *Authenticator) fromToken(r *http.Request) (auth.AuthContext, int) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || strings.TrimSpace(token) == "" {
		return auth.AuthContext{}, http.StatusUnauthorized
	}

	id, err := a.verifier.Verify(r.Context(), strings.TrimSpace(token))
	if err != nil {
		return auth.AuthContext{}, http.StatusUnauthorized
	}

	acct, err := a.accounts.GetByID(r.Context(), id.Subject)
	if err != nil {
		a.logger.Error("failed to load account", "account_id", id.Subject, "error", err)
		return auth.AuthContext{}, http.StatusInternalServerError
	}
	if acct == nil {
		if id.Email == "" {
			return auth.AuthContext{}, http.StatusUnauthorized
		}
		acct, err = a.accounts.Create(r.Context(), id.Subject, id.Email, id.Name)
		if err != nil {
			a.logger.Error("failed to provision account", "account_id", id.Subject, "error", err)
			return auth.AuthContext{}, http.StatusInternalServerError
		}
		a.logger.Info("provisioned account", "account_id", acct.ID)
	}

	return auth.AuthContext{AccountID: acct.ID, Email: acct.Email, Method: auth.MethodToken}, http.StatusOK
}

func (a *Authenticator) fromAPIKey(r *http.Request, key string) (auth.AuthContext, int) {
	prefix, ok := auth.ParseAPIKey(key)
	if !ok {
		return auth.AuthContext{}, http.StatusUnauthorized
	}

	ctx := r.Context()
	k, err := a.keys.GetByPrefix(ctx, prefix)
	if err != nil {
		a.logger.Error("failed to load api key", "prefix", prefix, "error", err)
		return auth.AuthContext{}, http.StatusInternalServerError
	}
	if k == nil || !auth.CheckAPIKey(k.KeyHash, key) {
		return auth.AuthContext{}, http.StatusUnauthorized
	}

	acct, err := a.accounts.GetByID(ctx, k.AccountID)
	if err != nil {
		a.logger.Error("failed to load account", "account_id", k.AccountID, "error", err)
		return auth.AuthContext{}, http.StatusInternalServerError
	}
	if acct == nil {
		return auth.AuthContext{}, http.StatusUnauthorized
	}
	if !acct.Tier().HasFeature(plan.FeatureCustomIntegrations) {
		return auth.AuthContext{}, http.StatusForbidden
	}

	if err := a.keys.TouchLastUsed(ctx, k.ID, time.Now()); err != nil {
		a.logger.Warn("failed to touch api key", "api_key_id", k.ID, "error", err)
	}
	metadata, _ := json.Marshal(map[string]string{
		"method":     r.Method,
		"path":       r.URL.Path,
		"api_key_id": k.ID,
	})
	if err := a.usage.Create(ctx, &model.UsageLog{
		AccountID:    acct.ID,
		Action:       model.ActionAPICall,
		ResourceUsed: r.Method + " " + r.URL.Path,
		Metadata:     metadata,
	}); err != nil {
		a.logger.Warn("failed to log api call", "account_id", acct.ID, "error", err)
	}

	return auth.AuthContext{
		AccountID: acct.ID,
		Email:     acct.Email,
		Method:    auth.MethodAPIKey,
		APIKeyID:  k.ID,
	}, http.StatusOK
}

// RequireFeature rejects accounts whose tier lacks feature.
func RequireFeature(accounts *store.AccountStore, feature string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acct, err := accounts.GetByID(r.Context(), auth.AccountID(r.Context()))
			if err != nil {
				logger.Error("failed to load account", "error", err)
				writeError(w, http.StatusInternalServerError, "Internal server error")
				return
			}
			if acct == nil {
				unauthorized(w)
				return
			}
			if !acct.Tier().HasFeature(feature) {
				writeError(w, http.StatusForbidden, "Agency subscription required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rejectAuth(w http.ResponseWriter, status int) {
	switch status {
	case http.StatusForbidden:
		writeError(w, http.StatusForbidden, "API access requires the agency plan")
	case http.StatusInternalServerError:
		writeError(w, http.StatusInternalServerError, "Internal server error")
	default:
		unauthorized(w)
	}
}

func unauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "Authentication required")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
