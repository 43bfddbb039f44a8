package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/reciperank/internal/auth"
	"github.com/dukerupert/reciperank/internal/database"
	"github.com/dukerupert/reciperank/internal/plan"
	"github.com/dukerupert/reciperank/internal/store"
)

const testSecret = "test-secret-that-is-long-enough-for-hs256"

type testServer struct {
	srv     *Server
	handler http.Handler
	db      *database.DB
}

func setup(t *testing.T) *testServer {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	v, err := auth.NewVerifier(auth.VerifierConfig{Secret: testSecret})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(db, Options{Verifier: v, AnalysesPerMinute: 100}, logger)
	t.Cleanup(srv.Dispatcher().Wait)
	return &testServer{srv: srv, handler: srv.Router(), db: db}
}

func token(t *testing.T, subject, email string) string {
	t.Helper()
	tok, err := auth.IssueToken(testSecret, subject, email, "", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (ts *testServer) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var r io.Reader = http.NoBody
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func bearer(tok string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tok}
}

func TestHealth(t *testing.T) {
	ts := setup(t)
	rec := ts.do("GET", "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAPIRequiresAuth(t *testing.T) {
	ts := setup(t)
	for _, path := range []string{"/api/analyses", "/api/dashboard/stats", "/api/agency/team"} {
		rec := ts.do("GET", path, nil, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("GET %s = %d, want 401", path, rec.Code)
		}
	}
}

func TestSubmitWithBearerProvisionsAccount(t *testing.T) {
	ts := setup(t)
	tok := token(t, "user_new", "new@example.com")

	rec := ts.do("POST", "/api/analyze", map[string]string{
		"recipe_url":     "https://example.com/banana-bread",
		"target_keyword": "banana bread",
	}, bearer(tok))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	acct, err := store.NewAccountStore(ts.db).GetByID(context.Background(), "user_new")
	if err != nil || acct == nil {
		t.Fatalf("account not provisioned: %v", err)
	}
	if acct.Tier() != plan.Starter {
		t.Errorf("tier = %q, want starter", acct.Tier())
	}

	rec = ts.do("GET", "/api/analyses", nil, bearer(tok))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list struct {
		Analyses []json.RawMessage `json:"analyses"`
	}
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list.Analyses) != 1 {
		t.Errorf("analyses = %d, want 1", len(list.Analyses))
	}
}

func TestAgencyRoutesRequireTier(t *testing.T) {
	ts := setup(t)
	tok := token(t, "user_starter", "starter@example.com")
	// Provision the account.
	ts.do("GET", "/api/dashboard/stats", nil, bearer(tok))

	for _, path := range []string{"/api/agency/team", "/api/agency/white-label", "/api/agency/api-keys"} {
		rec := ts.do("GET", path, nil, bearer(tok))
		if rec.Code != http.StatusForbidden {
			t.Errorf("GET %s = %d, want 403", path, rec.Code)
		}
	}
}

func TestAPIKeyFlow(t *testing.T) {
	ts := setup(t)
	tok := token(t, "user_agency", "agency@example.com")
	ts.do("GET", "/api/subscription", nil, bearer(tok))
	if err := store.NewAccountStore(ts.db).UpdateTier(context.Background(), "user_agency", plan.Agency); err != nil {
		t.Fatalf("update tier: %v", err)
	}

	rec := ts.do("POST", "/api/agency/api-keys", map[string]string{"name": "ci"}, bearer(tok))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create key = %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Key string `json:"key"`
	}
	json.Unmarshal(rec.Body.Bytes(), &created)

	rec = ts.do("POST", "/api/analyze", map[string]string{
		"recipe_url": "https://example.com/lemon-tart",
	}, map[string]string{"X-API-Key": created.Key})
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit via key = %d: %s", rec.Code, rec.Body.String())
	}

	// API keys do not open the dashboard.
	rec = ts.do("GET", "/api/dashboard/stats", nil, map[string]string{"X-API-Key": created.Key})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("dashboard via key = %d, want 401", rec.Code)
	}
}

func TestOptionalFeaturesDisabled(t *testing.T) {
	ts := setup(t)
	tok := token(t, "user_plain", "plain@example.com")

	rec := ts.do("POST", "/api/billing/checkout", map[string]string{"plan": "pro"}, bearer(tok))
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("checkout = %d, want 501", rec.Code)
	}

	rec = ts.do("POST", "/webhooks/stripe", map[string]string{}, nil)
	if rec.Code == http.StatusOK {
		t.Errorf("stripe webhook mounted without billing")
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	ts := setup(t)
	rec := ts.do("GET", "/ws", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestTeamAdminOnStarterPlanManagesMembers(t *testing.T) {
	ts := setup(t)
	owner := token(t, "user_owner", "owner@example.com")
	admin := token(t, "user_admin", "admin@example.com")
	viewer := token(t, "user_viewer", "viewer@example.com")
	for _, tok := range []string{owner, admin, viewer} {
		ts.do("GET", "/api/subscription", nil, bearer(tok))
	}
	if err := store.NewAccountStore(ts.db).UpdateTier(context.Background(), "user_owner", plan.Agency); err != nil {
		t.Fatalf("update tier: %v", err)
	}

	for email, role := range map[string]string{"admin@example.com": "ADMIN", "viewer@example.com": "VIEWER"} {
		rec := ts.do("POST", "/api/agency/team/invite", map[string]string{"email": email, "role": role}, bearer(owner))
		if rec.Code != http.StatusCreated {
			t.Fatalf("invite %s = %d: %s", email, rec.Code, rec.Body.String())
		}
	}

	rec := ts.do("GET", "/api/agency/team", nil, bearer(admin))
	if rec.Code != http.StatusOK {
		t.Fatalf("admin list = %d: %s", rec.Code, rec.Body.String())
	}
	var list struct {
		Members []struct {
			ID        string `json:"id"`
			AccountID string `json:"account_id"`
		} `json:"members"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	var viewerID string
	for _, m := range list.Members {
		if m.AccountID == "user_viewer" {
			viewerID = m.ID
		}
	}
	if viewerID == "" {
		t.Fatalf("viewer missing from %s", rec.Body.String())
	}

	rec = ts.do("PUT", "/api/agency/team/"+viewerID, map[string]string{"role": "ADMIN"}, bearer(viewer))
	if rec.Code != http.StatusForbidden {
		t.Errorf("viewer update = %d, want 403", rec.Code)
	}

	rec = ts.do("PUT", "/api/agency/team/"+viewerID, map[string]string{"role": "MEMBER"}, bearer(admin))
	if rec.Code != http.StatusOK {
		t.Fatalf("admin update = %d: %s", rec.Code, rec.Body.String())
	}
	var updated struct {
		Role string `json:"role"`
	}
	json.Unmarshal(rec.Body.Bytes(), &updated)
	if updated.Role != "MEMBER" {
		t.Errorf("role = %q, want MEMBER", updated.Role)
	}

	rec = ts.do("DELETE", "/api/agency/team/"+viewerID, nil, bearer(admin))
	if rec.Code != http.StatusNoContent {
		t.Errorf("admin remove = %d, want 204", rec.Code)
	}
}
