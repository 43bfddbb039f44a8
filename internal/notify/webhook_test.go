package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/dukerupert/reciperank/internal/database"
	"github.com/dukerupert/reciperank/internal/model"
	"github.com/dukerupert/reciperank/internal/store"
)

type delivery struct {
	event     string
	signature string
	body      []byte
}

func setup(t *testing.T) (*Dispatcher, *store.WebhookEndpointStore, *model.Account) {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	acct, err := store.NewAccountStore(db).Create(context.Background(), "", "hooks@example.com", "Hooks")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	endpoints := store.NewWebhookEndpointStore(db)
	return NewDispatcher(endpoints, slog.New(slog.NewTextHandler(io.Discard, nil))), endpoints, acct
}

func recorder(t *testing.T) (*httptest.Server, func() []delivery) {
	t.Helper()
	var (
		mu  sync.Mutex
		got []delivery
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, delivery{
			event:     r.Header.Get(EventHeader),
			signature: r.Header.Get(SignatureHeader),
			body:      body,
		})
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []delivery {
		mu.Lock()
		defer mu.Unlock()
		return append([]delivery(nil), got...)
	}
}

func TestPublishSignsAndDelivers(t *testing.T) {
	d, endpoints, acct := setup(t)
	srv, deliveries := recorder(t)
	ctx := context.Background()

	if _, err := endpoints.Create(ctx, acct.ID, srv.URL, "whsec_test", []string{model.EventAnalysisCompleted}); err != nil {
		t.Fatalf("create endpoint: %v", err)
	}

	d.Publish(ctx, acct.ID, model.EventAnalysisCompleted, map[string]any{"seo_score": 88})
	d.Wait()

	got := deliveries()
	if len(got) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(got))
	}
	if got[0].event != model.EventAnalysisCompleted {
		t.Errorf("event header = %q", got[0].event)
	}
	if !Verify("whsec_test", got[0].body, got[0].signature) {
		t.Errorf("signature %q does not verify", got[0].signature)
	}

	var env Envelope
	if err := json.Unmarshal(got[0].body, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.AccountID != acct.ID || env.ID == "" {
		t.Errorf("envelope = %+v", env)
	}
}

func TestPublishSkipsUnsubscribed(t *testing.T) {
	d, endpoints, acct := setup(t)
	srv, deliveries := recorder(t)
	ctx := context.Background()

	endpoints.Create(ctx, acct.ID, srv.URL, "s", []string{model.EventUserSubscribed})

	d.Publish(ctx, acct.ID, model.EventAnalysisFailed, nil)
	d.Publish(ctx, "someone-else", model.EventUserSubscribed, nil)
	d.Wait()

	if n := len(deliveries()); n != 0 {
		t.Errorf("deliveries = %d, want 0", n)
	}
}

func TestPublishCancelledContext(t *testing.T) {
	d, endpoints, acct := setup(t)
	srv, deliveries := recorder(t)
	endpoints.Create(context.Background(), acct.ID, srv.URL, "s", []string{model.EventAnalysisCompleted})

	ctx, cancel := context.WithCancel(context.Background())
	d.Publish(ctx, acct.ID, model.EventAnalysisCompleted, nil)
	cancel()
	d.Wait()

	if n := len(deliveries()); n != 1 {
		t.Errorf("deliveries = %d, want 1 after request context ends", n)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	body := []byte(`{"event":"analysis.completed"}`)
	sig := Sign("secret", body)
	if Verify("other", body, sig) {
		t.Error("wrong secret verified")
	}
	if Verify("secret", []byte(`{"event":"analysis.failed"}`), sig) {
		t.Error("modified body verified")
	}
}
