package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/reciperank/internal/auth"
	"github.com/dukerupert/reciperank/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockClient builds a Client with a send buffer but no connection.
func mockClient(hub *Hub, accountID string) *Client {
	return &Client{hub: hub, accountID: accountID, send: make(chan []byte, sendBufferSize)}
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data := <-c.send:
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return m
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}
	return Message{}
}

func TestRegisterUnregisterPerAccount(t *testing.T) {
	hub := NewHub(testLogger())
	a1 := mockClient(hub, "a")
	a2 := mockClient(hub, "a")
	b := mockClient(hub, "b")
	for _, c := range []*Client{a1, a2, b} {
		hub.Register(c)
	}
	if got := hub.ClientCount(); got != 3 {
		t.Fatalf("ClientCount = %d, want 3", got)
	}

	hub.Unregister(a1)
	hub.Unregister(a1)
	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("ClientCount = %d, want 2", got)
	}
	if _, open := <-a1.send; open {
		t.Error("send channel should be closed")
	}
}

func TestPublishScopedToAccount(t *testing.T) {
	hub := NewHub(testLogger())
	mine := mockClient(hub, "a")
	theirs := mockClient(hub, "b")
	hub.Register(mine)
	hub.Register(theirs)

	hub.Publish(context.Background(), "a", model.EventAnalysisCompleted, map[string]any{"seo_score": float64(81)})

	got := receive(t, mine)
	if got.Type != TypeAnalysisCreated {
		t.Errorf("type = %q, want %q", got.Type, TypeAnalysisCreated)
	}
	if got.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
	select {
	case <-theirs.send:
		t.Error("other account received the message")
	default:
	}
}

func TestPublishIgnoresUnknownEvents(t *testing.T) {
	hub := NewHub(testLogger())
	c := mockClient(hub, "a")
	hub.Register(c)

	hub.Publish(context.Background(), "a", "something.else", nil)
	hub.Publish(context.Background(), "a", model.EventUserSubscribed, nil)

	if got := receive(t, c); got.Type != TypeSubscriptionUpdated {
		t.Errorf("type = %q", got.Type)
	}
	if len(c.send) != 0 {
		t.Error("unexpected extra message")
	}
}

func TestSendDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(testLogger())
	c := mockClient(hub, "a")
	hub.Register(c)

	for i := 0; i < sendBufferSize+3; i++ {
		hub.Send("a", Message{Type: "fill"})
	}
	if got := len(c.send); got != sendBufferSize {
		t.Errorf("buffered = %d, want %d", got, sendBufferSize)
	}
}

func TestHubConcurrentAccess(t *testing.T) {
	hub := NewHub(testLogger())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := mockClient(hub, "shared")
			hub.Register(c)
			hub.Send("shared", Message{Type: "ping"})
			hub.Unregister(c)
		}()
	}
	wg.Wait()
	if got := hub.ClientCount(); got != 0 {
		t.Errorf("ClientCount = %d, want 0", got)
	}
}

func TestHandleWebSocketRequiresAuth(t *testing.T) {
	hub := NewHub(testLogger())
	rec := httptest.NewRecorder()
	HandleWebSocket(hub, nil, testLogger())(rec, httptest.NewRequest("GET", "/ws", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestHandleWebSocketDelivers(t *testing.T) {
	hub := NewHub(testLogger())
	withAccount := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := auth.WithAuth(r.Context(), auth.AuthContext{AccountID: "acct-1"})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
	srv := httptest.NewServer(withAccount(HandleWebSocket(hub, nil, testLogger())))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	for hub.ClientCount() == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("client never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	hub.Publish(ctx, "acct-1", model.EventAnalysisCompleted, map[string]string{"id": "an-1"})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != TypeAnalysisCreated {
		t.Errorf("type = %q", got.Type)
	}
	conn.Close(ws.StatusNormalClosure, "")
}

func TestTokenFromQuery(t *testing.T) {
	var header string
	h := TokenFromQuery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("Authorization")
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/ws?token=abc", nil))
	if header != "Bearer abc" {
		t.Errorf("Authorization = %q", header)
	}

	req := httptest.NewRequest("GET", "/ws?token=abc", nil)
	req.Header.Set("Authorization", "Bearer xyz")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if header != "Bearer xyz" {
		t.Errorf("existing header overwritten: %q", header)
	}
}
