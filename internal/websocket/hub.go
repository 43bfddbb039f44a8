// Package websocket pushes live dashboard updates to connected browsers.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/reciperank/internal/model"
)

// Dashboard message types.
const (
	TypeAnalysisCreated     = "analysis_created"
	TypeAnalysisFailed      = "analysis_failed"
	TypeSubscriptionUpdated = "subscription_updated"
)

// Message is the frame sent to dashboard clients.
type Message struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub tracks connected clients per account and fans messages out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.accountID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.accountID] = set
	}
	set[c] = struct{}{}
}

// Unregister removes c and closes its send channel. Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.accountID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.accountID)
	}
}

// Send delivers msg to every client of accountID. Slow clients drop
// messages rather than block the sender.
func (h *Hub) Send(accountID string, msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal websocket message", "type", msg.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[accountID] {
		select {
		case c.send <- data:
		default:
			h.logger.Debug("websocket client buffer full", "account_id", accountID)
		}
	}
}

// Publish maps account events onto dashboard message types.
func (h *Hub) Publish(_ context.Context, accountID, event string, data any) {
	var typ string
	switch event {
	case model.EventAnalysisCompleted:
		typ = TypeAnalysisCreated
	case model.EventAnalysisFailed:
		typ = TypeAnalysisFailed
	case model.EventUserSubscribed:
		typ = TypeSubscriptionUpdated
	default:
		return
	}
	h.Send(accountID, Message{Type: typ, Data: data})
}

// ClientCount returns the number of connections across all accounts.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}
