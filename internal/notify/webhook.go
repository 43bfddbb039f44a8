// Package notify delivers account events to customer webhook endpoints.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/reciperank/internal/model"
	"github.com/dukerupert/reciperank/internal/store"
)

const (
	SignatureHeader = "X-RecipeRank-Signature"
	EventHeader     = "X-RecipeRank-Event"
	DeliveryHeader  = "X-RecipeRank-Delivery"

	deliveryTimeout = 10 * time.Second
)

// Envelope is the JSON body posted to endpoints.
type Envelope struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	AccountID string    `json:"account_id"`
	CreatedAt time.Time `json:"created_at"`
	Data      any       `json:"data"`
}

// Dispatcher posts signed events to every active endpoint subscribed to
// them. Deliveries run in the background.
type Dispatcher struct {
	endpoints *store.WebhookEndpointStore
	client    *http.Client
	logger    *slog.Logger
	wg        sync.WaitGroup
}

func NewDispatcher(endpoints *store.WebhookEndpointStore, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		endpoints: endpoints,
		client:    &http.Client{Timeout: deliveryTimeout},
		logger:    logger,
	}
}

// Sign returns the hex HMAC-SHA256 of body keyed by secret, prefixed the way
// it appears in SignatureHeader.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body under secret.
func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

// Publish queues event for the account's subscribed endpoints and returns
// immediately.
func (d *Dispatcher) Publish(ctx context.Context, accountID, event string, data any) {
	env := Envelope{
		ID:        uuid.NewString(),
		Event:     event,
		AccountID: accountID,
		CreatedAt: time.Now().UTC(),
		Data:      data,
	}
	body, err := json.Marshal(env)
	if err != nil {
		d.logger.Error("failed to encode webhook event", "event", event, "error", err)
		return
	}

	// Deliveries outlive the request that triggered them.
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		endpoints, err := d.endpoints.ListSubscribed(ctx, accountID, event)
		if err != nil {
			d.logger.Error("failed to load webhook endpoints", "account_id", accountID, "error", err)
			return
		}
		for _, ep := range endpoints {
			if err := d.deliver(ctx, ep, env, body); err != nil {
				d.logger.Warn("webhook delivery failed", "endpoint_id", ep.ID, "event", event, "error", err)
				continue
			}
			d.logger.Debug("webhook delivered", "endpoint_id", ep.ID, "event", event)
		}
	}()
}

func (d *Dispatcher) deliver(ctx context.Context, ep model.WebhookEndpoint, env Envelope, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "RecipeRank-Webhooks/1.0")
	req.Header.Set(EventHeader, env.Event)
	req.Header.Set(DeliveryHeader, env.ID)
	req.Header.Set(SignatureHeader, Sign(ep.Secret, body))

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
