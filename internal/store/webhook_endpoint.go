package store

import (
	"context"
	"fmt"

	"github.com/dukerupert/reciperank/internal/database"
	"github.com/dukerupert/reciperank/internal/model"
)

type WebhookEndpointStore struct {
	db *database.DB
}

func NewWebhookEndpointStore(db *database.DB) *WebhookEndpointStore {
	return &WebhookEndpointStore{db: db}
}

const webhookEndpointCols = `id, account_id, url, secret, events, active, created_at`

func scanWebhookEndpoint(scanner rowScanner) (*model.WebhookEndpoint, error) {
	var (
		e      model.WebhookEndpoint
		events string
	)
	if err := scanner.Scan(&e.ID, &e.AccountID, &e.URL, &e.Secret, &events, &e.Active, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Events = decodeList(events)
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

func (s *WebhookEndpointStore) Create(ctx context.Context, accountID, url, secret string, events []string) (*model.WebhookEndpoint, error) {
	e := &model.WebhookEndpoint{
		ID:        newID(),
		AccountID: accountID,
		URL:       url,
		Secret:    secret,
		Events:    events,
		Active:    true,
		CreatedAt: now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_endpoints (`+webhookEndpointCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AccountID, e.URL, e.Secret, encodeList(e.Events), e.Active, e.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert webhook endpoint: %w", err)
	}
	return e, nil
}

func (s *WebhookEndpointStore) ListByAccount(ctx context.Context, accountID string) ([]model.WebhookEndpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+webhookEndpointCols+` FROM webhook_endpoints WHERE account_id = ? ORDER BY created_at ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list webhook endpoints: %w", err)
	}
	defer rows.Close()

	endpoints := []model.WebhookEndpoint{}
	for rows.Next() {
		e, err := scanWebhookEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook endpoint: %w", err)
		}
		endpoints = append(endpoints, *e)
	}
	return endpoints, rows.Err()
}

// ListSubscribed returns the account's active endpoints that want event.
func (s *WebhookEndpointStore) ListSubscribed(ctx context.Context, accountID, event string) ([]model.WebhookEndpoint, error) {
	all, err := s.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	var out []model.WebhookEndpoint
	for _, e := range all {
		if e.Subscribes(event) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *WebhookEndpointStore) Delete(ctx context.Context, accountID, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhook_endpoints WHERE id = ? AND account_id = ?`, id, accountID)
	if err != nil {
		return false, fmt.Errorf("delete webhook endpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
