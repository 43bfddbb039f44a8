package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dukerupert/reciperank/internal/database"
	"github.com/dukerupert/reciperank/internal/model"
)

type SubscriptionStore struct {
	db *database.DB
}

func NewSubscriptionStore(db *database.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

const subscriptionCols = `id, account_id, stripe_subscription_id, plan, status,
	current_period_start, current_period_end, cancel_at_period_end, created_at, updated_at`

func scanSubscription(scanner rowScanner) (*model.Subscription, error) {
	var (
		sub        model.Subscription
		start, end sql.NullTime
	)
	err := scanner.Scan(&sub.ID, &sub.AccountID, &sub.StripeSubscriptionID, &sub.Plan, &sub.Status,
		&start, &end, &sub.CancelAtPeriodEnd, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sub.CurrentPeriodStart = timePtr(start)
	sub.CurrentPeriodEnd = timePtr(end)
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	return &sub, nil
}

// Upsert inserts the subscription or, when its Stripe ID already exists,
// updates plan, status, period and cancel flag in place.
func (s *SubscriptionStore) Upsert(ctx context.Context, sub *model.Subscription) (*model.Subscription, error) {
	ts := now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (`+subscriptionCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (stripe_subscription_id) DO UPDATE SET
			plan = excluded.plan,
			status = excluded.status,
			current_period_start = excluded.current_period_start,
			current_period_end = excluded.current_period_end,
			cancel_at_period_end = excluded.cancel_at_period_end,
			updated_at = excluded.updated_at`,
		newID(), sub.AccountID, sub.StripeSubscriptionID, sub.Plan, sub.Status,
		nullTime(sub.CurrentPeriodStart), nullTime(sub.CurrentPeriodEnd), sub.CancelAtPeriodEnd, ts, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert subscription: %w", err)
	}
	return s.GetByStripeID(ctx, sub.StripeSubscriptionID)
}

func (s *SubscriptionStore) GetByStripeID(ctx context.Context, stripeID string) (*model.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE stripe_subscription_id = ?`, stripeID)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

// GetActiveByAccount returns the newest active or trialing subscription.
func (s *SubscriptionStore) GetActiveByAccount(ctx context.Context, accountID string) (*model.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionCols+` FROM subscriptions
		WHERE account_id = ? AND status IN (?, ?)
		ORDER BY created_at DESC LIMIT 1`,
		accountID, model.SubscriptionActive, model.SubscriptionTrialing,
	)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active subscription: %w", err)
	}
	return sub, nil
}

func (s *SubscriptionStore) UpdateStatus(ctx context.Context, stripeID, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET status = ?, updated_at = ? WHERE stripe_subscription_id = ?`,
		status, now(), stripeID,
	)
	if err != nil {
		return fmt.Errorf("update subscription status: %w", err)
	}
	return nil
}
