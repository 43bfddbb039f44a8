package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dukerupert/reciperank/internal/database"
	"github.com/dukerupert/reciperank/internal/model"
	"github.com/dukerupert/reciperank/internal/plan"
)

type AccountStore struct {
	db *database.DB
}

func NewAccountStore(db *database.DB) *AccountStore {
	return &AccountStore{db: db}
}

const accountCols = `id, email, name, subscription_tier, stripe_customer_id, organization_id,
	company_name, company_logo, primary_color, custom_domain, created_at, updated_at`

func scanAccount(scanner rowScanner) (*model.Account, error) {
	var (
		a                                  model.Account
		tier                               string
		customerID, orgID                  sql.NullString
		company, logo, color, customDomain sql.NullString
	)
	err := scanner.Scan(&a.ID, &a.Email, &a.Name, &tier, &customerID, &orgID,
		&company, &logo, &color, &customDomain, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.SubscriptionTier = plan.Parse(tier)
	a.StripeCustomerID = stringPtr(customerID)
	a.OrganizationID = stringPtr(orgID)
	a.CompanyName = stringPtr(company)
	a.CompanyLogo = stringPtr(logo)
	a.PrimaryColor = stringPtr(color)
	a.CustomDomain = stringPtr(customDomain)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

// Create inserts a starter-tier account. An empty id is generated.
func (s *AccountStore) Create(ctx context.Context, id, email, name string) (*model.Account, error) {
	if id == "" {
		id = newID()
	}
	ts := now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email, name, subscription_tier, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, strings.ToLower(strings.TrimSpace(email)), name, string(plan.Starter), ts, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *AccountStore) GetByID(ctx context.Context, id string) (*model.Account, error) {
	return s.getBy(ctx, "id", id)
}

func (s *AccountStore) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	return s.getBy(ctx, "email", strings.ToLower(strings.TrimSpace(email)))
}

func (s *AccountStore) GetByStripeCustomerID(ctx context.Context, customerID string) (*model.Account, error) {
	return s.getBy(ctx, "stripe_customer_id", customerID)
}

func (s *AccountStore) getBy(ctx context.Context, col, value string) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE `+col+` = ?`, value)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account by %s: %w", col, err)
	}
	return a, nil
}

// UpdateTier sets the account's subscription tier. Only billing events call this.
func (s *AccountStore) UpdateTier(ctx context.Context, id string, tier plan.Tier) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET subscription_tier = ?, updated_at = ? WHERE id = ?`,
		string(tier), now(), id,
	)
	if err != nil {
		return fmt.Errorf("update account tier: %w", err)
	}
	return nil
}

func (s *AccountStore) SetStripeCustomerID(ctx context.Context, id, customerID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET stripe_customer_id = ?, updated_at = ? WHERE id = ?`,
		customerID, now(), id,
	)
	if err != nil {
		return fmt.Errorf("update stripe customer id: %w", err)
	}
	return nil
}

func (s *AccountStore) SetOrganization(ctx context.Context, id string, orgID *string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET organization_id = ?, updated_at = ? WHERE id = ?`,
		nullString(orgID), now(), id,
	)
	if err != nil {
		return fmt.Errorf("update account organization: %w", err)
	}
	return nil
}

func (s *AccountStore) UpdateWhiteLabel(ctx context.Context, id string, wl model.WhiteLabel) (*model.Account, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET company_name = ?, company_logo = ?, primary_color = ?, custom_domain = ?, updated_at = ? WHERE id = ?`,
		nullString(wl.CompanyName), nullString(wl.CompanyLogo), nullString(wl.PrimaryColor), nullString(wl.CustomDomain), now(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update white label: %w", err)
	}
	return s.GetByID(ctx, id)
}
