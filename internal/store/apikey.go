package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/reciperank/internal/database"
	"github.com/dukerupert/reciperank/internal/model"
)

type APIKeyStore struct {
	db *database.DB
}

func NewAPIKeyStore(db *database.DB) *APIKeyStore {
	return &APIKeyStore{db: db}
}

const apiKeyCols = `id, account_id, name, prefix, key_hash, last_used_at, created_at`

func scanAPIKey(scanner rowScanner) (*model.APIKey, error) {
	var (
		k        model.APIKey
		lastUsed sql.NullTime
	)
	if err := scanner.Scan(&k.ID, &k.AccountID, &k.Name, &k.Prefix, &k.KeyHash, &lastUsed, &k.CreatedAt); err != nil {
		return nil, err
	}
	k.LastUsedAt = timePtr(lastUsed)
	k.CreatedAt = k.CreatedAt.UTC()
	return &k, nil
}

func (s *APIKeyStore) Create(ctx context.Context, accountID, name, prefix, hash string) (*model.APIKey, error) {
	k := &model.APIKey{
		ID:        newID(),
		AccountID: accountID,
		Name:      name,
		Prefix:    prefix,
		KeyHash:   hash,
		CreatedAt: now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, account_id, name, prefix, key_hash, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		k.ID, k.AccountID, k.Name, k.Prefix, k.KeyHash, k.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert api key: %w", err)
	}
	return k, nil
}

func (s *APIKeyStore) ListByAccount(ctx context.Context, accountID string) ([]model.APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+apiKeyCols+` FROM api_keys WHERE account_id = ? ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	keys := []model.APIKey{}
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

func (s *APIKeyStore) GetByPrefix(ctx context.Context, prefix string) (*model.APIKey, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+apiKeyCols+` FROM api_keys WHERE prefix = ?`, prefix)
	k, err := scanAPIKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return k, nil
}

func (s *APIKeyStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}

// Delete removes the key if it belongs to accountID and reports whether a
// row was deleted.
func (s *APIKeyStore) Delete(ctx context.Context, accountID, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ? AND account_id = ?`, id, accountID)
	if err != nil {
		return false, fmt.Errorf("delete api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
