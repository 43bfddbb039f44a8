package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/reciperank/internal/database"
	"github.com/dukerupert/reciperank/internal/model"
)

type UsageLogStore struct {
	db *database.DB
}

func NewUsageLogStore(db *database.DB) *UsageLogStore {
	return &UsageLogStore{db: db}
}

// Create appends a usage log entry.
func (s *UsageLogStore) Create(ctx context.Context, e *model.UsageLog) error {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	var metadata sql.NullString
	if len(e.Metadata) > 0 {
		metadata = sql.NullString{String: string(e.Metadata), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_logs (id, account_id, action, resource_used, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.AccountID, e.Action, e.ResourceUsed, metadata, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

// CountByAction counts the account's entries for action created at or after since.
func (s *UsageLogStore) CountByAction(ctx context.Context, accountID, action string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM usage_logs WHERE account_id = ? AND action = ? AND created_at >= ?`,
		accountID, action, since.UTC(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count usage logs: %w", err)
	}
	return count, nil
}
