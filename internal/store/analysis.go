package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/reciperank/internal/database"
	"github.com/dukerupert/reciperank/internal/model"
)

type AnalysisStore struct {
	db *database.DB
}

func NewAnalysisStore(db *database.DB) *AnalysisStore {
	return &AnalysisStore{db: db}
}

const analysisCols = `id, account_id, recipe_url, original_title, optimized_title,
	original_description, optimized_description, seo_score, target_keywords,
	suggested_keywords, competitor_analysis, schema_markup, optimization_suggestions,
	source, created_at`

const insertAnalysis = `INSERT INTO recipe_analyses (` + analysisCols + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// ListOptions pages and filters analysis listings.
type ListOptions struct {
	Limit  int
	Offset int
	Search string
}

func scanAnalysis(scanner rowScanner) (*model.Analysis, error) {
	var (
		a                              model.Analysis
		target, suggested, suggestions string
		competitor                     sql.NullString
	)
	err := scanner.Scan(&a.ID, &a.AccountID, &a.RecipeURL, &a.OriginalTitle, &a.OptimizedTitle,
		&a.OriginalDescription, &a.OptimizedDescription, &a.SEOScore, &target,
		&suggested, &competitor, &a.SchemaMarkup, &suggestions,
		&a.Source, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.TargetKeywords = decodeList(target)
	a.SuggestedKeywords = decodeList(suggested)
	a.OptimizationSuggestions = decodeList(suggestions)
	if competitor.Valid && competitor.String != "" {
		a.CompetitorAnalysis = json.RawMessage(competitor.String)
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

func analysisArgs(a *model.Analysis) []any {
	var competitor sql.NullString
	if len(a.CompetitorAnalysis) > 0 {
		competitor = sql.NullString{String: string(a.CompetitorAnalysis), Valid: true}
	}
	return []any{
		a.ID, a.AccountID, a.RecipeURL, a.OriginalTitle, a.OptimizedTitle,
		a.OriginalDescription, a.OptimizedDescription, a.SEOScore, encodeList(a.TargetKeywords),
		encodeList(a.SuggestedKeywords), competitor, a.SchemaMarkup, encodeList(a.OptimizationSuggestions),
		a.Source, a.CreatedAt.UTC(),
	}
}

func prepareAnalysis(a *model.Analysis) {
	if a.ID == "" {
		a.ID = newID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now()
	}
	if a.Source == "" {
		a.Source = model.SourceAI
	}
}

// Create inserts a record without any quota check.
func (s *AnalysisStore) Create(ctx context.Context, a *model.Analysis) error {
	prepareAnalysis(a)
	if _, err := s.db.ExecContext(ctx, insertAnalysis, analysisArgs(a)...); err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

// CreateWithinQuota inserts a record only if the account holds fewer than
// limit records created at or after since. The account row is locked for
// the duration of the count and insert so concurrent submissions cannot
// both pass. A negative limit disables the check. It returns the number of
// records counted before the insert.
func (s *AnalysisStore) CreateWithinQuota(ctx context.Context, a *model.Analysis, since time.Time, limit int) (int, error) {
	prepareAnalysis(a)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var locked string
	err = tx.QueryRowContext(ctx, `SELECT id FROM accounts WHERE id = ?`+s.db.ForUpdate(), a.AccountID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lock account: %w", err)
	}

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recipe_analyses WHERE account_id = ? AND created_at >= ?`,
		a.AccountID, since.UTC(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count analyses: %w", err)
	}

	if limit >= 0 && count >= limit {
		return count, ErrQuotaReached
	}

	if _, err := tx.ExecContext(ctx, insertAnalysis, analysisArgs(a)...); err != nil {
		return count, fmt.Errorf("insert analysis: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return count, fmt.Errorf("commit: %w", err)
	}
	return count, nil
}

// GetByID returns the record only if it belongs to accountID.
func (s *AnalysisStore) GetByID(ctx context.Context, accountID, id string) (*model.Analysis, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+analysisCols+` FROM recipe_analyses WHERE id = ? AND account_id = ?`,
		id, accountID,
	)
	a, err := scanAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	return a, nil
}

// List returns a page of the account's records, newest first, and the total
// number of records matching the filter.
func (s *AnalysisStore) List(ctx context.Context, accountID string, opts ListOptions) ([]model.Analysis, int, error) {
	where := `account_id = ?`
	args := []any{accountID}
	if q := strings.TrimSpace(opts.Search); q != "" {
		pattern := "%" + strings.ToLower(q) + "%"
		where += ` AND (LOWER(original_title) LIKE ? OR LOWER(optimized_title) LIKE ? OR LOWER(recipe_url) LIKE ?)`
		args = append(args, pattern, pattern, pattern)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipe_analyses WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count analyses: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+analysisCols+` FROM recipe_analyses WHERE `+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	analyses := []model.Analysis{}
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan analysis: %w", err)
		}
		analyses = append(analyses, *a)
	}
	return analyses, total, rows.Err()
}

// Recent returns the n newest records for the account.
func (s *AnalysisStore) Recent(ctx context.Context, accountID string, n int) ([]model.Analysis, error) {
	list, _, err := s.List(ctx, accountID, ListOptions{Limit: n})
	return list, err
}

// CountSince counts the account's records created at or after since.
func (s *AnalysisStore) CountSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recipe_analyses WHERE account_id = ? AND created_at >= ?`,
		accountID, since.UTC(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count analyses since: %w", err)
	}
	return count, nil
}

func (s *AnalysisStore) Count(ctx context.Context, accountID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipe_analyses WHERE account_id = ?`, accountID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count analyses: %w", err)
	}
	return count, nil
}

// AverageScore returns the mean seo_score across the account's records, or
// zero when there are none.
func (s *AnalysisStore) AverageScore(ctx context.Context, accountID string) (float64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `SELECT AVG(seo_score) FROM recipe_analyses WHERE account_id = ?`, accountID).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("average score: %w", err)
	}
	return avg.Float64, nil
}

// CountForOrganization counts records created by every member of orgID.
func (s *AnalysisStore) CountForOrganization(ctx context.Context, orgID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recipe_analyses WHERE account_id IN (SELECT account_id FROM team_members WHERE organization_id = ?)`,
		orgID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count organization analyses: %w", err)
	}
	return count, nil
}
