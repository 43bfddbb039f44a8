package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dukerupert/reciperank/internal/database"
	"github.com/dukerupert/reciperank/internal/model"
)

type OrganizationStore struct {
	db *database.DB
}

func NewOrganizationStore(db *database.DB) *OrganizationStore {
	return &OrganizationStore{db: db}
}

const organizationCols = `id, name, slug, owner_id, created_at`
const teamMemberCols = `m.id, m.organization_id, m.account_id, m.role, m.invited_by, m.joined_at, a.email, a.name`

const teamMemberFrom = ` FROM team_members m JOIN accounts a ON a.id = m.account_id`

func scanOrganization(scanner rowScanner) (*model.Organization, error) {
	var o model.Organization
	err := scanner.Scan(&o.ID, &o.Name, &o.Slug, &o.OwnerID, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	o.CreatedAt = o.CreatedAt.UTC()
	return &o, nil
}

func scanTeamMember(scanner rowScanner) (*model.TeamMember, error) {
	var (
		m         model.TeamMember
		invitedBy sql.NullString
	)
	err := scanner.Scan(&m.ID, &m.OrganizationID, &m.AccountID, &m.Role, &invitedBy, &m.JoinedAt, &m.Email, &m.Name)
	if err != nil {
		return nil, err
	}
	m.InvitedBy = stringPtr(invitedBy)
	m.JoinedAt = m.JoinedAt.UTC()
	return &m, nil
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name, id string) string {
	base := strings.Trim(slugInvalid.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if base == "" {
		base = "team"
	}
	return base + "-" + id[:8]
}

// Create inserts an organization, adds ownerID as its member with ownerRole
// and points the owner's account at it, all in one transaction.
func (s *OrganizationStore) Create(ctx context.Context, name, ownerID, ownerRole string) (*model.Organization, error) {
	id := newID()
	ts := now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO organizations (id, name, slug, owner_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, name, slugify(name, id), ownerID, ts,
	); err != nil {
		return nil, fmt.Errorf("insert organization: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO team_members (id, organization_id, account_id, role, joined_at) VALUES (?, ?, ?, ?, ?)`,
		newID(), id, ownerID, ownerRole, ts,
	); err != nil {
		return nil, fmt.Errorf("insert owner member: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET organization_id = ?, updated_at = ? WHERE id = ?`, id, ts, ownerID,
	); err != nil {
		return nil, fmt.Errorf("link owner account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *OrganizationStore) GetByID(ctx context.Context, id string) (*model.Organization, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+organizationCols+` FROM organizations WHERE id = ?`, id)
	o, err := scanOrganization(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}
	return o, nil
}

// AddMember inserts a membership and links the member's account to orgID.
func (s *OrganizationStore) AddMember(ctx context.Context, orgID, accountID, role string, invitedBy *string) (*model.TeamMember, error) {
	id := newID()
	ts := now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO team_members (id, organization_id, account_id, role, invited_by, joined_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, orgID, accountID, role, nullString(invitedBy), ts,
	); err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET organization_id = ?, updated_at = ? WHERE id = ?`, orgID, ts, accountID,
	); err != nil {
		return nil, fmt.Errorf("link member account: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetMemberByID(ctx, id)
}

// GetMember returns accountID's membership in orgID.
func (s *OrganizationStore) GetMember(ctx context.Context, orgID, accountID string) (*model.TeamMember, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+teamMemberCols+teamMemberFrom+` WHERE m.organization_id = ? AND m.account_id = ?`,
		orgID, accountID,
	)
	return getMember(row)
}

func (s *OrganizationStore) GetMemberByID(ctx context.Context, id string) (*model.TeamMember, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+teamMemberCols+teamMemberFrom+` WHERE m.id = ?`, id)
	return getMember(row)
}

func getMember(row *sql.Row) (*model.TeamMember, error) {
	m, err := scanTeamMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

func (s *OrganizationStore) ListMembers(ctx context.Context, orgID string) ([]model.TeamMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+teamMemberCols+teamMemberFrom+` WHERE m.organization_id = ? ORDER BY m.joined_at ASC, m.id ASC`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := []model.TeamMember{}
	for rows.Next() {
		m, err := scanTeamMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

func (s *OrganizationStore) CountMembers(ctx context.Context, orgID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM team_members WHERE organization_id = ?`, orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return count, nil
}

func (s *OrganizationStore) UpdateMemberRole(ctx context.Context, id, role string) (*model.TeamMember, error) {
	_, err := s.db.ExecContext(ctx, `UPDATE team_members SET role = ? WHERE id = ?`, role, id)
	if err != nil {
		return nil, fmt.Errorf("update member role: %w", err)
	}
	return s.GetMemberByID(ctx, id)
}

// RemoveMember deletes a membership and clears the account's organization link.
func (s *OrganizationStore) RemoveMember(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var orgID, accountID string
	err = tx.QueryRowContext(ctx, `SELECT organization_id, account_id FROM team_members WHERE id = ?`, id).Scan(&orgID, &accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load member: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM team_members WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET organization_id = NULL, updated_at = ? WHERE id = ? AND organization_id = ?`,
		now(), accountID, orgID,
	); err != nil {
		return fmt.Errorf("unlink member account: %w", err)
	}
	return tx.Commit()
}
