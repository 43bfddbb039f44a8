package team

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukerupert/reciperank/internal/model"
	"github.com/dukerupert/reciperank/internal/plan"
	"github.com/dukerupert/reciperank/internal/store"
)

var (
	ErrForbidden       = errors.New("insufficient permissions")
	ErrProtectedMember = errors.New("the organization owner cannot be changed or removed")
	ErrNotFound        = errors.New("not found")
	ErrAlreadyMember   = errors.New("account already belongs to an organization")
	ErrInvalidRole     = errors.New("invalid role")
)

// Mailer delivers invite notices. Delivery is best effort.
type Mailer interface {
	SendTeamInvite(ctx context.Context, toEmail, orgName, inviterName, role string) error
}

type Service struct {
	accounts *store.AccountStore
	orgs     *store.OrganizationStore
	mailer   Mailer
	logger   *slog.Logger
}

// NewService builds the team service. mailer may be nil.
func NewService(accounts *store.AccountStore, orgs *store.OrganizationStore, mailer Mailer, logger *slog.Logger) *Service {
	return &Service{
		accounts: accounts,
		orgs:     orgs,
		mailer:   mailer,
		logger:   logger,
	}
}

// EnsureOrganization returns the account's organization, creating one with
// the account as OWNER when the tier allows teams and none exists yet.
func (s *Service) EnsureOrganization(ctx context.Context, acct *model.Account) (*model.Organization, error) {
	if acct.OrganizationID != nil {
		org, err := s.orgs.GetByID(ctx, *acct.OrganizationID)
		if err != nil {
			return nil, err
		}
		if org != nil {
			return org, nil
		}
	}
	if !acct.Tier().HasFeature(plan.FeatureTeamCollaboration) {
		return nil, ErrForbidden
	}

	org, err := s.orgs.Create(ctx, organizationName(acct), acct.ID, string(Owner))
	if err != nil {
		return nil, fmt.Errorf("create organization: %w", err)
	}
	s.logger.Info("organization created", "organization_id", org.ID, "owner_id", acct.ID)
	return org, nil
}

func organizationName(acct *model.Account) string {
	if acct.CompanyName != nil && *acct.CompanyName != "" {
		return *acct.CompanyName
	}
	if acct.Name != "" {
		return acct.Name + "'s Team"
	}
	return acct.Email + "'s Team"
}

// requesterRole returns the role requesterID holds in orgID. Non-members are
// forbidden.
func (s *Service) requesterRole(ctx context.Context, orgID, requesterID string) (Role, error) {
	m, err := s.orgs.GetMember(ctx, orgID, requesterID)
	if err != nil {
		return "", err
	}
	if m == nil {
		return "", ErrForbidden
	}
	r, ok := ParseRole(m.Role)
	if !ok {
		return "", ErrForbidden
	}
	return r, nil
}

func (s *Service) requireManager(ctx context.Context, orgID, requesterID string) error {
	r, err := s.requesterRole(ctx, orgID, requesterID)
	if err != nil {
		return err
	}
	if !r.CanManage() {
		return ErrForbidden
	}
	return nil
}

func (s *Service) ListMembers(ctx context.Context, requesterID, orgID string) ([]model.TeamMember, error) {
	if err := s.requireManager(ctx, orgID, requesterID); err != nil {
		return nil, err
	}
	return s.orgs.ListMembers(ctx, orgID)
}

// Invite adds the existing account registered under email to orgID.
func (s *Service) Invite(ctx context.Context, requesterID, orgID, email, role string) (*model.TeamMember, error) {
	if err := s.requireManager(ctx, orgID, requesterID); err != nil {
		return nil, err
	}
	r, ok := ParseRole(role)
	if !ok || !r.Assignable() {
		return nil, ErrInvalidRole
	}

	invitee, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if invitee == nil {
		return nil, ErrNotFound
	}
	if invitee.OrganizationID != nil {
		return nil, ErrAlreadyMember
	}
	existing, err := s.orgs.GetMember(ctx, orgID, invitee.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyMember
	}

	m, err := s.orgs.AddMember(ctx, orgID, invitee.ID, string(r), &requesterID)
	if err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}
	s.logger.Info("team member invited", "organization_id", orgID, "account_id", invitee.ID, "role", r)

	s.notifyInvite(ctx, orgID, requesterID, invitee.Email, r)
	return m, nil
}

func (s *Service) notifyInvite(ctx context.Context, orgID, requesterID, to string, r Role) {
	if s.mailer == nil {
		return
	}
	org, err := s.orgs.GetByID(ctx, orgID)
	if err != nil || org == nil {
		return
	}
	var inviter string
	if acct, err := s.accounts.GetByID(ctx, requesterID); err == nil && acct != nil {
		inviter = acct.Name
	}
	if err := s.mailer.SendTeamInvite(ctx, to, org.Name, inviter, r.String()); err != nil {
		s.logger.Warn("failed to send invite email", "to", to, "error", err)
	}
}

// ChangeRole sets a member's role. Owners are protected.
func (s *Service) ChangeRole(ctx context.Context, requesterID, memberID, role string) (*model.TeamMember, error) {
	target, err := s.target(ctx, requesterID, memberID)
	if err != nil {
		return nil, err
	}
	r, ok := ParseRole(role)
	if !ok || !r.Assignable() {
		return nil, ErrInvalidRole
	}
	return s.orgs.UpdateMemberRole(ctx, target.ID, string(r))
}

// Remove deletes a membership. Owners are protected.
func (s *Service) Remove(ctx context.Context, requesterID, memberID string) error {
	target, err := s.target(ctx, requesterID, memberID)
	if err != nil {
		return err
	}
	if err := s.orgs.RemoveMember(ctx, target.ID); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	s.logger.Info("team member removed", "organization_id", target.OrganizationID, "account_id", target.AccountID)
	return nil
}

// target loads memberID and checks that requesterID may modify it.
func (s *Service) target(ctx context.Context, requesterID, memberID string) (*model.TeamMember, error) {
	m, err := s.orgs.GetMemberByID(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrNotFound
	}
	if err := s.requireManager(ctx, m.OrganizationID, requesterID); err != nil {
		return nil, err
	}
	if r, _ := ParseRole(m.Role); r.IsProtected() {
		return nil, ErrProtectedMember
	}
	return m, nil
}
