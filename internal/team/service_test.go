package team

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/dukerupert/reciperank/internal/database"
	"github.com/dukerupert/reciperank/internal/model"
	"github.com/dukerupert/reciperank/internal/plan"
	"github.com/dukerupert/reciperank/internal/store"
)

type recordingMailer struct {
	sent []string
	err  error
}

func (m *recordingMailer) SendTeamInvite(_ context.Context, to, orgName, inviter, role string) error {
	m.sent = append(m.sent, to+"|"+orgName+"|"+role)
	return m.err
}

type fixture struct {
	accounts *store.AccountStore
	orgs     *store.OrganizationStore
	mailer   *recordingMailer
	svc      *Service
	owner    *model.Account
	org      *model.Organization
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		accounts: store.NewAccountStore(db),
		orgs:     store.NewOrganizationStore(db),
		mailer:   &recordingMailer{},
	}
	f.svc = NewService(f.accounts, f.orgs, f.mailer, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx := context.Background()
	owner, err := f.accounts.Create(ctx, "", "owner@example.com", "Olive")
	if err != nil {
		t.Fatalf("create owner: %v", err)
	}
	if err := f.accounts.UpdateTier(ctx, owner.ID, plan.Agency); err != nil {
		t.Fatalf("update tier: %v", err)
	}
	owner, _ = f.accounts.GetByID(ctx, owner.ID)
	f.owner = owner

	org, err := f.svc.EnsureOrganization(ctx, owner)
	if err != nil {
		t.Fatalf("ensure organization: %v", err)
	}
	f.org = org
	return f
}

// join creates an account with email and adds it to the fixture org as role.
func (f *fixture) join(t *testing.T, email string, role Role) *model.TeamMember {
	t.Helper()
	ctx := context.Background()
	acct, err := f.accounts.Create(ctx, "", email, email)
	if err != nil {
		t.Fatalf("create %s: %v", email, err)
	}
	m, err := f.orgs.AddMember(ctx, f.org.ID, acct.ID, string(role), nil)
	if err != nil {
		t.Fatalf("add %s: %v", email, err)
	}
	return m
}

func TestEnsureOrganizationIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	owner, _ := f.accounts.GetByID(ctx, f.owner.ID)
	again, err := f.svc.EnsureOrganization(ctx, owner)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if again.ID != f.org.ID {
		t.Errorf("second call created org %s, want %s", again.ID, f.org.ID)
	}
	if f.org.Name != "Olive's Team" {
		t.Errorf("name = %q", f.org.Name)
	}

	m, _ := f.orgs.GetMember(ctx, f.org.ID, f.owner.ID)
	if m == nil || m.Role != string(Owner) {
		t.Errorf("owner membership = %+v", m)
	}
}

func TestEnsureOrganizationRequiresAgency(t *testing.T) {
	f := newFixture(t)
	acct, _ := f.accounts.Create(context.Background(), "", "solo@example.com", "Solo")
	if _, err := f.svc.EnsureOrganization(context.Background(), acct); !errors.Is(err, ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden", err)
	}
}

func TestInvite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.accounts.Create(ctx, "", "cook@example.com", "Cook")

	m, err := f.svc.Invite(ctx, f.owner.ID, f.org.ID, "Cook@Example.com", "member")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if m.Role != string(Member) || m.InvitedBy == nil || *m.InvitedBy != f.owner.ID {
		t.Errorf("member = %+v", m)
	}
	if len(f.mailer.sent) != 1 || f.mailer.sent[0] != "cook@example.com|Olive's Team|MEMBER" {
		t.Errorf("mail = %v", f.mailer.sent)
	}

	if _, err := f.svc.Invite(ctx, f.owner.ID, f.org.ID, "cook@example.com", "VIEWER"); !errors.Is(err, ErrAlreadyMember) {
		t.Errorf("duplicate invite err = %v, want ErrAlreadyMember", err)
	}
	if _, err := f.svc.Invite(ctx, f.owner.ID, f.org.ID, "ghost@example.com", "VIEWER"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown email err = %v, want ErrNotFound", err)
	}
	if _, err := f.svc.Invite(ctx, f.owner.ID, f.org.ID, "cook@example.com", "OWNER"); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("owner role err = %v, want ErrInvalidRole", err)
	}
}

func TestInviteSurvivesMailFailure(t *testing.T) {
	f := newFixture(t)
	f.mailer.err = errors.New("postmark down")
	ctx := context.Background()
	f.accounts.Create(ctx, "", "cook@example.com", "Cook")

	if _, err := f.svc.Invite(ctx, f.owner.ID, f.org.ID, "cook@example.com", "ADMIN"); err != nil {
		t.Fatalf("invite should succeed when mail fails: %v", err)
	}
}

func TestViewerCannotChangeRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	viewer := f.join(t, "viewer@example.com", Viewer)
	member := f.join(t, "member@example.com", Member)

	_, err := f.svc.ChangeRole(ctx, viewer.AccountID, member.ID, "ADMIN")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}

	got, _ := f.orgs.GetMemberByID(ctx, member.ID)
	if got.Role != string(Member) {
		t.Errorf("role changed to %q", got.Role)
	}
	if err := f.svc.Remove(ctx, viewer.AccountID, member.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("remove err = %v, want ErrForbidden", err)
	}
	if _, err := f.svc.ListMembers(ctx, viewer.AccountID, f.org.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("list err = %v, want ErrForbidden", err)
	}
}

func TestOwnerIsProtected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.join(t, "admin@example.com", Admin)
	owner, _ := f.orgs.GetMember(ctx, f.org.ID, f.owner.ID)

	for _, requester := range []string{admin.AccountID, f.owner.ID} {
		if _, err := f.svc.ChangeRole(ctx, requester, owner.ID, "VIEWER"); !errors.Is(err, ErrProtectedMember) {
			t.Errorf("demote by %s err = %v, want ErrProtectedMember", requester, err)
		}
		if err := f.svc.Remove(ctx, requester, owner.ID); !errors.Is(err, ErrProtectedMember) {
			t.Errorf("remove by %s err = %v, want ErrProtectedMember", requester, err)
		}
	}

	got, _ := f.orgs.GetMemberByID(ctx, owner.ID)
	if got == nil || got.Role != string(Owner) {
		t.Errorf("owner membership = %+v", got)
	}
}

func TestAdminManagesMembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.join(t, "admin@example.com", Admin)
	member := f.join(t, "member@example.com", Member)

	updated, err := f.svc.ChangeRole(ctx, admin.AccountID, member.ID, "viewer")
	if err != nil {
		t.Fatalf("change role: %v", err)
	}
	if updated.Role != string(Viewer) {
		t.Errorf("role = %q, want VIEWER", updated.Role)
	}
	if _, err := f.svc.ChangeRole(ctx, admin.AccountID, member.ID, "chef"); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("invalid role err = %v", err)
	}

	if err := f.svc.Remove(ctx, admin.AccountID, member.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	members, err := f.svc.ListMembers(ctx, admin.AccountID, f.org.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("members = %d, want 2", len(members))
	}
	acct, _ := f.accounts.GetByID(ctx, member.AccountID)
	if acct.OrganizationID != nil {
		t.Error("removed member still linked to organization")
	}

	if err := f.svc.Remove(ctx, admin.AccountID, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing member err = %v, want ErrNotFound", err)
	}
}
