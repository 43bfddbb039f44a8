package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/dukerupert/reciperank/internal/auth"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("1.2.3")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--env-file="}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out) != "reciperank 1.2.3" {
		t.Errorf("output = %q", out)
	}
}

const secret = "0123456789abcdef0123456789abcdef"

func TestTokenVerifies(t *testing.T) {
	t.Setenv("RECIPERANK_ENV", "development")
	t.Setenv("RECIPERANK_AUTH_JWT_SECRET", secret)

	out, err := execute(t, "token", "--subject", "acct_1", "--email", "a@example.com")
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	v, err := auth.NewVerifier(auth.VerifierConfig{Secret: secret})
	if err != nil {
		t.Fatal(err)
	}
	id, err := v.Verify(context.Background(), strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("verify issued token: %v", err)
	}
	if id.Subject != "acct_1" || id.Email != "a@example.com" {
		t.Errorf("identity = %+v", id)
	}
}

func TestTokenRefusedOutsideDevelopment(t *testing.T) {
	t.Setenv("RECIPERANK_ENV", "production")
	t.Setenv("RECIPERANK_AUTH_JWT_SECRET", secret)

	if _, err := execute(t, "token"); err == nil {
		t.Fatal("expected error in production")
	}
}

func TestMigrate(t *testing.T) {
	t.Setenv("RECIPERANK_AUTH_JWT_SECRET", secret)
	t.Setenv("RECIPERANK_DB_DSN", t.TempDir()+"/test.db")

	out, err := execute(t, "migrate")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.HasPrefix(out, "sqlite schema at version ") {
		t.Errorf("output = %q", out)
	}
}

func TestOriginPatterns(t *testing.T) {
	if got := originPatterns("https://app.reciperank.io"); len(got) != 1 || got[0] != "app.reciperank.io" {
		t.Errorf("originPatterns = %v", got)
	}
	if got := originPatterns("::bad"); got != nil {
		t.Errorf("originPatterns(bad) = %v, want nil", got)
	}
}

func TestBackupNeedsObjectStorage(t *testing.T) {
	t.Setenv("RECIPERANK_AUTH_JWT_SECRET", secret)
	t.Setenv("S3_BUCKET", "")

	_, err := execute(t, "backup")
	if err == nil || !strings.Contains(err.Error(), "S3_BUCKET") {
		t.Errorf("err = %v, want missing S3 config", err)
	}
}
