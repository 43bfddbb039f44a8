package store

import (
	"context"
	"testing"

	"github.com/dukerupert/reciperank/internal/database"
	"github.com/dukerupert/reciperank/internal/model"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestAccount(t *testing.T, db *database.DB, email string) *model.Account {
	t.Helper()
	a, err := NewAccountStore(db).Create(context.Background(), "", email, "Test "+email)
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return a
}

func TestEncodeDecodeList(t *testing.T) {
	if got := encodeList(nil); got != "[]" {
		t.Errorf("encodeList(nil) = %q, want []", got)
	}
	got := decodeList(`["a","b"]`)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("decodeList = %v", got)
	}
	if got := decodeList("not json"); len(got) != 0 {
		t.Errorf("decodeList(garbage) = %v, want empty", got)
	}
}
