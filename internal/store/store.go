package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrQuotaReached is returned by AnalysisStore.CreateWithinQuota when the
// window already holds the maximum number of records.
var ErrQuotaReached = errors.New("analysis quota reached")

// ErrAccountNotFound is returned when a write references a missing account.
var ErrAccountNotFound = errors.New("account not found")

type rowScanner interface{ Scan(...any) error }

func newID() string {
	return uuid.NewString()
}

func now() time.Time {
	return time.Now().UTC()
}

func encodeList(items []string) string {
	if items == nil {
		items = []string{}
	}
	b, _ := json.Marshal(items)
	return string(b)
}

func decodeList(s string) []string {
	items := []string{}
	if s == "" {
		return items
	}
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return []string{}
	}
	return items
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
