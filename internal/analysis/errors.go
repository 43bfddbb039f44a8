package analysis

import (
	"errors"
	"fmt"

	"github.com/dukerupert/reciperank/internal/plan"
)

// ErrUnauthenticated is returned when the caller does not resolve to an account.
var ErrUnauthenticated = errors.New("unauthenticated")

// ValidationError reports malformed submission input. Nothing is persisted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// QuotaExceededError reports that the account's monthly window is full.
type QuotaExceededError struct {
	Count int
	Limit int
	Tier  plan.Tier
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("monthly analysis limit reached: %d of %d on %s plan", e.Count, e.Limit, e.Tier)
}
