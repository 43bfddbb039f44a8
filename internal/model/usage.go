package model

import (
	"encoding/json"
	"time"
)

// Usage log actions.
const (
	ActionRecipeAnalysis = "recipe_analysis"
	ActionAPICall        = "api_call"
)

type UsageLog struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"account_id"`
	Action       string          `json:"action"`
	ResourceUsed string          `json:"resource_used"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
