package model

import (
	"encoding/json"
	"time"
)

// Analysis sources.
const (
	SourceAI       = "ai"
	SourceFallback = "fallback"
)

// Analysis is an immutable record of one recipe SEO analysis.
type Analysis struct {
	ID                      string          `json:"id"`
	AccountID               string          `json:"account_id"`
	RecipeURL               string          `json:"recipe_url"`
	OriginalTitle           string          `json:"original_title"`
	OptimizedTitle          string          `json:"optimized_title"`
	OriginalDescription     string          `json:"original_description"`
	OptimizedDescription    string          `json:"optimized_description"`
	SEOScore                int             `json:"seo_score"`
	TargetKeywords          []string        `json:"target_keywords"`
	SuggestedKeywords       []string        `json:"suggested_keywords"`
	CompetitorAnalysis      json.RawMessage `json:"competitor_analysis,omitempty"`
	SchemaMarkup            string          `json:"schema_markup"`
	OptimizationSuggestions []string        `json:"optimization_suggestions"`
	Source                  string          `json:"source"`
	CreatedAt               time.Time       `json:"created_at"`
}
