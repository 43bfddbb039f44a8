package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

const (
	DefaultKeyword = "recipe"

	maxTitleRunes       = 60
	maxDescriptionRunes = 155
	maxURLLength        = 2048
	maxKeywordRunes     = 100
	maxTextRunes        = 1000
)

// Request is a submission from an authenticated caller.
type Request struct {
	RecipeURL          string `json:"recipe_url"`
	TargetKeyword      string `json:"target_keyword"`
	CurrentTitle       string `json:"current_title"`
	CurrentDescription string `json:"current_description"`
}

// Input is a validated Request with defaults applied.
type Input struct {
	RecipeURL   string
	Host        string
	Keyword     string
	Title       string
	Description string
}

// Payload is the generated analysis content. Field names follow the JSON
// object the text-generation prompt asks for.
type Payload struct {
	OptimizedTitle          string          `json:"optimizedTitle"`
	OptimizedDescription    string          `json:"optimizedDescription"`
	SEOScore                int             `json:"seoScore"`
	TargetKeywords          []string        `json:"targetKeywords"`
	SuggestedKeywords       []string        `json:"suggestedKeywords"`
	OptimizationSuggestions []string        `json:"optimizationSuggestions"`
	SchemaMarkup            string          `json:"schemaMarkup"`
	CompetitorAnalysis      json.RawMessage `json:"competitorAnalysis,omitempty"`
}

// Generator produces a Payload from an external collaborator.
type Generator interface {
	Generate(ctx context.Context, in Input) (*Payload, error)
	// Resource names the collaborator for usage logs.
	Resource() string
}

// Validate checks the request and returns the normalized Input.
func (r Request) Validate() (Input, error) {
	raw := strings.TrimSpace(r.RecipeURL)
	if raw == "" {
		return Input{}, &ValidationError{Field: "recipe_url", Message: "is required"}
	}
	if len(raw) > maxURLLength {
		return Input{}, &ValidationError{Field: "recipe_url", Message: "is too long"}
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Input{}, &ValidationError{Field: "recipe_url", Message: "must be an absolute http(s) URL"}
	}

	keyword := strings.Join(strings.Fields(r.TargetKeyword), " ")
	if utf8.RuneCountInString(keyword) > maxKeywordRunes {
		return Input{}, &ValidationError{Field: "target_keyword", Message: "is too long"}
	}
	if keyword == "" {
		keyword = DefaultKeyword
	}

	title := strings.TrimSpace(r.CurrentTitle)
	if title == "" {
		title = "Recipe from " + u.Hostname()
	}
	description := strings.TrimSpace(r.CurrentDescription)
	if utf8.RuneCountInString(title) > maxTextRunes || utf8.RuneCountInString(description) > maxTextRunes {
		return Input{}, &ValidationError{Field: "current_title", Message: "title and description must be under 1000 characters"}
	}

	return Input{
		RecipeURL:   raw,
		Host:        u.Hostname(),
		Keyword:     keyword,
		Title:       title,
		Description: description,
	}, nil
}

// normalize enforces the payload invariants regardless of where the payload
// came from: score in [0,100], the keyword present in TargetKeywords, length
// caps, non-nil lists and schema markup that names the input title.
func normalize(p *Payload, in Input) {
	p.SEOScore = min(max(p.SEOScore, 0), 100)

	p.OptimizedTitle = truncateRunes(strings.TrimSpace(p.OptimizedTitle), maxTitleRunes)
	p.OptimizedDescription = truncateRunes(strings.TrimSpace(p.OptimizedDescription), maxDescriptionRunes)

	if !containsFold(p.TargetKeywords, in.Keyword) {
		p.TargetKeywords = append([]string{in.Keyword}, p.TargetKeywords...)
	}
	if p.SuggestedKeywords == nil {
		p.SuggestedKeywords = []string{}
	}
	if p.OptimizationSuggestions == nil {
		p.OptimizationSuggestions = []string{}
	}
	if len(p.CompetitorAnalysis) > 0 && !json.Valid(p.CompetitorAnalysis) {
		p.CompetitorAnalysis = nil
	}

	if !validSchemaMarkup(p.SchemaMarkup, in.Title) {
		p.SchemaMarkup = SchemaMarkup(in.Title, p.OptimizedDescription, in.Keyword)
	}
}

func validSchemaMarkup(markup, title string) bool {
	var doc struct {
		Type string `json:"@type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(markup), &doc); err != nil {
		return false
	}
	return doc.Type == "Recipe" && doc.Name == title
}

// ParsePayload decodes a collaborator response, tolerating surrounding prose
// or code fences around the JSON object.
func ParsePayload(raw string) (*Payload, error) {
	body := extractJSON(raw)
	if body == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var p Payload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if strings.TrimSpace(p.OptimizedTitle) == "" || strings.TrimSpace(p.OptimizedDescription) == "" {
		return nil, fmt.Errorf("payload missing optimized title or description")
	}
	return &p, nil
}

func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), s) {
			return true
		}
	}
	return false
}
