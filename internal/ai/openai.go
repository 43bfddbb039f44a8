// Package ai generates recipe analyses with the OpenAI chat completions API.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dukerupert/reciperank/internal/analysis"
)

const DefaultModel = "gpt-4o-mini"

// ErrEmptyResponse is returned when the API answers without any content.
var ErrEmptyResponse = errors.New("empty completion response")

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Client implements analysis.Generator.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
}

var _ analysis.Generator = (*Client)(nil)

func NewClient(cfg Config) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		api:     openai.NewClientWithConfig(oc),
		model:   model,
		timeout: timeout,
	}
}

func (c *Client) Resource() string {
	return "openai:" + c.model
}

// Generate sends one prompt and parses the JSON object in the reply.
func (c *Client) Generate(ctx context.Context, in analysis.Input) (*analysis.Payload, error) {
	prompt, err := renderPrompt(in)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.3,
		MaxTokens:   1000,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, ErrEmptyResponse
	}

	p, err := analysis.ParsePayload(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("parse completion: %w", err)
	}
	return p, nil
}

const systemPrompt = "You are an expert SEO specialist for food blogs. Respond with a single JSON object and nothing else."

var promptTmpl = template.Must(template.New("prompt").Parse(`Analyze this recipe and provide optimization recommendations.

Recipe URL: {{.RecipeURL}}
Current Title: {{.Title}}
Current Description: {{if .Description}}{{.Description}}{{else}}Not provided{{end}}
Target Keyword: {{.Keyword}}

Return JSON with exactly these fields:
{
  "optimizedTitle": "SEO-optimized title (max 60 characters)",
  "optimizedDescription": "SEO-optimized meta description (max 155 characters)",
  "seoScore": 85,
  "targetKeywords": ["{{.Keyword}}", "secondary keyword"],
  "suggestedKeywords": ["additional keyword 1", "additional keyword 2", "additional keyword 3"],
  "optimizationSuggestions": ["suggestion 1", "suggestion 2", "suggestion 3"],
  "competitorAnalysis": {"avgContentLength": 1200, "topKeywords": ["keyword"], "avgSeoScore": 75},
  "schemaMarkup": "stringified schema.org Recipe JSON-LD whose name is exactly the current title"
}

Focus on making the title and description compelling for both search engines and users.`))

func renderPrompt(in analysis.Input) (string, error) {
	var b strings.Builder
	if err := promptTmpl.Execute(&b, in); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return b.String(), nil
}
