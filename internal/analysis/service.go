// Package analysis admits recipe analysis submissions against the monthly
// plan quota and produces the records.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/reciperank/internal/model"
	"github.com/dukerupert/reciperank/internal/plan"
	"github.com/dukerupert/reciperank/internal/store"
)

// Publisher receives account-scoped events after submissions complete.
// Implementations must not block.
type Publisher interface {
	Publish(ctx context.Context, accountID, event string, data any)
}

// Result is a created record plus the caller's quota after the insert.
type Result struct {
	Analysis *model.Analysis `json:"analysis"`
	Quota    Quota           `json:"quota"`
}

type Service struct {
	accounts   *store.AccountStore
	analyses   *store.AnalysisStore
	usage      *store.UsageLogStore
	generator  Generator
	publishers []Publisher
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(*Service)

// WithGenerator sets the external collaborator. Without one every
// submission uses the deterministic fallback.
func WithGenerator(g Generator) Option {
	return func(s *Service) { s.generator = g }
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publishers = append(s.publishers, p) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(accounts *store.AccountStore, analyses *store.AnalysisStore, usage *store.UsageLogStore, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		accounts: accounts,
		analyses: analyses,
		usage:    usage,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates req, checks the account's monthly quota, generates the
// analysis and persists it. The quota is checked twice: once before the
// generator call so exhausted accounts fail fast, and again atomically with
// the insert so concurrent submissions cannot exceed the limit.
func (s *Service) Submit(ctx context.Context, accountID string, req Request) (*Result, error) {
	if accountID == "" {
		return nil, ErrUnauthenticated
	}
	acct, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if acct == nil {
		return nil, ErrUnauthenticated
	}

	in, err := req.Validate()
	if err != nil {
		return nil, err
	}

	tier := acct.Tier()
	limit := tier.AnalysisLimit()
	windowStart := MonthStart(s.now())

	if limit != plan.Unlimited {
		count, err := s.analyses.CountSince(ctx, acct.ID, windowStart)
		if err != nil {
			return nil, fmt.Errorf("count analyses: %w", err)
		}
		if count >= limit {
			return nil, &QuotaExceededError{Count: count, Limit: limit, Tier: tier}
		}
	}

	payload, source, resource := s.generate(ctx, in)

	record := &model.Analysis{
		AccountID:               acct.ID,
		RecipeURL:               in.RecipeURL,
		OriginalTitle:           in.Title,
		OptimizedTitle:          payload.OptimizedTitle,
		OriginalDescription:     in.Description,
		OptimizedDescription:    payload.OptimizedDescription,
		SEOScore:                payload.SEOScore,
		TargetKeywords:          payload.TargetKeywords,
		SuggestedKeywords:       payload.SuggestedKeywords,
		CompetitorAnalysis:      payload.CompetitorAnalysis,
		SchemaMarkup:            payload.SchemaMarkup,
		OptimizationSuggestions: payload.OptimizationSuggestions,
		Source:                  source,
		CreatedAt:               s.now().UTC(),
	}

	count, err := s.analyses.CreateWithinQuota(ctx, record, windowStart, limit)
	switch {
	case errors.Is(err, store.ErrQuotaReached):
		return nil, &QuotaExceededError{Count: count, Limit: limit, Tier: tier}
	case errors.Is(err, store.ErrAccountNotFound):
		return nil, ErrUnauthenticated
	case err != nil:
		s.publish(ctx, acct.ID, model.EventAnalysisFailed, map[string]string{
			"recipe_url": in.RecipeURL,
			"error":      "analysis could not be saved",
		})
		return nil, fmt.Errorf("save analysis: %w", err)
	}

	s.logUsage(ctx, record, in, resource)
	s.publish(ctx, acct.ID, model.EventAnalysisCompleted, record)

	return &Result{Analysis: record, Quota: newQuota(tier, count+1)}, nil
}

// Quota reports the account's usage in the current window without
// modifying anything.
func (s *Service) Quota(ctx context.Context, acct *model.Account) (Quota, error) {
	tier := acct.Tier()
	count, err := s.analyses.CountSince(ctx, acct.ID, MonthStart(s.now()))
	if err != nil {
		return Quota{}, fmt.Errorf("count analyses: %w", err)
	}
	return newQuota(tier, count), nil
}

func (s *Service) generate(ctx context.Context, in Input) (*Payload, string, string) {
	if s.generator != nil {
		p, err := s.generator.Generate(ctx, in)
		if err == nil {
			normalize(p, in)
			return p, model.SourceAI, s.generator.Resource()
		}
		s.logger.Warn("generator failed, using fallback",
			"resource", s.generator.Resource(),
			"recipe_url", in.RecipeURL,
			"error", err,
		)
	}

	p := Fallback(in)
	normalize(p, in)
	return p, model.SourceFallback, model.SourceFallback
}

// logUsage records the submission. Failures are logged and never surface to
// the caller.
func (s *Service) logUsage(ctx context.Context, a *model.Analysis, in Input, resource string) {
	metadata, _ := json.Marshal(map[string]any{
		"recipe_url":     in.RecipeURL,
		"target_keyword": in.Keyword,
		"seo_score":      a.SEOScore,
		"analysis_id":    a.ID,
	})
	err := s.usage.Create(ctx, &model.UsageLog{
		AccountID:    a.AccountID,
		Action:       model.ActionRecipeAnalysis,
		ResourceUsed: resource,
		Metadata:     metadata,
	})
	if err != nil {
		s.logger.Error("failed to write usage log", "account_id", a.AccountID, "analysis_id", a.ID, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, accountID, event string, data any) {
	for _, p := range s.publishers {
		p.Publish(ctx, accountID, event, data)
	}
}
