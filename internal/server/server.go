package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dukerupert/reciperank/internal/analysis"
	"github.com/dukerupert/reciperank/internal/billing"
	"github.com/dukerupert/reciperank/internal/database"
	"github.com/dukerupert/reciperank/internal/handler"
	"github.com/dukerupert/reciperank/internal/middleware"
	"github.com/dukerupert/reciperank/internal/notify"
	"github.com/dukerupert/reciperank/internal/plan"
	"github.com/dukerupert/reciperank/internal/store"
	"github.com/dukerupert/reciperank/internal/team"
	"github.com/dukerupert/reciperank/internal/upload"
	ws "github.com/dukerupert/reciperank/internal/websocket"
)

// Options carries the collaborators built from configuration. Nil values
// disable the feature that needs them.
type Options struct {
	Verifier  middleware.TokenVerifier
	Generator analysis.Generator
	Billing   *billing.Client
	Uploader  *upload.Uploader
	Mailer    team.Mailer

	// ReturnURL is where the billing portal sends customers back to.
	ReturnURL         string
	Development       bool
	AnalysesPerMinute int
	OriginPatterns    []string
}

type Server struct {
	db          *database.DB
	hub         *ws.Hub
	dispatcher  *notify.Dispatcher
	rateLimiter *middleware.RateLimiter
	authn       *middleware.Authenticator
	accounts    *store.AccountStore
	opts        Options
	logger      *slog.Logger

	analysisH     *handler.AnalysisHandler
	dashboardH    *handler.DashboardHandler
	teamH         *handler.TeamHandler
	whiteLabelH   *handler.WhiteLabelHandler
	integrationH  *handler.IntegrationHandler
	billingH      *handler.BillingHandler
	stripeWebhook *handler.StripeWebhookHandler
}

func New(db *database.DB, opts Options, logger *slog.Logger) *Server {
	accountStore := store.NewAccountStore(db)
	analysisStore := store.NewAnalysisStore(db)
	usageStore := store.NewUsageLogStore(db)
	orgStore := store.NewOrganizationStore(db)
	subStore := store.NewSubscriptionStore(db)
	keyStore := store.NewAPIKeyStore(db)
	endpointStore := store.NewWebhookEndpointStore(db)

	hub := ws.NewHub(logger.With("component", "websocket"))
	dispatcher := notify.NewDispatcher(endpointStore, logger.With("component", "webhooks"))

	svcOpts := []analysis.Option{
		analysis.WithPublisher(hub),
		analysis.WithPublisher(dispatcher),
	}
	if opts.Generator != nil {
		svcOpts = append(svcOpts, analysis.WithGenerator(opts.Generator))
	}
	analysisSvc := analysis.NewService(accountStore, analysisStore, usageStore, logger.With("component", "analysis"), svcOpts...)
	teamSvc := team.NewService(accountStore, orgStore, opts.Mailer, logger.With("component", "team"))

	env := func(component string) handler.Env {
		return handler.Env{Logger: logger.With("component", component), Development: opts.Development}
	}

	// Typed nils must not leak into the handlers' interfaces.
	var provider handler.BillingProvider
	if opts.Billing != nil {
		provider = opts.Billing
	}
	var uploader handler.LogoUploader
	if opts.Uploader != nil {
		uploader = opts.Uploader
	}

	s := &Server{
		db:          db,
		hub:         hub,
		dispatcher:  dispatcher,
		rateLimiter: middleware.NewRateLimiter(),
		authn:       middleware.NewAuthenticator(opts.Verifier, accountStore, keyStore, usageStore, logger.With("component", "auth")),
		accounts:    accountStore,
		opts:        opts,
		logger:      logger,

		analysisH:    handler.NewAnalysisHandler(analysisSvc, analysisStore, env("analysis")),
		dashboardH:   handler.NewDashboardHandler(accountStore, analysisStore, subStore, analysisSvc, env("dashboard")),
		teamH:        handler.NewTeamHandler(accountStore, orgStore, analysisStore, usageStore, teamSvc, env("team")),
		whiteLabelH:  handler.NewWhiteLabelHandler(accountStore, uploader, env("white_label")),
		integrationH: handler.NewIntegrationHandler(keyStore, endpointStore, env("integrations")),
		billingH:     handler.NewBillingHandler(provider, accountStore, opts.ReturnURL, env("billing")),
	}
	if opts.Billing != nil {
		s.stripeWebhook = handler.NewStripeWebhookHandler(opts.Billing, accountStore, subStore, publishers{hub, dispatcher}, env("stripe_webhook"))
	}
	return s
}

// Hub returns the websocket hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// Dispatcher returns the outbound webhook dispatcher so shutdown can wait on
// in-flight deliveries.
func (s *Server) Dispatcher() *notify.Dispatcher {
	return s.dispatcher
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(s.logger.With("component", "http")))

	r.Get("/health", s.healthHandler)

	if s.stripeWebhook != nil {
		r.Post("/webhooks/stripe", s.stripeWebhook.Handle)
	}

	r.With(ws.TokenFromQuery, s.authn.RequireAuth).
		Get("/ws", ws.HandleWebSocket(s.hub, s.opts.OriginPatterns, s.logger.With("component", "websocket")))

	r.Route("/api", func(r chi.Router) {
		// Analysis endpoints also accept agency API keys.
		r.Group(func(r chi.Router) {
			r.Use(s.authn.RequireAuthOrAPIKey)
			r.With(middleware.RateLimit(s.rateLimiter, middleware.ByAccount, s.opts.AnalysesPerMinute, time.Minute)).
				Post("/analyze", s.analysisH.Submit)
			r.Get("/analyses", s.analysisH.List)
			r.Get("/analyses/{id}", s.analysisH.Get)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authn.RequireAuth)

			r.Get("/dashboard/stats", s.dashboardH.Stats)
			r.Get("/subscription", s.dashboardH.Subscription)

			r.Post("/billing/checkout", s.billingH.Checkout)
			r.Get("/billing/verify", s.billingH.Verify)
			r.Post("/billing/portal", s.billingH.Portal)

			r.Route("/agency", s.agencyRoutes)
		})
	})

	return r
}

func (s *Server) agencyRoutes(r chi.Router) {
	feature := func(name string) func(http.Handler) http.Handler {
		return middleware.RequireFeature(s.accounts, name, s.logger.With("component", "auth"))
	}

	// Team routes are gated by organization role, not the requester's own
	// tier: invited members keep their personal plan. Creating an
	// organization still requires team collaboration.
	r.Get("/team", s.teamH.List)
	r.Post("/team/invite", s.teamH.Invite)
	r.Put("/team/{id}", s.teamH.UpdateRole)
	r.Delete("/team/{id}", s.teamH.Remove)
	r.Get("/stats", s.teamH.Stats)

	r.Group(func(r chi.Router) {
		r.Use(feature(plan.FeatureWhiteLabel))
		r.Get("/white-label", s.whiteLabelH.Get)
		r.Put("/white-label", s.whiteLabelH.Update)
		r.Post("/white-label/logo", s.whiteLabelH.UploadLogo)
	})

	r.Group(func(r chi.Router) {
		r.Use(feature(plan.FeatureCustomIntegrations))
		r.Get("/api-keys", s.integrationH.ListAPIKeys)
		r.Post("/api-keys", s.integrationH.CreateAPIKey)
		r.Delete("/api-keys/{id}", s.integrationH.DeleteAPIKey)
		r.Get("/webhooks", s.integrationH.ListWebhooks)
		r.Post("/webhooks", s.integrationH.CreateWebhook)
		r.Delete("/webhooks/{id}", s.integrationH.DeleteWebhook)
	})
}

// publishers fans an event out to several sinks.
type publishers []analysis.Publisher

func (ps publishers) Publish(ctx context.Context, accountID, event string, data any) {
	for _, p := range ps {
		p.Publish(ctx, accountID, event, data)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check: database unreachable", "error", err)
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}
