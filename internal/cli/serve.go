package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/reciperank/internal/ai"
	"github.com/dukerupert/reciperank/internal/auth"
	"github.com/dukerupert/reciperank/internal/billing"
	"github.com/dukerupert/reciperank/internal/config"
	"github.com/dukerupert/reciperank/internal/database"
	"github.com/dukerupert/reciperank/internal/email"
	"github.com/dukerupert/reciperank/internal/logging"
	"github.com/dukerupert/reciperank/internal/plan"
	"github.com/dukerupert/reciperank/internal/server"
	"github.com/dukerupert/reciperank/internal/upload"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(envFile(cmd))
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	opts, err := buildOptions(cfg, logger)
	if err != nil {
		return err
	}
	srv := server.New(db, opts, logger)

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Analyses wait on the LLM.
		WriteTimeout: cfg.OpenAI.Timeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("reciperank starting", "addr", cfg.Addr(), "version", version, "env", cfg.Env, "db_driver", db.Driver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	cleanupCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	srv.Dispatcher().Wait()
	logger.Info("stopped")
	return nil
}

// buildOptions constructs the optional collaborators. Anything left
// unconfigured is omitted and its endpoints answer 501 or fall back.
func buildOptions(cfg *config.Config, logger *slog.Logger) (server.Options, error) {
	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		Secret:  cfg.Auth.JWTSecret,
		JWKSURL: cfg.Auth.JWKSURL,
		Issuer:  cfg.Auth.Issuer,
	})
	if err != nil {
		return server.Options{}, fmt.Errorf("token verifier: %w", err)
	}

	opts := server.Options{
		Verifier:          verifier,
		ReturnURL:         cfg.BaseURL + "/dashboard",
		Development:       cfg.IsDevelopment(),
		AnalysesPerMinute: cfg.RateLimit.AnalysesPerMinute,
		OriginPatterns:    originPatterns(cfg.BaseURL),
	}

	if cfg.OpenAI.APIKey != "" {
		opts.Generator = ai.NewClient(ai.Config{
			APIKey:  cfg.OpenAI.APIKey,
			Model:   cfg.OpenAI.Model,
			BaseURL: cfg.OpenAI.BaseURL,
			Timeout: cfg.OpenAI.Timeout,
		})
	} else {
		logger.Warn("OPENAI_API_KEY not set, analyses use the built-in fallback")
	}

	if cfg.Stripe.Enabled() {
		opts.Billing = billing.NewClient(billing.Config{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			Prices: map[plan.Tier]string{
				plan.Starter: cfg.Stripe.StarterPriceID,
				plan.Pro:     cfg.Stripe.ProPriceID,
				plan.Agency:  cfg.Stripe.AgencyPriceID,
			},
			SuccessURL: cfg.BaseURL + "/success?session_id={CHECKOUT_SESSION_ID}",
			CancelURL:  cfg.BaseURL + "/pricing?canceled=true",
		})
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, billing disabled")
	}

	if cfg.S3.Enabled() {
		opts.Uploader = upload.New(upload.Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			PublicURL: cfg.S3.PublicURL,
		})
	}

	if cfg.Email.PostmarkToken != "" {
		opts.Mailer = email.NewClient(cfg.Email.PostmarkToken, cfg.Email.FromEmail, cfg.BaseURL)
	}

	return opts, nil
}

// originPatterns allows websocket handshakes from the configured site.
func originPatterns(baseURL string) []string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}
