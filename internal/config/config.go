// Package config loads service configuration from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config is the top-level service configuration.
type Config struct {
	Env       string
	Port      string
	BaseURL   string
	LogLevel  string
	LogFormat string

	Database  DatabaseConfig
	Auth      AuthConfig
	OpenAI    OpenAIConfig
	Stripe    StripeConfig
	Email     EmailConfig
	S3        S3Config
	Backup    BackupConfig
	RateLimit RateLimitConfig
}

// DatabaseConfig selects the storage driver.
type DatabaseConfig struct {
	Driver string // "sqlite" (default) or "postgres"
	DSN    string
}

// AuthConfig configures bearer-token verification. Either a shared HS256
// secret or a JWKS URL must be set.
type AuthConfig struct {
	JWTSecret string
	JWKSURL   string
	Issuer    string
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

type StripeConfig struct {
	SecretKey      string
	WebhookSecret  string
	StarterPriceID string
	ProPriceID     string
	AgencyPriceID  string
}

// Enabled reports whether billing endpoints should be mounted.
func (c StripeConfig) Enabled() bool {
	return c.SecretKey != ""
}

type EmailConfig struct {
	PostmarkToken string
	FromEmail     string
}

// S3Config points logo uploads at an S3-compatible bucket.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	PublicURL string
}

func (c S3Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// BackupConfig controls database snapshots, stored in the S3 bucket.
type BackupConfig struct {
	Passphrase    string
	Prefix        string
	RetentionDays int
}

// RateLimitConfig bounds analysis submissions per account.
type RateLimitConfig struct {
	AnalysesPerMinute int
}

// Load reads envFile (if it exists) into the process environment and then
// builds a Config from it. Existing environment variables win.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := FromEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a Config using getenv, applying defaults.
func FromEnv(getenv func(string) string) *Config {
	get := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}

	port := get("RECIPERANK_PORT", "8080")

	return &Config{
		Env:       get("RECIPERANK_ENV", EnvDevelopment),
		Port:      port,
		BaseURL:   strings.TrimRight(get("RECIPERANK_BASE_URL", "http://localhost:"+port), "/"),
		LogLevel:  get("RECIPERANK_LOG_LEVEL", "info"),
		LogFormat: get("RECIPERANK_LOG_FORMAT", "text"),
		Database: DatabaseConfig{
			Driver: get("RECIPERANK_DB_DRIVER", "sqlite"),
			DSN:    get("RECIPERANK_DB_DSN", "reciperank.db"),
		},
		Auth: AuthConfig{
			JWTSecret: getenv("RECIPERANK_AUTH_JWT_SECRET"),
			JWKSURL:   getenv("RECIPERANK_AUTH_JWKS_URL"),
			Issuer:    getenv("RECIPERANK_AUTH_ISSUER"),
		},
		OpenAI: OpenAIConfig{
			APIKey:  getenv("OPENAI_API_KEY"),
			Model:   get("OPENAI_MODEL", "gpt-4o-mini"),
			BaseURL: getenv("OPENAI_BASE_URL"),
			Timeout: durationOr(getenv("OPENAI_TIMEOUT"), 30*time.Second),
		},
		Stripe: StripeConfig{
			SecretKey:      getenv("STRIPE_SECRET_KEY"),
			WebhookSecret:  getenv("STRIPE_WEBHOOK_SECRET"),
			StarterPriceID: getenv("STRIPE_STARTER_PRICE_ID"),
			ProPriceID:     getenv("STRIPE_PRO_PRICE_ID"),
			AgencyPriceID:  getenv("STRIPE_AGENCY_PRICE_ID"),
		},
		Email: EmailConfig{
			PostmarkToken: getenv("POSTMARK_TOKEN"),
			FromEmail:     get("FROM_EMAIL", "noreply@reciperank.app"),
		},
		S3: S3Config{
			Endpoint:  getenv("S3_ENDPOINT"),
			Region:    get("S3_REGION", "us-east-1"),
			Bucket:    getenv("S3_BUCKET"),
			AccessKey: getenv("S3_ACCESS_KEY"),
			SecretKey: getenv("S3_SECRET_KEY"),
			PublicURL: getenv("S3_PUBLIC_URL"),
		},
		Backup: BackupConfig{
			Passphrase:    getenv("RECIPERANK_BACKUP_PASSPHRASE"),
			Prefix:        get("RECIPERANK_BACKUP_PREFIX", "backups/"),
			RetentionDays: intOr(getenv("RECIPERANK_BACKUP_RETENTION_DAYS"), 30),
		},
		RateLimit: RateLimitConfig{
			AnalysesPerMinute: intOr(getenv("RECIPERANK_ANALYSES_PER_MINUTE"), 10),
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("RECIPERANK_DB_DRIVER must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("RECIPERANK_DB_DSN is required")
	}
	if c.Auth.JWTSecret == "" && c.Auth.JWKSURL == "" {
		return errors.New("one of RECIPERANK_AUTH_JWT_SECRET or RECIPERANK_AUTH_JWKS_URL is required")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 && !c.IsDevelopment() {
		return errors.New("RECIPERANK_AUTH_JWT_SECRET must be at least 32 characters outside development")
	}
	if c.Stripe.Enabled() && c.Stripe.WebhookSecret == "" {
		return errors.New("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set")
	}
	return nil
}

// IsDevelopment reports whether error details may be exposed to clients.
func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

func durationOr(s string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil && d > 0 {
		return d
	}
	return fallback
}

func intOr(s string, fallback int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && n > 0 {
		return n
	}
	return fallback
}
