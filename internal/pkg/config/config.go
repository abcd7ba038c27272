package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/brandbridge/brandbridge/internal/pkg/apperror"
	"github.com/brandbridge/brandbridge/internal/pkg/env"
)

type AppConfig struct {
	Host          string
	Port          string
	Env           string
	PublicBaseURL string
	AdminUser     string
	AdminPassword string
	DocsFile      string
	// RateLimitMax requests per RateLimitWindow and client on the authenticated API.
	RateLimitMax    int
	RateLimitWindow time.Duration
}

// Credentials is one database login. The service tier performs mutations,
// the restricted tier serves client-initiated reads.
type Credentials struct {
	User     string
	Password string
}

type DatabaseConfig struct {
	Host       string
	Port       string
	Name       string
	Service    Credentials
	Restricted Credentials
}

type CacheConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
}

type AuthConfig struct {
	Issuer        string
	Audience      string
	HMACSecret    string
	PublicKeyFile string
	PublicKeyPEM  []byte
}

type LedgerConfig struct {
	CampaignCost      int64
	ReconcileInterval time.Duration
}

type JobQueueConfig struct {
	Workers int
}

type MailConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Sender   string
}

type AuditConfig struct {
	Bucket          string
	Region          string
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

// Enabled reports whether an audit bucket is configured.
func (a AuditConfig) Enabled() bool {
	return a.Bucket != "" && a.AccessKeyID != "" && a.SecretAccessKey != ""
}

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Cache    CacheConfig
	Stripe   StripeConfig
	Auth     AuthConfig
	Ledger   LedgerConfig
	JobQueue JobQueueConfig
	Mail     MailConfig
	Audit    AuditConfig
}

// Load reads configuration from the environment and fails with a
// configuration error naming every missing required key.
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Host:            env.GetEnv("APP_HOST", "localhost"),
			Port:            env.GetEnv("APP_PORT", "4000"),
			Env:             env.GetEnv("APP_ENV", "prod"),
			PublicBaseURL:   strings.TrimRight(env.GetEnv("PUBLIC_BASE_URL", ""), "/"),
			AdminUser:       env.GetEnv("ADMIN_USER", ""),
			AdminPassword:   env.GetEnv("ADMIN_PASSWORD", ""),
			DocsFile:        env.GetEnv("OPENAPI_FILE", "public/docs/v1/openapi.yml"),
			RateLimitMax:    env.GetInt("RATE_LIMIT_MAX", 60),
			RateLimitWindow: time.Duration(env.GetInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
		},
		Database: DatabaseFromEnv(),
		Cache: CacheConfig{
			Host:     env.GetEnv("CACHE_HOST", "localhost"),
			Port:     env.GetEnv("CACHE_PORT", "6379"),
			Password: env.GetEnv("CACHE_PASSWORD", ""),
			DB:       env.GetInt("CACHE_DB", 0),
		},
		Stripe: StripeConfig{
			SecretKey:     env.GetEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
			Currency:      strings.ToLower(env.GetEnv("STRIPE_CURRENCY", "usd")),
		},
		Auth: AuthConfig{
			Issuer:        env.GetEnv("AUTH_ISSUER", ""),
			Audience:      env.GetEnv("AUTH_AUDIENCE", ""),
			HMACSecret:    env.GetEnv("AUTH_JWT_SECRET", ""),
			PublicKeyFile: env.GetEnv("AUTH_JWT_PUBLIC_KEY_FILE", ""),
		},
		Ledger: LedgerConfig{
			CampaignCost:      int64(env.GetInt("LEDGER_CAMPAIGN_COST", 100)),
			ReconcileInterval: time.Duration(env.GetInt("LEDGER_RECONCILE_MINUTES", 60)) * time.Minute,
		},
		JobQueue: JobQueueConfig{
			Workers: env.GetInt("JOBQUEUE_WORKERS", 3),
		},
		Mail: MailConfig{
			Host:     env.GetEnv("SMTP_HOST", ""),
			Port:     env.GetEnv("SMTP_PORT", "587"),
			Username: env.GetEnv("SMTP_USERNAME", ""),
			Password: env.GetEnv("SMTP_PASSWORD", ""),
			Sender:   env.GetEnv("SMTP_SENDER", ""),
		},
		Audit: AuditFromEnv(),
	}

	if cfg.Auth.PublicKeyFile != "" {
		pem, err := os.ReadFile(cfg.Auth.PublicKeyFile)
		if err != nil {
			return nil, apperror.Configuration(fmt.Sprintf("AUTH_JWT_PUBLIC_KEY_FILE is not readable: %v", err))
		}
		cfg.Auth.PublicKeyPEM = pem
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DatabaseFromEnv reads the store endpoint and both credential tiers.
func DatabaseFromEnv() DatabaseConfig {
	return DatabaseConfig{
		Host: env.GetEnv("DB_HOST", "127.0.0.1"),
		Port: env.GetEnv("DB_PORT", "3306"),
		Name: env.GetEnv("DB_NAME", ""),
		Service: Credentials{
			User:     env.GetEnv("DB_USER", ""),
			Password: env.GetEnv("DB_PASSWORD", ""),
		},
		Restricted: Credentials{
			User:     env.GetEnv("DB_READ_USER", ""),
			Password: env.GetEnv("DB_READ_PASSWORD", ""),
		},
	}
}

// AuditFromEnv reads the ledger export bucket settings.
func AuditFromEnv() AuditConfig {
	return AuditConfig{
		Bucket:          env.GetEnv("AUDIT_S3_BUCKET", ""),
		Region:          env.GetEnv("AUDIT_S3_REGION", "us-east-1"),
		EndpointURL:     env.GetEnv("AUDIT_S3_ENDPOINT", ""),
		AccessKeyID:     env.GetEnv("AUDIT_S3_ACCESS_KEY", ""),
		SecretAccessKey: env.GetEnv("AUDIT_S3_SECRET_KEY", ""),
		Prefix:          env.GetEnv("AUDIT_S3_PREFIX", "ledger"),
	}
}

// Validate checks required settings.
func (c *Config) Validate() error {
	var missing []string
	require := func(key, val string) {
		if strings.TrimSpace(val) == "" {
			missing = append(missing, key)
		}
	}

	require("DB_NAME", c.Database.Name)
	require("DB_USER", c.Database.Service.User)
	require("DB_PASSWORD", c.Database.Service.Password)
	require("DB_READ_USER", c.Database.Restricted.User)
	require("DB_READ_PASSWORD", c.Database.Restricted.Password)
	require("STRIPE_SECRET_KEY", c.Stripe.SecretKey)
	require("STRIPE_WEBHOOK_SECRET", c.Stripe.WebhookSecret)
	require("PUBLIC_BASE_URL", c.App.PublicBaseURL)
	if c.Auth.HMACSecret == "" && len(c.Auth.PublicKeyPEM) == 0 {
		missing = append(missing, "AUTH_JWT_SECRET or AUTH_JWT_PUBLIC_KEY_FILE")
	}

	if len(missing) > 0 {
		return apperror.Configuration("missing required configuration: " + strings.Join(missing, ", "))
	}

	u, err := url.Parse(c.App.PublicBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return apperror.Configuration("PUBLIC_BASE_URL must be an absolute URL")
	}
	if c.Ledger.CampaignCost < 0 {
		return apperror.Configuration("LEDGER_CAMPAIGN_COST must not be negative")
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.App.Host, c.App.Port)
}

// IsDev reports a development environment.
func (c *Config) IsDev() bool {
	return c.App.Env == "dev"
}
