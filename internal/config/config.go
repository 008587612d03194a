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

// Config holds all configuration for the PhotoTune server.
// It is built once at startup and passed into each component's constructor.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Webhook  WebhookConfig
	Astria   AstriaConfig
	Pricing  PricingConfig
	Events   EventsConfig
}

type ServerConfig struct {
	Port int
	Env  string
	// PublicURL is the externally reachable base URL; provider callbacks are built on it.
	PublicURL            string
	SubmitLimitPerMinute int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type AuthConfig struct {
	// JWTSecret verifies HS256 session tokens issued by the identity provider.
	JWTSecret string
}

type WebhookConfig struct {
	Secret string
}

type AstriaConfig struct {
	APIKey        string
	BaseURL       string
	Timeout       time.Duration
	TestMode      bool
	Branch        string
	TuneType      string
	PackQueryType string
}

type PricingConfig struct {
	// Enabled turns on the credit check and the per-job debit.
	Enabled        bool
	CreditsPerTune int
}

type EventsConfig struct {
	// AMQPURL is optional; events are dropped when it is empty.
	AMQPURL  string
	Exchange string
}

var validTuneTypes = map[string]bool{
	"tune":  true,
	"packs": true,
}

var validPackQueryTypes = map[string]bool{
	"users":   true,
	"gallery": true,
	"both":    true,
}

// Load reads configuration from environment variables and returns a validated Config.
// A .env file in the working directory is loaded first if present; real environment
// variables take precedence over it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:                 envInt("PHOTOTUNE_PORT", 8080),
			Env:                  envString("PHOTOTUNE_ENV", "development"),
			PublicURL:            strings.TrimRight(os.Getenv("APP_URL"), "/"),
			SubmitLimitPerMinute: envInt("SUBMIT_RATE_LIMIT_PER_MIN", 10),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("AUTH_JWT_SECRET"),
		},
		Webhook: WebhookConfig{
			Secret: os.Getenv("APP_WEBHOOK_SECRET"),
		},
		Astria: AstriaConfig{
			APIKey:        os.Getenv("ASTRIA_API_KEY"),
			BaseURL:       strings.TrimRight(envString("ASTRIA_BASE_URL", "https://api.astria.ai"), "/"),
			Timeout:       envDurationSecs("ASTRIA_TIMEOUT_SECS", 30*time.Second),
			TestMode:      envBool("ASTRIA_TEST_MODE", false),
			Branch:        envString("ASTRIA_BRANCH", "fast"),
			TuneType:      envString("TUNE_TYPE", "tune"),
			PackQueryType: envString("PACK_QUERY_TYPE", "users"),
		},
		Pricing: PricingConfig{
			Enabled:        envBool("PRICING_ENABLED", false),
			CreditsPerTune: envInt("CREDITS_PER_TUNE", 1),
		},
		Events: EventsConfig{
			AMQPURL:  os.Getenv("AMQP_URL"),
			Exchange: envString("AMQP_EXCHANGE", "phototune.events"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.PublicURL == "" {
		return fmt.Errorf("APP_URL is required")
	}
	if !strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://") {
		return fmt.Errorf("APP_URL must start with http:// or https://, got %q", c.Server.PublicURL)
	}

	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required")
	}

	if c.Webhook.Secret == "" {
		return fmt.Errorf("APP_WEBHOOK_SECRET is required")
	}

	if c.Astria.APIKey == "" {
		return fmt.Errorf("ASTRIA_API_KEY is required")
	}
	if !validTuneTypes[c.Astria.TuneType] {
		return fmt.Errorf("TUNE_TYPE must be one of tune, packs; got %q", c.Astria.TuneType)
	}
	if !validPackQueryTypes[c.Astria.PackQueryType] {
		return fmt.Errorf("PACK_QUERY_TYPE must be one of users, gallery, both; got %q", c.Astria.PackQueryType)
	}

	if c.Pricing.CreditsPerTune < 1 {
		return fmt.Errorf("CREDITS_PER_TUNE must be at least 1, got %d", c.Pricing.CreditsPerTune)
	}

	return nil
}

// EffectiveBranch returns the provider training branch, forced to "fast" in test mode.
func (c AstriaConfig) EffectiveBranch() string {
	if c.TestMode {
		return "fast"
	}
	return c.Branch
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
