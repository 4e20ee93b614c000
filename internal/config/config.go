package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	JWTSecret     string `env:"JWT_SECRET"`
	SessionSecret string `env:"SESSION_SECRET"`

	AccessTokenTTLSeconds  int `env:"ACCESS_TOKEN_TTL_SECONDS" envDefault:"900"`
	RefreshTokenTTLHours   int `env:"REFRESH_TOKEN_TTL_HOURS" envDefault:"720"`
	RewriteTimeoutSeconds  int `env:"REWRITE_TIMEOUT_SECONDS" envDefault:"30"`
	PasswordTimeoutSeconds int `env:"PASSWORD_UPDATE_TIMEOUT_SECONDS" envDefault:"10"`

	OpenAIAPIKey     string  `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string  `env:"OPENAI_BASE_URL"`
	OpenAIModel      string  `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAIRatePerSec float64 `env:"OPENAI_RATE_PER_SEC" envDefault:"5"`

	TiersFile      string `env:"TIERS_FILE"`
	MigrateOnStart bool   `env:"MIGRATE_ON_START" envDefault:"true"`

	RewriteRateLimitPerMin int `env:"REWRITE_RATE_LIMIT_PER_MIN" envDefault:"20"`
	AuthRateLimitPerMin    int `env:"AUTH_RATE_LIMIT_PER_MIN" envDefault:"5"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLSeconds) * time.Second
}

func (c *Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTLHours) * time.Hour
}

func (c *Config) RewriteTimeout() time.Duration {
	return time.Duration(c.RewriteTimeoutSeconds) * time.Second
}

func (c *Config) PasswordUpdateTimeout() time.Duration {
	return time.Duration(c.PasswordTimeoutSeconds) * time.Second
}

func (c *Config) Validate(isProduction bool) error {
	if c.AccessTokenTTLSeconds <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_TTL_SECONDS must be positive")
	}
	if c.RefreshTokenTTLHours <= 0 {
		return fmt.Errorf("REFRESH_TOKEN_TTL_HOURS must be positive")
	}
	if c.RewriteTimeoutSeconds <= 0 || c.PasswordTimeoutSeconds <= 0 {
		return fmt.Errorf("REWRITE_TIMEOUT_SECONDS and PASSWORD_UPDATE_TIMEOUT_SECONDS must be positive")
	}

	if isProduction {
		if err := validateSecret("JWT_SECRET", c.JWTSecret); err != nil {
			return err
		}
		if err := validateSecret("SESSION_SECRET", c.SessionSecret); err != nil {
			return err
		}

		if c.OpenAIAPIKey == "" {
			log.Warn().Msg("OPENAI_API_KEY is empty in production: falling back to the heuristic rewriter")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		return nil
	}

	if c.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET is empty: using an insecure development secret")
		c.JWTSecret = "dev-secret-change-me"
	}
	if c.SessionSecret == "" {
		c.SessionSecret = c.JWTSecret
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

// Load reads an optional .env file and then parses the environment.
// Variables already set in the environment win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
