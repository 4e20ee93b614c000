package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("durations convert from their units", func(t *testing.T) {
		cfg := &Config{
			AccessTokenTTLSeconds:  900,
			RefreshTokenTTLHours:   720,
			RewriteTimeoutSeconds:  30,
			PasswordTimeoutSeconds: 10,
		}
		assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL())
		assert.Equal(t, 30*24*time.Hour, cfg.RefreshTokenTTL())
		assert.Equal(t, 30*time.Second, cfg.RewriteTimeout())
		assert.Equal(t, 10*time.Second, cfg.PasswordUpdateTimeout())
	})

	t.Run("IsProduction", func(t *testing.T) {
		assert.True(t, (&Config{Environment: "production"}).IsProduction())
		assert.False(t, (&Config{Environment: "development"}).IsProduction())
	})
}

func validConfig() *Config {
	return &Config{
		RedisURL:               "rediss://localhost:6379",
		AccessTokenTTLSeconds:  900,
		RefreshTokenTTLHours:   720,
		RewriteTimeoutSeconds:  30,
		PasswordTimeoutSeconds: 10,
	}
}

func TestValidate(t *testing.T) {
	t.Run("development fills in secrets", func(t *testing.T) {
		cfg := validConfig()
		require.NoError(t, cfg.Validate(false))
		assert.NotEmpty(t, cfg.JWTSecret)
		assert.Equal(t, cfg.JWTSecret, cfg.SessionSecret)
	})

	t.Run("production requires strong secrets", func(t *testing.T) {
		cfg := validConfig()
		cfg.JWTSecret = "secret"
		err := cfg.Validate(true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "JWT_SECRET")
	})

	t.Run("production rejects weak session secret", func(t *testing.T) {
		cfg := validConfig()
		cfg.JWTSecret = strings.Repeat("j", 40)
		cfg.SessionSecret = "change-me"
		err := cfg.Validate(true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SESSION_SECRET")
	})

	t.Run("production accepts strong secrets", func(t *testing.T) {
		cfg := validConfig()
		cfg.JWTSecret = strings.Repeat("j", 40)
		cfg.SessionSecret = strings.Repeat("s", 40)
		assert.NoError(t, cfg.Validate(true))
	})

	t.Run("rejects non-positive timeouts", func(t *testing.T) {
		cfg := validConfig()
		cfg.RewriteTimeoutSeconds = 0
		assert.Error(t, cfg.Validate(false))
	})
}

func TestLoad(t *testing.T) {
	keys := []string{
		"PORT", "DATABASE_URL", "REDIS_URL", "LOG_LEVEL", "REWRITE_TIMEOUT_SECONDS",
		"OPENAI_MODEL", "MIGRATE_ON_START", "TIERS_FILE",
	}
	originalEnv := make(map[string]string, len(keys))
	for _, k := range keys {
		originalEnv[k] = os.Getenv(k)
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("loads config with defaults", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Unsetenv("PORT")
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("REWRITE_TIMEOUT_SECONDS")
		os.Unsetenv("OPENAI_MODEL")
		os.Unsetenv("MIGRATE_ON_START")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
		assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, 30, cfg.RewriteTimeoutSeconds)
		assert.Equal(t, "gpt-4o-mini", cfg.OpenAIModel)
		assert.True(t, cfg.MigrateOnStart)
	})

	t.Run("loads custom values", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("PORT", "3000")
		os.Setenv("LOG_LEVEL", "debug")
		os.Setenv("TIERS_FILE", "/etc/stylesync/tiers.yaml")
		os.Setenv("MIGRATE_ON_START", "false")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, "/etc/stylesync/tiers.yaml", cfg.TiersFile)
		assert.False(t, cfg.MigrateOnStart)
	})

	t.Run("fails without required DATABASE_URL", func(t *testing.T) {
		os.Unsetenv("DATABASE_URL")
		os.Setenv("REDIS_URL", "redis://localhost:6379")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("fails without required REDIS_URL", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Unsetenv("REDIS_URL")

		_, err := Load()
		assert.Error(t, err)
	})
}
