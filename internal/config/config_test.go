package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MagnunAVF/shortlinks/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_URL", "postgres://u:p@localhost:5432/links?sslmode=disable")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":5000", cfg.APIAddr)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, "analytics", cfg.ClickQueue)
	assert.Equal(t, "http://short.ly", cfg.ShortURLBase)
	assert.Equal(t, 10, cfg.RateLimitMax)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.Equal(t, time.Second, cfg.RetryDelay)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "development", cfg.Log.Env)
	assert.False(t, cfg.Production())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("CACHE_TTL", "30m")
	t.Setenv("CLICK_QUEUE_NAME", "visits")
	t.Setenv("ANALYTICS_WORKERS", "2")
	t.Setenv("SHORT_URL_BASE", "https://s.example")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("JWT_SECRET", "prod-secret")
	t.Setenv("ADMIN_USERS", "ops,root")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.True(t, cfg.Production())
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, 30*time.Minute, cfg.CacheTTL)
	assert.Equal(t, "visits", cfg.ClickQueue)
	assert.Equal(t, 2, cfg.AnalyticsWorkers)
	assert.Equal(t, "https://s.example", cfg.ShortURLBase)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "production", cfg.Log.Env)
	assert.Equal(t, []string{"ops", "root"}, cfg.AdminUsers)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"postgres without dsn": {"STORE_DRIVER": "postgres", "DB_URL": ""},
		"unknown driver":       {"STORE_DRIVER": "mongo"},
		"zero ttl":             {"STORE_DRIVER": "memory", "CACHE_TTL": "0s"},
		"no workers":           {"STORE_DRIVER": "memory", "ANALYTICS_WORKERS": "0"},
		"bad duration":         {"STORE_DRIVER": "memory", "TOKEN_TTL": "soon"},
		"default prod secret":  {"STORE_DRIVER": "memory", "APP_ENV": "production"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range vars {
				t.Setenv(k, v)
			}
			_, err := config.Load()
			assert.Error(t, err)
		})
	}
}
