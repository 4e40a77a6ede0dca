package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STORE_BACKEND", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, 3, cfg.LoanMaxAttempts)
	assert.Equal(t, "any", cfg.ReturnPolicy)
	assert.Equal(t, 12*time.Hour, cfg.SessionTTL)
	assert.Equal(t, "https://api.github.com", cfg.ContentAPI.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.ContentAPI.Timeout)
	assert.InDelta(t, 0.1, cfg.ChaosFaultRate, 1e-9)
	assert.False(t, cfg.IsProduction())
}

func TestLoadContentAPIRequiresRepository(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STORE_BACKEND", "contentapi")
	t.Setenv("CONTENT_API_OWNER", "")
	t.Setenv("CONTENT_API_REPO", "")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("CONTENT_API_OWNER", "acme")
	t.Setenv("CONTENT_API_REPO", "umbrella-data")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "acme", cfg.ContentAPI.Owner)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STORE_BACKEND", "memory")

	for key, value := range map[string]string{
		"SERVER_PORT":       "http",
		"LOAN_MAX_ATTEMPTS": "0",
		"STORE_BACKEND":     "postgres",
		"CHAOS_FAULT_RATE":  "lots",
	} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestProductionRequiresJWTSecret(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}
