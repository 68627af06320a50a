package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("PORT", "")
	t.Setenv("AI_BACKENDS", "")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []byte("test-secret"), cfg.JWT.Secret)
	assert.Equal(t, 24*time.Hour, cfg.JWT.ExpiresIn)
	assert.Equal(t, 5*time.Second, cfg.AI.Timeout)
	assert.Equal(t, 20, cfg.AI.RatePerMinute)
	assert.Empty(t, cfg.Database.URL)
	require.Len(t, cfg.AI.Backends, 6)
	assert.Equal(t, AIBackend{Name: "chatbot", QueryParam: "query"}, cfg.AI.Backends[0])
	assert.Equal(t, "gpt4", cfg.AI.Backends[5].Name)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("PORT", "9000")
	t.Setenv("AI_TIMEOUT", "2s")
	t.Setenv("WS_RATE_BURST", "3")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.AI.Timeout)
	assert.Equal(t, 3, cfg.WebSocket.RateBurst)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.AllowedOrigins)
}

func TestLoadRejectsMissingSecretAndBadValues(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("AI_TIMEOUT", "soon")
	t.Setenv("AI_RATE_LIMIT", "many")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "AI_TIMEOUT")
	assert.Contains(t, err.Error(), "AI_RATE_LIMIT")
}

func TestParseAIBackends(t *testing.T) {
	backends, err := ParseAIBackends("primary:q, backup")
	require.NoError(t, err)
	assert.Equal(t, []AIBackend{{Name: "primary", QueryParam: "q"}, {Name: "backup", QueryParam: "text"}}, backends)

	_, err = ParseAIBackends(" , ")
	assert.Error(t, err)

	_, err = ParseAIBackends(":text")
	assert.Error(t, err)
}
