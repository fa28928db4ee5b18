package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("NATS_URL", "")

	cfg := Load()
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.OpenRouterBaseURL)
	assert.Equal(t, 60*time.Second, cfg.UpstreamTimeout)
	assert.Equal(t, 60*time.Second, cfg.StreamIdleTimeout)
	assert.Zero(t, cfg.ServerWriteTimeout)
	assert.Empty(t, cfg.NATSURL)

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENROUTER_API_KEY")
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")
	t.Setenv("UPSTREAM_TIMEOUT", "15s")
	t.Setenv("STREAM_IDLE_TIMEOUT", "not-a-duration")
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("MAX_BODY_BYTES", "2048")

	cfg := Load()
	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, 15*time.Second, cfg.UpstreamTimeout)
	assert.Equal(t, 60*time.Second, cfg.StreamIdleTimeout)
	assert.True(t, cfg.TracingEnabled)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(2048), cfg.MaxBodyBytes)
	assert.NoError(t, cfg.Validate())
}

func TestValidate_Timeouts(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "sk")
	cfg := Load()
	cfg.StreamIdleTimeout = 0
	assert.ErrorContains(t, cfg.Validate(), "STREAM_IDLE_TIMEOUT")
}
