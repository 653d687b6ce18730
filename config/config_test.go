package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRelay_Defaults(t *testing.T) {
	cfg, err := LoadRelay()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 100, cfg.MaxStreams)
	assert.Equal(t, []string{"*"}, cfg.AllowOrigins)
	assert.Equal(t, 5000, cfg.MaxMessageLength)

	pacing := cfg.Pacing.Config()
	assert.Equal(t, 15*time.Millisecond, pacing.CharDelay)
	assert.Equal(t, 1, pacing.BatchSize)
	assert.Equal(t, 3, pacing.MinAnimatedLength)
	assert.True(t, pacing.Adaptive)
}

func TestLoadRelay_FromEnvironment(t *testing.T) {
	t.Setenv("UPSTREAM_API_URL", "http://backend:8090")
	t.Setenv("CORS_ALLOW_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("PACING_CHAR_DELAY", "0s")
	t.Setenv("PACING_BATCH_SIZE", "0")

	cfg, err := LoadRelay()
	require.NoError(t, err)

	assert.Equal(t, "http://backend:8090", cfg.UpstreamAPIURL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowOrigins)
	assert.Equal(t, time.Duration(0), cfg.Pacing.Config().CharDelay)
	assert.Equal(t, 1, cfg.Pacing.Config().BatchSize)
}

func TestLoadRelay_Invalid(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_STREAMS", "0")
	_, err := LoadRelay()
	assert.Error(t, err)

	t.Setenv("MAX_CONCURRENT_STREAMS", "lots")
	_, err = LoadRelay()
	assert.ErrorContains(t, err, "parse relay config")
}

func TestLoadBackend(t *testing.T) {
	cfg, err := LoadBackend()
	require.NoError(t, err)
	assert.Equal(t, "echo", cfg.LLMProvider)
	assert.Equal(t, 5, cfg.Reply().QuestionBudget)
	assert.Equal(t, 1000, cfg.Reply().MaxConversations)

	t.Setenv("LLM_PROVIDER", "gemini")
	_, err = LoadBackend()
	assert.ErrorContains(t, err, "GEMINI_API_KEY")

	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("QUESTION_BUDGET", "2")
	cfg, err = LoadBackend()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Reply().QuestionBudget)

	t.Setenv("LLM_PROVIDER", "oracle")
	_, err = LoadBackend()
	assert.ErrorContains(t, err, "unknown LLM_PROVIDER")
}
