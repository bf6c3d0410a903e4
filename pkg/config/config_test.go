package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PII_DETECTOR_URL", "http://detector:9000")

	cfg, sysCfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.RedisHost)
	assert.Equal(t, 6379, cfg.RedisPort)
	assert.Equal(t, "openai", cfg.LLMProvider)
	assert.Equal(t, 1985, cfg.ServicePort)
	assert.False(t, cfg.AdminEnabled)
	assert.Equal(t, "training_hub.db", cfg.AuditDBPath)

	assert.Equal(t, 600000, sysCfg.LLMTimeoutMs)
	assert.Equal(t, 3600, sysCfg.PIITTLSeconds)
	assert.Equal(t, 24, sysCfg.StatusTTLHours)
	assert.InDelta(t, 0.7, sysCfg.EntityScoreThreshold, 0.0001)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PII_DETECTOR_URL", "http://detector:9000")
	t.Setenv("REDIS_HOST", "cache.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("SERVICE_PORT", "8080")
	t.Setenv("ENABLE_ADMIN_BACKEND", "true")
	t.Setenv("LLM_PROVIDER", "ollama")
	t.Setenv("OLLAMA_BASE_URL", "http://localhost:11434")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")

	cfg, _, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "cache.internal", cfg.RedisHost)
	assert.Equal(t, 6380, cfg.RedisPort)
	assert.Equal(t, 8080, cfg.ServicePort)
	assert.True(t, cfg.AdminEnabled)
	assert.Equal(t, "ollama", cfg.LLMProvider)
	assert.Equal(t, "http://localhost:11434", cfg.OllamaBaseURL)
	assert.Equal(t, "123:abc", cfg.TelegramBotToken)
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	t.Setenv("PII_DETECTOR_URL", "http://detector:9000")
	t.Setenv("LLM_PROVIDER", "clippy")

	_, _, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clippy")
}

func TestLoadRequiresDetectorURL(t *testing.T) {
	t.Setenv("PII_DETECTOR_URL", "")

	_, _, err := Load()
	require.Error(t, err)
}

func TestInvalidIntFallsBack(t *testing.T) {
	t.Setenv("PII_DETECTOR_URL", "http://detector:9000")
	t.Setenv("REDIS_PORT", "not-a-number")

	cfg, _, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 6379, cfg.RedisPort)
}

func TestLoadSystemConfigOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "system.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"llm_timeout_ms": 1234, "log_level": "debug"}`), 0644))

	sysCfg := LoadSystemConfig(path)
	assert.Equal(t, 1234, sysCfg.LLMTimeoutMs)
	assert.Equal(t, "debug", sysCfg.LogLevel)
	// Untouched fields keep their defaults.
	assert.Equal(t, 100, sysCfg.InternalChannelBuffer)
}

func TestLoadSystemConfigMissingFileUsesDefaults(t *testing.T) {
	sysCfg := LoadSystemConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Equal(t, DefaultSystemConfig(), sysCfg)
}
