package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(ConfigPathEnv, "")
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("ENVIRONMENT", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "development", cfg.Environment)
	assert.True(t, cfg.EnableWebhookAudit)
	assert.Equal(t, "logs/webhooks", cfg.WebhookAuditDir)
	assert.Equal(t, 30, cfg.WebhookAuditRetentionDays)
	assert.Equal(t, 30*time.Second, cfg.AgentTimeout())
	assert.Equal(t, 168*time.Hour, cfg.DeliveryTTL())
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "delta-qa.toml")
	require.NoError(t, os.WriteFile(path, []byte("port = 9000\nlog_level = \"debug\"\nagent_timeout = 12\n"), 0o600))

	t.Setenv("PORT", "9100")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("GITHUB_WEBHOOK_SECRET", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "s3cret", cfg.GitHubWebhookSecret)
	assert.Equal(t, 12*time.Second, cfg.AgentTimeout())
}

func TestValidate(t *testing.T) {
	base := Config{
		GitHubWebhookSecret: "secret",
		Port:                8000,
		LogLevel:            "INFO",
		Environment:         "production",
		AgentTimeoutSeconds: 30,
		FetchTimeoutSeconds: 10,
		PipelineWorkers:     2,
		PipelineQueueSize:   8,
	}
	require.NoError(t, base.Validate(true))

	noSecret := base
	noSecret.GitHubWebhookSecret = ""
	assert.Error(t, noSecret.Validate(true))
	assert.NoError(t, noSecret.Validate(false))

	badEnv := base
	badEnv.Environment = "qa"
	assert.Error(t, badEnv.Validate(false))

	llmNoKey := base
	llmNoKey.AnalysisMode = ModeLLM
	assert.Error(t, llmNoKey.Validate(false))

	durable := base
	durable.DurableQueue = true
	assert.Error(t, durable.Validate(false))

	shortVisibility := base
	shortVisibility.QueueVisibilitySeconds = 60
	assert.Error(t, shortVisibility.Validate(false))

	longVisibility := base
	longVisibility.QueueVisibilitySeconds = 600
	assert.NoError(t, longVisibility.Validate(false))
}

func TestQueueVisibilityExceedsPipelineBudget(t *testing.T) {
	cfg := Config{AgentTimeoutSeconds: 30, FetchTimeoutSeconds: 15}
	assert.Equal(t, 105*time.Second+2*time.Minute, cfg.QueueVisibility())

	cfg.QueueVisibilitySeconds = 900
	assert.Equal(t, 15*time.Minute, cfg.QueueVisibility())
}

func TestMode(t *testing.T) {
	assert.Equal(t, ModeRules, Config{}.Mode())
	assert.Equal(t, ModeLLM, Config{AnthropicAPIKey: "k"}.Mode())
	assert.Equal(t, ModeRules, Config{AnthropicAPIKey: "k", AnalysisMode: ModeRules}.Mode())
}
