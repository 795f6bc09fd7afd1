// Package config loads service configuration from defaults, an optional TOML
// file, and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	ModeRules = "rules"
	ModeLLM   = "llm"

	// ConfigPathEnv names an optional TOML file when no path is passed to Load.
	ConfigPathEnv = "DELTA_QA_CONFIG"

	defaultConfigFile = "delta-qa.toml"
)

// Config is the full runtime configuration. Keys match the upper-cased
// environment variable names.
type Config struct {
	GitHubWebhookSecret     string `koanf:"github_webhook_secret"`
	GitHubToken             string `koanf:"github_token"`
	GitHubAPIURL            string `koanf:"github_api_url"`
	GitHubAppID             int64  `koanf:"github_app_id"`
	GitHubAppInstallationID int64  `koanf:"github_app_installation_id"`
	GitHubAppPrivateKeyPath string `koanf:"github_app_private_key_path"`
	PostPRComment           bool   `koanf:"post_pr_comment"`

	AnthropicAPIKey  string  `koanf:"anthropic_api_key"`
	AnalysisMode     string  `koanf:"analysis_mode"`
	LLMModel         string  `koanf:"llm_model"`
	LLMTemperature   float64 `koanf:"llm_temperature"`
	LLMMaxTokens     int     `koanf:"llm_max_tokens"`
	LLMRatePerSecond float64 `koanf:"llm_rate_per_second"`

	Port        int    `koanf:"port"`
	LogLevel    string `koanf:"log_level"`
	Environment string `koanf:"environment"`
	Debug       bool   `koanf:"debug"`

	DatabaseURL      string `koanf:"database_url"`
	DeliveryTTLHours int    `koanf:"delivery_ttl_hours"`
	DurableQueue     bool   `koanf:"durable_queue"`

	EnableWebhookAudit        bool   `koanf:"enable_webhook_audit"`
	WebhookAuditDir           string `koanf:"webhook_audit_dir"`
	WebhookAuditRetentionDays int    `koanf:"webhook_audit_retention_days"`
	ArchiveS3Bucket           string `koanf:"archive_s3_bucket"`
	ArchiveS3Prefix           string `koanf:"archive_s3_prefix"`
	ArchiveS3Region           string `koanf:"archive_s3_region"`

	EnableMetrics bool `koanf:"enable_metrics"`

	AgentTimeoutSeconds int `koanf:"agent_timeout"`
	FetchTimeoutSeconds int `koanf:"fetch_timeout"`
	PipelineWorkers     int `koanf:"pipeline_workers"`
	PipelineQueueSize   int `koanf:"pipeline_queue_size"`
	MaxDiffBytes        int `koanf:"max_diff_bytes"`
	// QueueVisibilitySeconds is the durable queue lock window. Zero derives it
	// from the stage timeouts.
	QueueVisibilitySeconds int `koanf:"queue_visibility_seconds"`
}

// Defaults returns the baseline configuration values.
func Defaults() map[string]any {
	return map[string]any{
		"github_api_url":               "",
		"post_pr_comment":              false,
		"analysis_mode":                "",
		"llm_model":                    "claude-sonnet-4-5",
		"llm_temperature":              0.7,
		"llm_max_tokens":               4096,
		"llm_rate_per_second":          2.0,
		"port":                         8000,
		"log_level":                    "INFO",
		"environment":                  "development",
		"debug":                        false,
		"delivery_ttl_hours":           168,
		"durable_queue":                false,
		"enable_webhook_audit":         true,
		"webhook_audit_dir":            "logs/webhooks",
		"webhook_audit_retention_days": 30,
		"enable_metrics":               true,
		"agent_timeout":                30,
		"fetch_timeout":                15,
		"pipeline_workers":             4,
		"pipeline_queue_size":          64,
		"max_diff_bytes":               2 << 20,
		"queue_visibility_seconds":     0,
	}
}

var knownKeys = func() map[string]struct{} {
	keys := map[string]struct{}{
		"github_webhook_secret":       {},
		"github_token":                {},
		"github_app_id":               {},
		"github_app_installation_id":  {},
		"github_app_private_key_path": {},
		"anthropic_api_key":           {},
		"database_url":                {},
		"archive_s3_bucket":           {},
		"archive_s3_prefix":           {},
		"archive_s3_region":           {},
	}
	for key := range Defaults() {
		keys[key] = struct{}{}
	}
	return keys
}()

// Load builds a Config. path may be empty; then DELTA_QA_CONFIG and
// ./delta-qa.toml are tried. Non-empty environment variables override file
// values.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	} else if _, err := os.Stat(defaultConfigFile); err == nil {
		if err := k.Load(file.Provider(defaultConfigFile), toml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", defaultConfigFile, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", func(name, value string) (string, interface{}) {
		key := strings.ToLower(name)
		if _, ok := knownKeys[key]; !ok || value == "" {
			return "", nil
		}
		return key, value
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.LogLevel = strings.ToUpper(strings.TrimSpace(cfg.LogLevel))
	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	cfg.AnalysisMode = strings.ToLower(strings.TrimSpace(cfg.AnalysisMode))
	return cfg, nil
}

// Validate checks value ranges. requireSecret is set by commands that accept
// webhooks.
func (c Config) Validate(requireSecret bool) error {
	var errs []error
	if requireSecret && strings.TrimSpace(c.GitHubWebhookSecret) == "" {
		errs = append(errs, errors.New("GITHUB_WEBHOOK_SECRET is required"))
	}
	switch c.Environment {
	case "development", "staging", "production":
	default:
		errs = append(errs, fmt.Errorf("ENVIRONMENT must be development, staging or production, got %q", c.Environment))
	}
	switch c.LogLevel {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be DEBUG, INFO, WARNING or ERROR, got %q", c.LogLevel))
	}
	switch c.AnalysisMode {
	case "", ModeRules, ModeLLM:
	default:
		errs = append(errs, fmt.Errorf("ANALYSIS_MODE must be rules or llm, got %q", c.AnalysisMode))
	}
	if c.AnalysisMode == ModeLLM && c.AnthropicAPIKey == "" {
		errs = append(errs, errors.New("ANTHROPIC_API_KEY is required when ANALYSIS_MODE=llm"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}
	if c.AgentTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("AGENT_TIMEOUT must be positive"))
	}
	if c.FetchTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("FETCH_TIMEOUT must be positive"))
	}
	if c.PipelineWorkers <= 0 || c.PipelineQueueSize <= 0 {
		errs = append(errs, errors.New("PIPELINE_WORKERS and PIPELINE_QUEUE_SIZE must be positive"))
	}
	if c.QueueVisibilitySeconds < 0 {
		errs = append(errs, errors.New("QUEUE_VISIBILITY_SECONDS must not be negative"))
	} else if c.QueueVisibilitySeconds > 0 && c.QueueVisibility() <= c.pipelineBudget() {
		errs = append(errs, fmt.Errorf("QUEUE_VISIBILITY_SECONDS must exceed the pipeline budget of %s", c.pipelineBudget()))
	}
	if c.DurableQueue && c.DatabaseURL == "" {
		errs = append(errs, errors.New("DURABLE_QUEUE requires DATABASE_URL"))
	}
	if (c.GitHubAppID != 0) != (c.GitHubAppInstallationID != 0) {
		errs = append(errs, errors.New("GITHUB_APP_ID and GITHUB_APP_INSTALLATION_ID must be set together"))
	}
	return errors.Join(errs...)
}

// Mode resolves the analysis mode: an explicit setting wins, otherwise the
// LLM is used when an API key is present.
func (c Config) Mode() string {
	if c.AnalysisMode != "" {
		return c.AnalysisMode
	}
	if c.AnthropicAPIKey != "" {
		return ModeLLM
	}
	return ModeRules
}

func (c Config) AgentTimeout() time.Duration {
	return time.Duration(c.AgentTimeoutSeconds) * time.Second
}

func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// pipelineBudget is the longest a single analysis can run: the fetch plus
// three agent stages.
func (c Config) pipelineBudget() time.Duration {
	return c.FetchTimeout() + 3*c.AgentTimeout()
}

// QueueVisibility is how long a claimed queue item stays hidden from other
// pollers between lock extensions.
func (c Config) QueueVisibility() time.Duration {
	if c.QueueVisibilitySeconds > 0 {
		return time.Duration(c.QueueVisibilitySeconds) * time.Second
	}
	return c.pipelineBudget() + 2*time.Minute
}

func (c Config) DeliveryTTL() time.Duration {
	return time.Duration(c.DeliveryTTLHours) * time.Hour
}

func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// UsesGitHubApp reports whether GitHub App credentials are configured.
func (c Config) UsesGitHubApp() bool {
	return c.GitHubAppID != 0 && c.GitHubAppInstallationID != 0
}
