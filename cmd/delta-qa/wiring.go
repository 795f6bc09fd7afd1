package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/urfave/cli/v2"

	"github.com/izavyalov-dev/delta-qa/analysis"
	"github.com/izavyalov-dev/delta-qa/analyzer"
	"github.com/izavyalov-dev/delta-qa/coverage"
	"github.com/izavyalov-dev/delta-qa/internal/config"
	"github.com/izavyalov-dev/delta-qa/internal/llm"
	"github.com/izavyalov-dev/delta-qa/internal/observability"
	"github.com/izavyalov-dev/delta-qa/internal/vcs/github"
	"github.com/izavyalov-dev/delta-qa/planner"
)

func loadConfig(c *cli.Context, requireSecret bool) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(requireSecret); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loggerFactory builds component loggers that share the configured level and
// format.
type loggerFactory func(component string) *slog.Logger

func newLoggerFactory(cfg config.Config) loggerFactory {
	opts := observability.LogOptions{Level: cfg.LogLevel, Environment: cfg.Environment}
	if cfg.Debug {
		opts.Level = "DEBUG"
	}
	return func(component string) *slog.Logger {
		return observability.NewLoggerWith(opts, component)
	}
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func newGitHubClient(cfg config.Config, logs loggerFactory) (*github.Client, error) {
	clientCfg := github.ClientConfig{
		Token:        cfg.GitHubToken,
		BaseURL:      cfg.GitHubAPIURL,
		MaxDiffBytes: cfg.MaxDiffBytes,
	}
	if cfg.UsesGitHubApp() {
		pem, err := os.ReadFile(cfg.GitHubAppPrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read github app private key: %w", err)
		}
		source, err := github.NewAppTokenSource(cfg.GitHubAppID, cfg.GitHubAppInstallationID, pem, cfg.GitHubAPIURL, logs("github.app_auth"))
		if err != nil {
			return nil, err
		}
		clientCfg.TokenSource = source
	}
	return github.NewClient(clientCfg)
}

type stages struct {
	analyzer analysis.ChangeAnalyzer
	detector analysis.GapDetector
	planner  analysis.TestPlanner
}

// newStages selects rule-based or model-backed stages from the analysis mode.
func newStages(cfg config.Config, logs loggerFactory) stages {
	logger := logs("delta-qa")
	if cfg.Mode() != config.ModeLLM {
		logger.Info("analysis mode selected", "event", "analysis_mode", "mode", config.ModeRules)
		return stages{
			analyzer: analyzer.NewRuleAnalyzer(logs("analyzer")),
			detector: coverage.NewRuleDetector(logs("coverage")),
			planner:  planner.NewRulePlanner(logs("planner")),
		}
	}

	client := llm.NewBreaker(llm.NewAnthropicClient(llm.AnthropicConfig{
		APIKey:        cfg.AnthropicAPIKey,
		Model:         cfg.LLMModel,
		MaxTokens:     cfg.LLMMaxTokens,
		Temperature:   cfg.LLMTemperature,
		RatePerSecond: cfg.LLMRatePerSecond,
		Logger:        logs("llm"),
	}), 0, 0)
	logger.Info("analysis mode selected", "event", "analysis_mode", "mode", config.ModeLLM, "model", cfg.LLMModel)
	return stages{
		analyzer: analyzer.NewLLMAnalyzer(client, logs("analyzer.llm")),
		detector: coverage.NewLLMDetector(client, logs("coverage.llm")),
		planner:  planner.NewLLMPlanner(client, logs("planner.llm")),
	}
}
