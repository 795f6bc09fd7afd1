package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/izavyalov-dev/delta-qa/internal/vcs/github"
	"github.com/izavyalov-dev/delta-qa/orchestrator"
)

func analyzeCommand() *cli.Command {
	return &cli.Command{
		Name:  "analyze",
		Usage: "Analyze one pull request and print the report as JSON",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "repo",
				Usage:    "Repository as owner/name",
				Required: true,
			},
			&cli.IntFlag{
				Name:     "pr",
				Usage:    "Pull request number",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "diff-file",
				Usage: "Read the unified diff from a file instead of GitHub",
			},
			&cli.StringFlag{
				Name:  "head-sha",
				Usage: "Head commit used to list repository paths",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c, false)
			if err != nil {
				return err
			}
			logs := newLoggerFactory(cfg)
			owner, name, err := github.SplitRepository(c.String("repo"))
			if err != nil {
				return err
			}
			if c.Int("pr") <= 0 {
				return errors.New("--pr must be positive")
			}

			job := orchestrator.Job{
				DeliveryID: fmt.Sprintf("cli-%d", time.Now().UTC().UnixNano()),
				EventType:  github.EventPullRequest,
				Event: github.WebhookEvent{
					Action:             "synchronize",
					PRNumber:           c.Int("pr"),
					RepositoryFullName: c.String("repo"),
					Owner:              owner,
					Name:               name,
					HeadSHA:            c.String("head-sha"),
				},
				ReceivedAt: time.Now().UTC(),
			}

			pipelineCfg := orchestrator.PipelineConfig{
				Logger:       logs("pipeline"),
				IDs:          orchestrator.RandomIDGenerator{},
				StageTimeout: cfg.AgentTimeout(),
				FetchTimeout: cfg.FetchTimeout(),
			}
			if path := c.String("diff-file"); path != "" {
				raw, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read diff: %w", err)
				}
				job.Diff = string(raw)
			} else {
				client, err := newGitHubClient(cfg, logs)
				if err != nil {
					return fmt.Errorf("github client: %w", err)
				}
				pipelineCfg.Fetcher = client
				if job.Event.HeadSHA != "" {
					pipelineCfg.Tree = client
				}
			}

			st := newStages(cfg, logs)
			pipelineCfg.Analyzer = st.analyzer
			pipelineCfg.Detector = st.detector
			pipelineCfg.Planner = st.planner

			report := orchestrator.NewPipeline(pipelineCfg).Run(c.Context, job)

			encoder := json.NewEncoder(c.App.Writer)
			encoder.SetIndent("", "  ")
			return encoder.Encode(report)
		},
	}
}
