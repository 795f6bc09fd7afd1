package orchestrator

import (
	"context"
	"time"

	"github.com/izavyalov-dev/delta-qa/analysis"
	"github.com/izavyalov-dev/delta-qa/internal/vcs/github"
)

// Job is one pull request delivery accepted for analysis.
type Job struct {
	DeliveryID string              `json:"delivery_id"`
	EventType  string              `json:"event_type"`
	Event      github.WebhookEvent `json:"event"`
	// Diff, when set, is analyzed as-is instead of being fetched.
	Diff       string    `json:"diff,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Runner executes a job to completion and always yields a report.
type Runner interface {
	Run(ctx context.Context, job Job) analysis.AnalysisReport
}

// DiffFetcher retrieves the unified diff of a pull request.
type DiffFetcher interface {
	FetchDiff(ctx context.Context, repository string, prNumber int) (string, error)
}

// TreeLister lists file paths of a repository at a ref.
type TreeLister interface {
	ListPaths(ctx context.Context, repository, ref string) ([]string, error)
}
