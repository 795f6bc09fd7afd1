package github

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/izavyalov-dev/delta-qa/analysis"
	"github.com/izavyalov-dev/delta-qa/internal/observability"
)

const (
	commentMarker        = "<!-- delta-qa:report -->"
	maxCommentGaps       = 10
	maxCommentRecommends = 15
)

// CommentStore remembers which comment holds the report for a pull request.
type CommentStore interface {
	GetPRComment(ctx context.Context, repository string, prNumber int) (int64, bool, error)
	SavePRComment(ctx context.Context, repository string, prNumber int, commentID int64) error
}

// commentAPI is the subset of Client used by the reporter.
type commentAPI interface {
	CreateComment(ctx context.Context, repository string, prNumber int, body string) (int64, error)
	EditComment(ctx context.Context, repository string, commentID int64, body string) error
	FindComment(ctx context.Context, repository string, prNumber int, marker string) (int64, bool, error)
}

// Reporter publishes analysis reports as a single, updated PR comment.
type Reporter struct {
	client commentAPI
	store  CommentStore
	logger *slog.Logger
	now    func() time.Time
}

// NewReporter builds a PR comment reporter. store may be nil, in which case
// the existing comment is located by its marker.
func NewReporter(client *Client, store CommentStore, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = observability.NewLogger("github.reporter")
	}
	r := &Reporter{store: store, logger: logger, now: time.Now}
	if client != nil {
		r.client = client
	}
	return r
}

func (r *Reporter) Name() string { return "github_comment" }

// Publish creates or updates the report comment on the pull request.
func (r *Reporter) Publish(ctx context.Context, report analysis.AnalysisReport) error {
	if r == nil || r.client == nil {
		return nil
	}
	body := RenderComment(report, r.now())

	commentID, found, err := r.lookupComment(ctx, report)
	if err != nil {
		return err
	}

	if found {
		err := r.client.EditComment(ctx, report.Repository, commentID, body)
		if err == nil {
			r.logger.Info("github comment updated", "event", "github_comment_updated", "run_id", report.RunID, "comment_id", commentID)
			return nil
		}
		if !IsNotFound(err) {
			r.logger.Warn("github comment update failed", "event", "github_comment_update_failed", "run_id", report.RunID, "error", err)
			return err
		}
	}

	commentID, err = r.client.CreateComment(ctx, report.Repository, report.PRNumber, body)
	if err != nil {
		r.logger.Warn("github comment create failed", "event", "github_comment_create_failed", "run_id", report.RunID, "error", err)
		return err
	}
	if r.store != nil {
		if err := r.store.SavePRComment(ctx, report.Repository, report.PRNumber, commentID); err != nil {
			return err
		}
	}
	r.logger.Info("github comment created", "event", "github_comment_created", "run_id", report.RunID, "comment_id", commentID)
	return nil
}

func (r *Reporter) lookupComment(ctx context.Context, report analysis.AnalysisReport) (int64, bool, error) {
	if r.store != nil {
		id, found, err := r.store.GetPRComment(ctx, report.Repository, report.PRNumber)
		if err != nil {
			return 0, false, err
		}
		if found {
			return id, true, nil
		}
	}
	return r.client.FindComment(ctx, report.Repository, report.PRNumber, commentMarker)
}

// RenderComment formats a report as GitHub-flavored markdown.
func RenderComment(report analysis.AnalysisReport, now time.Time) string {
	var b strings.Builder
	b.WriteString(commentMarker)
	b.WriteString("\n## Test Coverage Analysis\n\n")
	fmt.Fprintf(&b, "Status: `%s` | Risk: `%s` | Files: %d | Lines: %d\n",
		report.Status, report.RiskScore, report.TotalFilesChanged, report.TotalLinesChanged)
	if report.CommitSHA != "" {
		fmt.Fprintf(&b, "Commit: `%s`\n", sanitize(report.CommitSHA))
	}

	if len(report.Errors) > 0 {
		b.WriteString("\n**Errors**\n")
		for _, msg := range report.Errors {
			fmt.Fprintf(&b, "- %s\n", sanitize(msg))
		}
	}

	if len(report.CoverageGaps) > 0 {
		b.WriteString("\n### Coverage gaps\n\n| File | Risk | Untested | Reason |\n|---|---|---|---|\n")
		for i, gap := range report.CoverageGaps {
			if i == maxCommentGaps {
				fmt.Fprintf(&b, "\n_%d more gaps omitted_\n", len(report.CoverageGaps)-maxCommentGaps)
				break
			}
			untested := append(append([]string{}, gap.FunctionsWithoutTests...), gap.ClassesWithoutTests...)
			fmt.Fprintf(&b, "| `%s` | %s | %s | %s |\n",
				sanitize(gap.FilePath), gap.RiskLevel, cell(strings.Join(untested, ", ")), cell(gap.Reason))
		}
	}

	plan := report.TestPlan
	if len(plan.Recommendations) > 0 {
		b.WriteString("\n### Recommended tests\n\n| Priority | Type | Test | File | Est. |\n|---|---|---|---|---|\n")
		for i, rec := range plan.Recommendations {
			if i == maxCommentRecommends {
				fmt.Fprintf(&b, "\n_%d more recommendations omitted_\n", len(plan.Recommendations)-maxCommentRecommends)
				break
			}
			fmt.Fprintf(&b, "| %s | %s | `%s` | `%s` | %ds |\n",
				rec.Priority, rec.TestType, sanitize(rec.TestName), sanitize(rec.TestFile), rec.EstimatedDurationSeconds)
		}
		fmt.Fprintf(&b, "\nEstimated total: %ds. Parallel execution: %t.\n", plan.EstimatedTotalDurationSeconds, plan.ParallelExecutionPossible)
	}
	if plan.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", sanitize(plan.Summary))
	}

	b.WriteString("\nUpdated: ")
	b.WriteString(now.UTC().Format(time.RFC3339))
	b.WriteString("\n")
	return b.String()
}

func cell(value string) string {
	value = sanitize(value)
	if value == "" {
		return "-"
	}
	return strings.ReplaceAll(value, "|", "\\|")
}

func sanitize(value string) string {
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	return strings.TrimSpace(value)
}
