package orchestrator

import (
	"context"
	"log/slog"

	"github.com/izavyalov-dev/delta-qa/analysis"
	"github.com/izavyalov-dev/delta-qa/internal/observability"
)

// ReportSink receives every terminal report.
type ReportSink interface {
	Name() string
	Publish(ctx context.Context, report analysis.AnalysisReport) error
}

// LogSink writes the report summary as a structured log line.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = observability.NewLogger("report")
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Publish(ctx context.Context, report analysis.AnalysisReport) error {
	summary := report.Summary()
	level := slog.LevelInfo
	if report.Status != analysis.StatusCompleted {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "analysis report",
		"event", "analysis_report",
		"run_id", report.RunID,
		"delivery_id", report.DeliveryID,
		"repository", summary.Repository,
		"pr_number", summary.PRNumber,
		"status", summary.Status,
		"risk_score", summary.RiskScore,
		"total_changes", summary.TotalChanges,
		"source_files_changed", summary.SourceFilesChanged,
		"test_files_changed", summary.TestFilesChanged,
		"coverage_gaps", summary.CoverageGaps,
		"critical_gaps", summary.CriticalGaps,
		"test_recommendations", summary.TotalTestRecommendations,
		"critical_tests", summary.CriticalTests,
		"duration_seconds", summary.DurationSeconds,
		"errors", report.Errors,
	)
	return nil
}

// ReportStore persists reports.
type ReportStore interface {
	SaveReport(ctx context.Context, report analysis.AnalysisReport) error
}

// StoreSink saves reports to a ReportStore.
type StoreSink struct {
	store ReportStore
}

func NewStoreSink(store ReportStore) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Name() string { return "postgres" }

func (s *StoreSink) Publish(ctx context.Context, report analysis.AnalysisReport) error {
	return s.store.SaveReport(ctx, report)
}

// SinkFunc adapts a function to ReportSink.
type SinkFunc struct {
	SinkName string
	Fn       func(ctx context.Context, report analysis.AnalysisReport) error
}

func (s SinkFunc) Name() string { return s.SinkName }

func (s SinkFunc) Publish(ctx context.Context, report analysis.AnalysisReport) error {
	return s.Fn(ctx, report)
}
