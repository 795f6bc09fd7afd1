package analysis

import (
	"sort"
	"time"
)

// SortRecommendations orders recommendations by priority (critical first),
// then by estimated duration descending. Equal elements keep their order.
func SortRecommendations(recs []TestRecommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		pi, pj := recs[i].Priority.Rank(), recs[j].Priority.Rank()
		if pi != pj {
			return pi > pj
		}
		return recs[i].EstimatedDurationSeconds > recs[j].EstimatedDurationSeconds
	})
}

// SortGaps orders gaps by risk level, highest first, keeping input order for ties.
func SortGaps(gaps []TestCoverageGap) {
	sort.SliceStable(gaps, func(i, j int) bool {
		return gaps[i].RiskLevel.Rank() > gaps[j].RiskLevel.Rank()
	})
}

// MaxRisk returns the highest risk level across gaps, or low when there are none.
func MaxRisk(gaps []TestCoverageGap) RiskLevel {
	risk := RiskLow
	for _, gap := range gaps {
		if gap.RiskLevel.Rank() > risk.Rank() {
			risk = gap.RiskLevel
		}
	}
	return risk
}

// AssembleInput is everything the pipeline knows when a run terminates.
type AssembleInput struct {
	RunID       string
	DeliveryID  string
	Subject     Subject
	StartedAt   time.Time
	CompletedAt time.Time
	Changes     []CodeChange
	Gaps        []TestCoverageGap
	Plan        *TestExecutionPlan
	Status      Status
	Errors      []string
}

// Assemble builds the terminal report. It never fails: missing pieces fall
// back to empty lists, an empty plan and low risk.
func Assemble(in AssembleInput) AnalysisReport {
	report := AnalysisReport{
		RunID:             in.RunID,
		DeliveryID:        in.DeliveryID,
		PRNumber:          in.Subject.PRNumber,
		Repository:        in.Subject.Repository,
		PRURL:             in.Subject.PRURL,
		CommitSHA:         in.Subject.CommitSHA,
		StartedAt:         in.StartedAt,
		AnalysisTimestamp: in.CompletedAt,
		CodeChanges:       nonNil(in.Changes),
		CoverageGaps:      nonNil(in.Gaps),
		Status:            in.Status,
		Errors:            nonNil(in.Errors),
		RiskScore:         MaxRisk(in.Gaps),
	}
	if report.AnalysisTimestamp.IsZero() {
		report.AnalysisTimestamp = time.Now().UTC()
	}
	if !in.StartedAt.IsZero() && report.AnalysisTimestamp.After(in.StartedAt) {
		report.DurationSeconds = report.AnalysisTimestamp.Sub(in.StartedAt).Seconds()
	}
	if report.Status == "" {
		report.Status = StatusFailed
	}

	if in.Plan != nil {
		report.TestPlan = *in.Plan
		report.TestPlan.Recommendations = nonNil(report.TestPlan.Recommendations)
		report.TestPlan.CriticalPathsCovered = nonNil(report.TestPlan.CriticalPathsCovered)
		report.TestPlan.RiskAreasRemaining = nonNil(report.TestPlan.RiskAreasRemaining)
	} else {
		report.TestPlan = EmptyPlan("")
	}

	report.TotalFilesChanged = len(report.CodeChanges)
	for _, change := range report.CodeChanges {
		report.TotalLinesChanged += change.LinesChanged()
	}
	return report
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// Summary is the compact form of a report used in logs and notifications.
type Summary struct {
	PRNumber                 int       `json:"pr_number"`
	Repository               string    `json:"repository"`
	Status                   Status    `json:"status"`
	TotalChanges             int       `json:"total_changes"`
	SourceFilesChanged       int       `json:"source_files_changed"`
	TestFilesChanged         int       `json:"test_files_changed"`
	CoverageGaps             int       `json:"coverage_gaps"`
	CriticalGaps             int       `json:"critical_gaps"`
	TotalTestRecommendations int       `json:"total_test_recommendations"`
	CriticalTests            int       `json:"critical_tests"`
	RiskScore                RiskLevel `json:"risk_score"`
	DurationSeconds          float64   `json:"duration_seconds"`
}

// Summary condenses the report.
func (r AnalysisReport) Summary() Summary {
	s := Summary{
		PRNumber:                 r.PRNumber,
		Repository:               r.Repository,
		Status:                   r.Status,
		TotalChanges:             len(r.CodeChanges),
		CoverageGaps:             len(r.CoverageGaps),
		TotalTestRecommendations: len(r.TestPlan.Recommendations),
		RiskScore:                r.RiskScore,
		DurationSeconds:          r.DurationSeconds,
	}
	for _, change := range r.CodeChanges {
		switch change.FileType {
		case FileSource:
			s.SourceFilesChanged++
		case FileTest:
			s.TestFilesChanged++
		}
	}
	for _, gap := range r.CoverageGaps {
		if gap.RiskLevel == RiskCritical {
			s.CriticalGaps++
		}
	}
	for _, rec := range r.TestPlan.Recommendations {
		if rec.Priority == PriorityCritical {
			s.CriticalTests++
		}
	}
	return s
}
