package analysis

import (
	"fmt"
	"time"
)

type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
	ChangeRenamed  ChangeType = "renamed"
)

type FileType string

const (
	FileSource        FileType = "source"
	FileTest          FileType = "test"
	FileConfig        FileType = "config"
	FileDocumentation FileType = "documentation"
	FileOther         FileType = "other"
)

type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// RiskLevel ranks coverage gaps. The zero value is not a valid level.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank orders risk levels; unknown values rank below low.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskCritical:
		return 4
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	default:
		return 0
	}
}

// Priority ranks test recommendations.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

type TestType string

const (
	TestUnit        TestType = "unit"
	TestIntegration TestType = "integration"
	TestE2E         TestType = "e2e"
	TestSecurity    TestType = "security"
	TestPerformance TestType = "performance"
)

// Status is the terminal outcome of a pipeline run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// CodeChange describes one changed file as produced by change analysis.
type CodeChange struct {
	FilePath         string     `json:"file_path"`
	ChangeType       ChangeType `json:"change_type"`
	FileType         FileType   `json:"file_type"`
	FunctionsChanged []string   `json:"functions_changed"`
	ClassesChanged   []string   `json:"classes_changed"`
	LinesAdded       int        `json:"lines_added"`
	LinesDeleted     int        `json:"lines_deleted"`
	ComplexityImpact Complexity `json:"complexity_impact"`
	KeyChanges       string     `json:"key_changes,omitempty"`
}

// LinesChanged returns added plus deleted lines.
func (c CodeChange) LinesChanged() int {
	return c.LinesAdded + c.LinesDeleted
}

// TestCoverageGap is a changed file or region that lacks tests.
type TestCoverageGap struct {
	FilePath              string     `json:"file_path"`
	FunctionsWithoutTests []string   `json:"functions_without_tests"`
	ClassesWithoutTests   []string   `json:"classes_without_tests"`
	ScenariosMissing      []string   `json:"scenarios_missing"`
	ExistingTestFiles     []string   `json:"existing_test_files"`
	PartiallyCovered      bool       `json:"partially_covered"`
	RiskLevel             RiskLevel  `json:"risk_level"`
	Reason                string     `json:"reason"`
	RecommendedTestTypes  []TestType `json:"recommended_test_types"`
}

// TestRecommendation is a single suggested test. AddressesGap holds the
// file_path of the gap it covers.
type TestRecommendation struct {
	TestFile                 string   `json:"test_file"`
	TestName                 string   `json:"test_name"`
	TestType                 TestType `json:"test_type"`
	Priority                 Priority `json:"priority"`
	Reason                   string   `json:"reason"`
	EstimatedDurationSeconds int      `json:"estimated_duration_seconds"`
	AddressesGap             string   `json:"addresses_gap"`
}

// TestExecutionPlan aggregates ordered recommendations.
type TestExecutionPlan struct {
	Recommendations               []TestRecommendation `json:"recommendations"`
	EstimatedTotalDurationSeconds int                  `json:"estimated_total_duration_seconds"`
	ParallelExecutionPossible     bool                 `json:"parallel_execution_possible"`
	Summary                       string               `json:"summary"`
	CoverageGapsAddressed         int                  `json:"coverage_gaps_addressed"`
	NewTestsNeeded                int                  `json:"new_tests_needed"`
	CriticalPathsCovered          []string             `json:"critical_paths_covered"`
	RiskAreasRemaining            []string             `json:"risk_areas_remaining"`
}

// EmptyPlan returns a plan with no recommendations and non-nil slices.
func EmptyPlan(summary string) TestExecutionPlan {
	return TestExecutionPlan{
		Recommendations:           []TestRecommendation{},
		ParallelExecutionPossible: true,
		Summary:                   summary,
		CriticalPathsCovered:      []string{},
		RiskAreasRemaining:        []string{},
	}
}

// Subject identifies the pull request a report describes.
type Subject struct {
	Repository string `json:"repository"`
	PRNumber   int    `json:"pr_number"`
	PRURL      string `json:"pr_url,omitempty"`
	CommitSHA  string `json:"commit_sha,omitempty"`
	Action     string `json:"action,omitempty"`
}

func (s Subject) String() string {
	return fmt.Sprintf("%s#%d", s.Repository, s.PRNumber)
}

// AnalysisReport is the terminal output of one pipeline run.
type AnalysisReport struct {
	RunID      string `json:"run_id"`
	DeliveryID string `json:"delivery_id,omitempty"`
	PRNumber   int    `json:"pr_number"`
	Repository string `json:"repository"`
	PRURL      string `json:"pr_url,omitempty"`
	CommitSHA  string `json:"commit_sha,omitempty"`

	StartedAt         time.Time `json:"started_at"`
	AnalysisTimestamp time.Time `json:"analysis_timestamp"`
	DurationSeconds   float64   `json:"duration_seconds"`

	CodeChanges  []CodeChange      `json:"code_changes"`
	CoverageGaps []TestCoverageGap `json:"coverage_gaps"`
	TestPlan     TestExecutionPlan `json:"test_plan"`

	Status Status   `json:"status"`
	Errors []string `json:"errors"`

	TotalFilesChanged int       `json:"total_files_changed"`
	TotalLinesChanged int       `json:"total_lines_changed"`
	RiskScore         RiskLevel `json:"risk_score"`
}
