package coverage

import (
	"context"
	"log/slog"

	"github.com/izavyalov-dev/delta-qa/analysis"
	"github.com/izavyalov-dev/delta-qa/internal/llm"
	"github.com/izavyalov-dev/delta-qa/internal/observability"
)

const coverageSystem = "You are a senior QA engineer. You find code that lacks tests and judge how risky that is."

const coverageInstructions = `For each changed source file below, decide whether the change is covered by tests.
Report one coverage gap per file that lacks coverage; omit fully covered files.
Risk levels: critical only for security, authentication or payment code, and the
reason must name the matching keyword (for example "auth" or "payment"); high for
business-critical code such as user, account or database logic; medium for
general application logic; low for utilities. recommended_test_types uses unit,
integration, e2e, security and performance.`

const coverageSchema = `{"gaps": [{"file_path": string, "functions_without_tests": [string],
 "classes_without_tests": [string], "scenarios_missing": [string],
 "existing_test_files": [string], "partially_covered": bool,
 "risk_level": string, "reason": string, "recommended_test_types": [string]}]}`

type coverageFile struct {
	Change            analysis.CodeChange `json:"change"`
	ExistingTestFiles []string            `json:"existing_test_files"`
	RelatedTestFuncs  []string            `json:"related_test_functions"`
}

type coverageInput struct {
	Files []coverageFile `json:"files"`
}

type coverageOutput struct {
	Gaps []analysis.TestCoverageGap `json:"gaps"`
}

// LLMDetector asks the model for coverage gaps. Output is validated against
// the risk policy and restricted to the changed source files.
type LLMDetector struct {
	client llm.Client
	logger *slog.Logger
}

func NewLLMDetector(client llm.Client, logger *slog.Logger) *LLMDetector {
	if logger == nil {
		logger = observability.NewLogger("coverage.llm")
	}
	return &LLMDetector{client: client, logger: logger}
}

func (d *LLMDetector) Execute(ctx context.Context, in analysis.GapInput) ([]analysis.TestCoverageGap, error) {
	idx := newTestIndex(in.RepositoryPaths, in.Changes)

	sources := make(map[string]struct{})
	input := coverageInput{}
	for _, change := range in.Changes {
		if !NeedsCoverage(change) {
			continue
		}
		sources[change.FilePath] = struct{}{}
		related := idx.relatedChanges(change.FilePath)
		file := coverageFile{
			Change:            change,
			ExistingTestFiles: mergeSorted(idx.existing(change.FilePath), pathsOf(related)),
			RelatedTestFuncs:  []string{},
		}
		for _, test := range related {
			file.RelatedTestFuncs = append(file.RelatedTestFuncs, test.FunctionsChanged...)
		}
		input.Files = append(input.Files, file)
	}
	if len(input.Files) == 0 {
		return []analysis.TestCoverageGap{}, nil
	}

	out, err := llm.Invoke[coverageOutput](ctx, d.client, llm.Task{
		Name:         string(analysis.StageCoverageGaps),
		System:       coverageSystem,
		Instructions: coverageInstructions,
		Input:        input,
		Schema:       coverageSchema,
	})
	if err != nil {
		return nil, analysis.NewStageError(analysis.StageCoverageGaps, err)
	}

	gaps := make([]analysis.TestCoverageGap, 0, len(out.Gaps))
	for _, gap := range out.Gaps {
		if _, ok := sources[gap.FilePath]; !ok {
			return nil, analysis.NewStageError(analysis.StageCoverageGaps,
				analysis.SchemaErrorf("coverage gap %s: not a changed source file", gap.FilePath))
		}
		gaps = append(gaps, normalizeGap(gap))
	}
	if err := analysis.ValidateGaps(gaps); err != nil {
		return nil, analysis.NewStageError(analysis.StageCoverageGaps, err)
	}
	analysis.SortGaps(gaps)
	d.logger.Debug("llm coverage gaps detected", "event", "coverage_gaps_llm_detected", "gaps", len(gaps))
	return gaps, nil
}

func normalizeGap(gap analysis.TestCoverageGap) analysis.TestCoverageGap {
	if gap.FunctionsWithoutTests == nil {
		gap.FunctionsWithoutTests = []string{}
	}
	if gap.ClassesWithoutTests == nil {
		gap.ClassesWithoutTests = []string{}
	}
	if gap.ScenariosMissing == nil {
		gap.ScenariosMissing = []string{}
	}
	if gap.ExistingTestFiles == nil {
		gap.ExistingTestFiles = []string{}
	}
	if len(gap.RecommendedTestTypes) == 0 {
		gap.RecommendedTestTypes = []analysis.TestType{analysis.TestUnit}
	}
	return gap
}

var _ analysis.GapDetector = (*LLMDetector)(nil)
