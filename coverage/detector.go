// Package coverage implements coverage gap detection over change records.
package coverage

import (
	"context"
	"log/slog"
	"sort"

	"github.com/izavyalov-dev/delta-qa/analysis"
	"github.com/izavyalov-dev/delta-qa/internal/observability"
)

// RuleDetector finds gaps by matching changed source symbols against related
// test files and scores them with the fixed risk policy.
type RuleDetector struct {
	logger *slog.Logger
}

func NewRuleDetector(logger *slog.Logger) *RuleDetector {
	if logger == nil {
		logger = observability.NewLogger("coverage")
	}
	return &RuleDetector{logger: logger}
}

// Execute implements analysis.GapDetector.
func (d *RuleDetector) Execute(ctx context.Context, in analysis.GapInput) ([]analysis.TestCoverageGap, error) {
	idx := newTestIndex(in.RepositoryPaths, in.Changes)

	gaps := []analysis.TestCoverageGap{}
	for _, change := range in.Changes {
		if err := ctx.Err(); err != nil {
			return nil, analysis.NewStageError(analysis.StageCoverageGaps, err)
		}
		gap, ok := detectGap(change, idx)
		if !ok {
			continue
		}
		gaps = append(gaps, gap)
	}
	analysis.SortGaps(gaps)
	if err := analysis.ValidateGaps(gaps); err != nil {
		return nil, analysis.NewStageError(analysis.StageCoverageGaps, err)
	}
	d.logger.Debug("coverage gaps detected", "event", "coverage_gaps_detected", "gaps", len(gaps))
	return gaps, nil
}

// NeedsCoverage reports whether a change can produce a gap at all.
func NeedsCoverage(change analysis.CodeChange) bool {
	return change.FileType == analysis.FileSource && change.ChangeType != analysis.ChangeDeleted
}

func detectGap(change analysis.CodeChange, idx *testIndex) (analysis.TestCoverageGap, bool) {
	if !NeedsCoverage(change) {
		return analysis.TestCoverageGap{}, false
	}

	related := idx.relatedChanges(change.FilePath)
	existing := mergeSorted(idx.existing(change.FilePath), pathsOf(related))

	_, untestedFuncs := splitTested(change.FunctionsChanged, related)
	_, untestedClasses := splitTested(change.ClassesChanged, related)
	symbols := append(append([]string{}, change.FunctionsChanged...), change.ClassesChanged...)
	untested := len(untestedFuncs) + len(untestedClasses)

	switch {
	case len(symbols) > 0 && untested == 0:
		return analysis.TestCoverageGap{}, false
	case len(symbols) == 0 && len(related) > 0:
		return analysis.TestCoverageGap{}, false
	}

	assessment := analysis.ScoreRisk(analysis.RiskInput{
		FilePath:         change.FilePath,
		Symbols:          symbols,
		UntestedCount:    untested,
		LinesChanged:     change.LinesChanged(),
		Complexity:       change.ComplexityImpact,
		HasExistingTests: len(existing) > 0,
	})

	return analysis.TestCoverageGap{
		FilePath:              change.FilePath,
		FunctionsWithoutTests: untestedFuncs,
		ClassesWithoutTests:   untestedClasses,
		ScenariosMissing:      Scenarios(change.FilePath, symbols),
		ExistingTestFiles:     existing,
		PartiallyCovered:      len(existing) > 0,
		RiskLevel:             assessment.Level,
		Reason:                assessment.Reason(),
		RecommendedTestTypes:  RecommendedTestTypes(change.FilePath, symbols),
	}, true
}

func pathsOf(changes []analysis.CodeChange) []string {
	out := make([]string, 0, len(changes))
	for _, change := range changes {
		out = append(out, change.FilePath)
	}
	return out
}

func mergeSorted(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := []string{}
	for _, list := range [][]string{a, b} {
		for _, item := range list {
			if _, ok := seen[item]; !ok {
				seen[item] = struct{}{}
				out = append(out, item)
			}
		}
	}
	sort.Strings(out)
	return out
}

var _ analysis.GapDetector = (*RuleDetector)(nil)
