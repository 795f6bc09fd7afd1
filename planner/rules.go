package planner

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/izavyalov-dev/delta-qa/analysis"
	"github.com/izavyalov-dev/delta-qa/internal/observability"
)

const noGapsSummary = "No coverage gaps detected; no new tests needed"

// RulePlanner builds recommendations directly from gaps using the fixed
// priority and duration policy.
type RulePlanner struct {
	logger *slog.Logger
}

func NewRulePlanner(logger *slog.Logger) *RulePlanner {
	if logger == nil {
		logger = observability.NewLogger("planner")
	}
	return &RulePlanner{logger: logger}
}

// Execute implements analysis.TestPlanner.
func (p *RulePlanner) Execute(ctx context.Context, in analysis.PlanInput) (analysis.TestExecutionPlan, error) {
	if len(in.Gaps) == 0 {
		return analysis.EmptyPlan(noGapsSummary), nil
	}
	complexity := complexityByFile(in.Changes)

	plan := analysis.TestExecutionPlan{CriticalPathsCovered: []string{}, RiskAreasRemaining: []string{}}
	for _, gap := range in.Gaps {
		if err := ctx.Err(); err != nil {
			return analysis.TestExecutionPlan{}, analysis.NewStageError(analysis.StageTestPlanning, err)
		}
		plan.Recommendations = append(plan.Recommendations, recommendationsFor(gap, complexity[gap.FilePath])...)
	}
	finalizePlan(&plan, in.Gaps)

	if err := analysis.ValidatePlan(plan, in.Gaps); err != nil {
		return analysis.TestExecutionPlan{}, analysis.NewStageError(analysis.StageTestPlanning, err)
	}
	p.logger.Debug("test plan built", "event", "test_plan_built", "recommendations", len(plan.Recommendations))
	return plan, nil
}

func recommendationsFor(gap analysis.TestCoverageGap, complexity analysis.Complexity) []analysis.TestRecommendation {
	symbols := append(append([]string{}, gap.FunctionsWithoutTests...), gap.ClassesWithoutTests...)
	types := gap.RecommendedTestTypes
	if len(types) == 0 {
		types = []analysis.TestType{analysis.TestUnit}
	}

	var recs []analysis.TestRecommendation
	seen := make(map[string]struct{})
	add := func(testType analysis.TestType, name, reason string) {
		file := testFileFor(gap, testType)
		key := file + "::" + name
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		priority, _ := analysis.ScorePriority(analysis.PriorityInput{
			Risk:          gap.RiskLevel,
			TestType:      testType,
			Subject:       gap.FilePath + " " + name,
			FunctionCount: len(symbols),
		})
		recs = append(recs, analysis.TestRecommendation{
			TestFile:                 file,
			TestName:                 name,
			TestType:                 testType,
			Priority:                 priority,
			Reason:                   reason,
			EstimatedDurationSeconds: analysis.EstimateDuration(testType, complexity),
			AddressesGap:             gap.FilePath,
		})
	}

	for _, testType := range types {
		if testType != analysis.TestUnit {
			continue
		}
		for i, symbol := range symbols {
			if i == maxSymbolTests {
				break
			}
			add(analysis.TestUnit, TestName(symbol), fmt.Sprintf("%s in %s has no test (%s risk)", symbol, gap.FilePath, gap.RiskLevel))
		}
		for i, scenario := range gap.ScenariosMissing {
			if i == maxScenarioTests {
				break
			}
			add(analysis.TestUnit, TestName(stem(gap.FilePath), scenario), fmt.Sprintf("Missing scenario for %s: %s", gap.FilePath, scenario))
		}
		if len(symbols) == 0 && len(gap.ScenariosMissing) == 0 {
			add(analysis.TestUnit, TestName(stem(gap.FilePath)), fmt.Sprintf("%s changed without tests (%s risk)", gap.FilePath, gap.RiskLevel))
		}
	}

	for _, testType := range types {
		if testType == analysis.TestUnit {
			continue
		}
		add(testType, TestName(stem(gap.FilePath), string(testType)), typeReason(gap, testType))
	}
	return recs
}

func typeReason(gap analysis.TestCoverageGap, testType analysis.TestType) string {
	switch testType {
	case analysis.TestSecurity:
		if kws := analysis.SensitiveKeywordsIn(gap.FilePath + " " + strings.Join(gap.FunctionsWithoutTests, " ")); len(kws) > 0 {
			return fmt.Sprintf("Security-sensitive change in %s (%s)", gap.FilePath, strings.Join(kws, ", "))
		}
		return fmt.Sprintf("Security coverage for %s", gap.FilePath)
	case analysis.TestIntegration:
		return fmt.Sprintf("%s talks to other components; verify the integration", gap.FilePath)
	case analysis.TestE2E:
		return fmt.Sprintf("%s is user-facing; verify the flow end to end", gap.FilePath)
	case analysis.TestPerformance:
		return fmt.Sprintf("Performance check for %s", gap.FilePath)
	default:
		return fmt.Sprintf("Coverage for %s", gap.FilePath)
	}
}

func stem(filePath string) string {
	base := path.Base(filePath)
	return strings.TrimSuffix(base, path.Ext(base))
}

var _ analysis.TestPlanner = (*RulePlanner)(nil)
