// Package planner turns coverage gaps into an ordered test execution plan.
package planner

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"unicode"

	"github.com/izavyalov-dev/delta-qa/analysis"
)

// Planner produces a plan for a set of gaps.
type Planner = analysis.TestPlanner

const (
	maxSymbolTests   = 5
	maxScenarioTests = 3
)

// TestPath returns the conventional location of a new test for sourcePath.
//
//	app/services/user.py     -> tests/unit/services/test_user.py
//	src/components/Button.tsx -> tests/unit/components/Button.test.tsx
//	lib/util.go              -> tests/test_lib_util.go
//
// Non-unit test types replace the "unit" directory with the type name.
func TestPath(sourcePath string, testType analysis.TestType) string {
	if testType == "" {
		testType = analysis.TestUnit
	}
	dir := "tests/" + string(testType)

	switch {
	case strings.HasPrefix(sourcePath, "app/"):
		rel := strings.TrimPrefix(sourcePath, "app/")
		name := path.Base(rel)
		if path.Ext(name) != ".py" {
			name += ".py"
		}
		return path.Join(dir, path.Dir(rel), "test_"+name)
	case strings.HasPrefix(sourcePath, "src/"):
		rel := strings.TrimPrefix(sourcePath, "src/")
		name := path.Base(rel)
		ext := path.Ext(name)
		if ext == "" {
			ext = ".js"
		}
		return path.Join(dir, path.Dir(rel), strings.TrimSuffix(name, path.Ext(name))+".test"+ext)
	default:
		return "tests/test_" + strings.ReplaceAll(sourcePath, "/", "_")
	}
}

// testFileFor prefers an existing test file for unit tests.
func testFileFor(gap analysis.TestCoverageGap, testType analysis.TestType) string {
	if testType == analysis.TestUnit && len(gap.ExistingTestFiles) > 0 {
		return gap.ExistingTestFiles[0]
	}
	return TestPath(gap.FilePath, testType)
}

// TestName builds a snake_case test name from free text.
func TestName(parts ...string) string {
	var b strings.Builder
	b.WriteString("test")
	for _, part := range parts {
		lastUnderscore := false
		wrote := false
		for _, r := range strings.ToLower(part) {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				if !wrote || lastUnderscore {
					b.WriteByte('_')
				}
				b.WriteRune(r)
				wrote = true
				lastUnderscore = false
				continue
			}
			lastUnderscore = true
		}
	}
	return b.String()
}

func complexityByFile(changes []analysis.CodeChange) map[string]analysis.Complexity {
	out := make(map[string]analysis.Complexity, len(changes))
	for _, change := range changes {
		out[change.FilePath] = change.ComplexityImpact
	}
	return out
}

// finalizePlan fills the aggregate fields of a plan from its
// recommendations and sorts them.
func finalizePlan(plan *analysis.TestExecutionPlan, gaps []analysis.TestCoverageGap) {
	if plan.Recommendations == nil {
		plan.Recommendations = []analysis.TestRecommendation{}
	}
	analysis.SortRecommendations(plan.Recommendations)

	plan.EstimatedTotalDurationSeconds = 0
	plan.ParallelExecutionPossible = true
	addressed := make(map[string]struct{})
	critical, high := 0, 0
	for _, rec := range plan.Recommendations {
		plan.EstimatedTotalDurationSeconds += rec.EstimatedDurationSeconds
		if rec.TestType == analysis.TestE2E || rec.TestType == analysis.TestPerformance {
			plan.ParallelExecutionPossible = false
		}
		addressed[rec.AddressesGap] = struct{}{}
		switch rec.Priority {
		case analysis.PriorityCritical:
			critical++
		case analysis.PriorityHigh:
			high++
		}
	}
	plan.NewTestsNeeded = len(plan.Recommendations)
	plan.CoverageGapsAddressed = len(addressed)

	files := make([]string, 0, len(gaps))
	for _, gap := range gaps {
		files = append(files, gap.FilePath)
	}
	if len(plan.CriticalPathsCovered) == 0 {
		plan.CriticalPathsCovered = analysis.CriticalPaths(files)
	}
	if len(plan.RiskAreasRemaining) == 0 {
		plan.RiskAreasRemaining = riskAreas(gaps)
	}
	if strings.TrimSpace(plan.Summary) == "" {
		plan.Summary = fmt.Sprintf("%d tests recommended across %d coverage gaps (%d critical, %d high priority); estimated %ds",
			plan.NewTestsNeeded, plan.CoverageGapsAddressed, critical, high, plan.EstimatedTotalDurationSeconds)
	}
}

func riskAreas(gaps []analysis.TestCoverageGap) []string {
	out := []string{}
	for _, gap := range gaps {
		if gap.RiskLevel == analysis.RiskHigh || gap.RiskLevel == analysis.RiskCritical {
			out = append(out, fmt.Sprintf("%s - %s risk", gap.FilePath, gap.RiskLevel))
		}
	}
	sort.Strings(out)
	return out
}
