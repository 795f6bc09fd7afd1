package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreRisk(t *testing.T) {
	cases := map[string]struct {
		in    RiskInput
		level RiskLevel
		score int
	}{
		"sensitive untested": {
			in:    RiskInput{FilePath: "auth/login.py", Symbols: []string{"login"}, UntestedCount: 1, LinesChanged: 12, Complexity: ComplexityMedium},
			level: RiskCritical,
			score: 73,
		},
		"elevated capped at high": {
			in:    RiskInput{FilePath: "services/user.py", Symbols: []string{"create_user"}, UntestedCount: 1, LinesChanged: 250, Complexity: ComplexityHigh},
			level: RiskHigh,
			score: 85,
		},
		"no tests only": {
			in:    RiskInput{FilePath: "utils/format.py", Symbols: []string{"pad"}, UntestedCount: 1, Complexity: ComplexityLow},
			level: RiskMedium,
			score: 25,
		},
		"tested helper": {
			in:    RiskInput{FilePath: "utils/format.py", Symbols: []string{"pad"}, UntestedCount: 1, HasExistingTests: true, Complexity: ComplexityLow},
			level: RiskLow,
			score: 5,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := ScoreRisk(tc.in)
			assert.Equal(t, tc.level, got.Level)
			assert.Equal(t, tc.score, got.Score)
			assert.NotEmpty(t, got.Reason())
		})
	}
}

func TestScoreRiskReasonNamesKeywords(t *testing.T) {
	got := ScoreRisk(RiskInput{FilePath: "billing/payment.go", UntestedCount: 12, LinesChanged: 120})
	assert.Contains(t, got.Reason(), "security-sensitive keyword match: payment, billing")
	assert.Contains(t, got.Reason(), "12 functions or classes without tests")
	assert.Contains(t, got.Reason(), "sizeable change (120 lines)")
	assert.Equal(t, 40+20+25+10, got.Score)
}

func TestScorePriority(t *testing.T) {
	cases := []struct {
		in       PriorityInput
		priority Priority
		score    int
	}{
		{PriorityInput{Risk: RiskCritical, TestType: TestSecurity, Subject: "auth/login.py"}, PriorityCritical, 150},
		{PriorityInput{Risk: RiskHigh, TestType: TestUnit, Subject: "services/user.py"}, PriorityHigh, 85},
		{PriorityInput{Risk: RiskMedium, TestType: TestIntegration, Subject: "utils/x.py"}, PriorityMedium, 70},
		{PriorityInput{Risk: RiskLow, TestType: TestUnit, Subject: "utils/x.py"}, PriorityLow, 35},
		{PriorityInput{Risk: RiskLow, TestType: TestPerformance, Subject: "utils/x.py", FunctionCount: 6}, PriorityLow, 40},
	}
	for _, tc := range cases {
		priority, score := ScorePriority(tc.in)
		assert.Equal(t, tc.priority, priority, "%+v", tc.in)
		assert.Equal(t, tc.score, score, "%+v", tc.in)
	}
}

func TestEstimateDuration(t *testing.T) {
	assert.Equal(t, 3, EstimateDuration(TestUnit, ComplexityLow))
	assert.Equal(t, 15, EstimateDuration(TestIntegration, ComplexityMedium))
	assert.Equal(t, 50, EstimateDuration(TestE2E, ComplexityHigh))
	assert.Equal(t, 16, EstimateDuration(TestSecurity, ComplexityLow))
	assert.Equal(t, 91, EstimateDuration(TestPerformance, ComplexityHigh))
	assert.Equal(t, 3, EstimateDuration(TestType("fuzz"), ComplexityLow))
}

func TestCriticalPaths(t *testing.T) {
	got := CriticalPaths([]string{"auth/login.py", "api/users.py", "auth/login.py", "README.md"})
	assert.Equal(t, []string{
		"API endpoints (api/users.py)",
		"Authentication (auth/login.py)",
		"User management (api/users.py)",
	}, got)

	assert.Equal(t, []string{}, CriticalPaths(nil))
}
