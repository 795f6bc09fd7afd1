package coverage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/izavyalov-dev/delta-qa/analysis"
	"github.com/izavyalov-dev/delta-qa/internal/llm"
)

func sourceChange(path string, added, deleted int, complexity analysis.Complexity, funcs ...string) analysis.CodeChange {
	return analysis.CodeChange{
		FilePath:         path,
		ChangeType:       analysis.ChangeModified,
		FileType:         analysis.FileSource,
		FunctionsChanged: funcs,
		ClassesChanged:   []string{},
		LinesAdded:       added,
		LinesDeleted:     deleted,
		ComplexityImpact: complexity,
	}
}

func testChange(path string, funcs ...string) analysis.CodeChange {
	return analysis.CodeChange{
		FilePath:         path,
		ChangeType:       analysis.ChangeModified,
		FileType:         analysis.FileTest,
		FunctionsChanged: funcs,
		ClassesChanged:   []string{},
		LinesAdded:       5,
		ComplexityImpact: analysis.ComplexityLow,
	}
}

func TestRuleDetectorSensitiveFileIsCritical(t *testing.T) {
	changes := []analysis.CodeChange{sourceChange("auth/login.py", 40, 5, analysis.ComplexityMedium, "login")}

	gaps, err := NewRuleDetector(nil).Execute(context.Background(), analysis.GapInput{Changes: changes})
	require.NoError(t, err)
	require.Len(t, gaps, 1)

	gap := gaps[0]
	assert.Equal(t, analysis.RiskCritical, gap.RiskLevel)
	assert.Equal(t, "security-sensitive keyword match: auth, login; no matching test file found; 1 functions or classes without tests", gap.Reason)
	assert.Equal(t, []string{"login"}, gap.FunctionsWithoutTests)
	assert.Empty(t, gap.ExistingTestFiles)
	assert.False(t, gap.PartiallyCovered)
	assert.Equal(t, []analysis.TestType{analysis.TestUnit, analysis.TestSecurity}, gap.RecommendedTestTypes)
	assert.Equal(t, ScenarioHappyPath, gap.ScenariosMissing[0])
	assert.Equal(t, ScenarioErrorHandling, gap.ScenariosMissing[1])
	assert.Contains(t, gap.ScenariosMissing, "Invalid credentials")
}

func TestRuleDetectorFullyCoveredFileHasNoGap(t *testing.T) {
	changes := []analysis.CodeChange{
		sourceChange("app/users.py", 10, 2, analysis.ComplexityLow, "create_user"),
		testChange("tests/test_users.py", "test_create_user_duplicate"),
	}
	gaps, err := NewRuleDetector(nil).Execute(context.Background(), analysis.GapInput{Changes: changes})
	require.NoError(t, err)
	assert.Empty(t, gaps)
}

func TestRuleDetectorPartialCoverage(t *testing.T) {
	changes := []analysis.CodeChange{
		sourceChange("app/users.py", 15, 5, analysis.ComplexityLow, "create_user", "delete_user"),
		testChange("tests/test_users.py", "test_create_user"),
	}
	gaps, err := NewRuleDetector(nil).Execute(context.Background(), analysis.GapInput{Changes: changes})
	require.NoError(t, err)
	require.Len(t, gaps, 1)

	gap := gaps[0]
	assert.Equal(t, []string{"delete_user"}, gap.FunctionsWithoutTests)
	assert.Equal(t, []string{"tests/test_users.py"}, gap.ExistingTestFiles)
	assert.True(t, gap.PartiallyCovered)
	assert.Equal(t, analysis.RiskMedium, gap.RiskLevel)
}

func TestRuleDetectorUsesRepositoryTree(t *testing.T) {
	changes := []analysis.CodeChange{sourceChange("src/billing.py", 8, 2, analysis.ComplexityLow, "charge")}
	gaps, err := NewRuleDetector(nil).Execute(context.Background(), analysis.GapInput{
		Changes:         changes,
		RepositoryPaths: []string{"src/billing.py", "tests/unit/test_billing.py", "README.md"},
	})
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	assert.Equal(t, []string{"tests/unit/test_billing.py"}, gaps[0].ExistingTestFiles)
	assert.True(t, gaps[0].PartiallyCovered)
	assert.Equal(t, analysis.RiskHigh, gaps[0].RiskLevel)
}

func TestRuleDetectorIgnoresNonSourceChanges(t *testing.T) {
	changes := []analysis.CodeChange{
		{FilePath: "config/app.yaml", ChangeType: analysis.ChangeModified, FileType: analysis.FileConfig, LinesAdded: 1, ComplexityImpact: analysis.ComplexityLow},
		{FilePath: "README.md", ChangeType: analysis.ChangeModified, FileType: analysis.FileDocumentation, LinesAdded: 3, ComplexityImpact: analysis.ComplexityLow},
		{FilePath: "app/old.py", ChangeType: analysis.ChangeDeleted, FileType: analysis.FileSource, LinesDeleted: 30, ComplexityImpact: analysis.ComplexityLow},
		testChange("tests/test_misc.py", "test_misc"),
	}
	gaps, err := NewRuleDetector(nil).Execute(context.Background(), analysis.GapInput{Changes: changes})
	require.NoError(t, err)
	assert.Empty(t, gaps)
}

func TestRuleDetectorOrdersByRisk(t *testing.T) {
	changes := []analysis.CodeChange{
		sourceChange("lib/format.py", 3, 0, analysis.ComplexityLow, "pad"),
		sourceChange("payments/payment.py", 120, 10, analysis.ComplexityHigh, "refund"),
	}
	gaps, err := NewRuleDetector(nil).Execute(context.Background(), analysis.GapInput{Changes: changes})
	require.NoError(t, err)
	require.Len(t, gaps, 2)
	assert.Equal(t, "payments/payment.py", gaps[0].FilePath)
	assert.Equal(t, analysis.RiskCritical, gaps[0].RiskLevel)
	assert.Equal(t, "lib/format.py", gaps[1].FilePath)
}

func TestTestFileNames(t *testing.T) {
	assert.Contains(t, TestFileNames("src/Button.tsx"), "Button.test.tsx")
	assert.Contains(t, TestFileNames("src/Button.tsx"), "Button.spec.ts")
	assert.Contains(t, TestFileNames("app/models/user.py"), "test_user.py")
	assert.Contains(t, TestFileNames("pkg/server.go"), "server_test.go")
	assert.Contains(t, TestFileNames("src/Foo.java"), "FooTest.java")
}

func TestRecommendedTestTypes(t *testing.T) {
	assert.Equal(t,
		[]analysis.TestType{analysis.TestUnit, analysis.TestIntegration, analysis.TestE2E},
		RecommendedTestTypes("web/handlers/orders.go", []string{"List"}))
	assert.Equal(t,
		[]analysis.TestType{analysis.TestUnit},
		RecommendedTestTypes("lib/strings.py", []string{"pad"}))
}

func stubModel(response string, called *bool) llm.Client {
	return llm.ClientFunc(func(ctx context.Context, req llm.Request) (string, error) {
		if called != nil {
			*called = true
		}
		return response, nil
	})
}

func TestLLMDetectorRejectsUnjustifiedCritical(t *testing.T) {
	changes := []analysis.CodeChange{sourceChange("app/util.py", 10, 0, analysis.ComplexityLow, "helper")}
	client := stubModel(`{"gaps": [{"file_path": "app/util.py", "risk_level": "critical", "reason": "complex logic"}]}`, nil)

	_, err := NewLLMDetector(client, nil).Execute(context.Background(), analysis.GapInput{Changes: changes})
	require.Error(t, err)
	assert.True(t, errors.Is(err, analysis.ErrSchemaValidation))
}

func TestLLMDetectorRejectsUnknownFile(t *testing.T) {
	changes := []analysis.CodeChange{sourceChange("app/util.py", 10, 0, analysis.ComplexityLow, "helper")}
	client := stubModel(`{"gaps": [{"file_path": "app/other.py", "risk_level": "low", "reason": "untested"}]}`, nil)

	_, err := NewLLMDetector(client, nil).Execute(context.Background(), analysis.GapInput{Changes: changes})
	assert.True(t, errors.Is(err, analysis.ErrSchemaValidation))
}

func TestLLMDetectorNormalizesAndSorts(t *testing.T) {
	changes := []analysis.CodeChange{
		sourceChange("app/util.py", 10, 0, analysis.ComplexityLow, "helper"),
		sourceChange("auth/session.py", 10, 0, analysis.ComplexityLow, "refresh"),
	}
	client := stubModel(`{"gaps": [
		{"file_path": "app/util.py", "risk_level": "low", "reason": "utility without tests"},
		{"file_path": "auth/session.py", "risk_level": "critical", "reason": "auth session handling is untested"}
	]}`, nil)

	gaps, err := NewLLMDetector(client, nil).Execute(context.Background(), analysis.GapInput{Changes: changes})
	require.NoError(t, err)
	require.Len(t, gaps, 2)
	assert.Equal(t, "auth/session.py", gaps[0].FilePath)
	assert.Equal(t, []analysis.TestType{analysis.TestUnit}, gaps[1].RecommendedTestTypes)
	assert.NotNil(t, gaps[1].FunctionsWithoutTests)
}

func TestLLMDetectorSkipsModelWithoutSourceChanges(t *testing.T) {
	called := false
	changes := []analysis.CodeChange{testChange("tests/test_misc.py", "test_misc")}
	gaps, err := NewLLMDetector(stubModel(`{}`, &called), nil).Execute(context.Background(), analysis.GapInput{Changes: changes})
	require.NoError(t, err)
	assert.Empty(t, gaps)
	assert.False(t, called)
}
