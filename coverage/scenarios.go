package coverage

import (
	"strings"

	"github.com/izavyalov-dev/delta-qa/analysis"
)

const (
	ScenarioHappyPath     = "Happy path / successful execution"
	ScenarioErrorHandling = "Error handling and exception cases"
)

var scenarioRules = []struct {
	keywords  []string
	pathOnly  bool
	scenarios []string
}{
	{[]string{"create", "add"}, false, []string{"Duplicate creation / uniqueness constraints", "Invalid input validation"}},
	{[]string{"update", "modify"}, false, []string{"Update non-existent entity", "Concurrent update conflicts"}},
	{[]string{"delete", "remove"}, false, []string{"Delete non-existent entity", "Cascade delete effects"}},
	{[]string{"get", "fetch", "find"}, false, []string{"Not found / empty result handling", "Pagination and filtering"}},
	{[]string{"auth", "login"}, false, []string{"Invalid credentials", "Session expiration", "Permission/authorization checks"}},
	{[]string{"api", "endpoint"}, true, []string{"API input validation", "API error responses"}},
	{[]string{"database", "db", "repo"}, true, []string{"Database connection failures", "Transaction rollback"}},
}

var edgeCaseScenarios = []string{
	"Boundary values (empty, null, maximum)",
	"Race conditions / concurrency",
}

// Scenarios suggests missing test scenarios for a changed file. The happy
// path and error handling are always included.
func Scenarios(filePath string, symbols []string) []string {
	names := strings.ToLower(strings.Join(symbols, " "))
	lowerPath := strings.ToLower(filePath)

	out := []string{ScenarioHappyPath, ScenarioErrorHandling}
	for _, rule := range scenarioRules {
		subject := lowerPath
		if !rule.pathOnly {
			subject = names + " " + lowerPath
		}
		for _, kw := range rule.keywords {
			if strings.Contains(subject, kw) {
				out = append(out, rule.scenarios...)
				break
			}
		}
	}
	return append(out, edgeCaseScenarios...)
}

var (
	integrationKeywords = []string{"api", "endpoint", "service", "database", "db", "repo", "handler", "client"}
	e2eKeywords         = []string{"route", "view", "handler", "controller", "page"}
)

// RecommendedTestTypes always includes unit tests; integration, security and
// e2e are added by keyword.
func RecommendedTestTypes(filePath string, symbols []string) []analysis.TestType {
	lowerPath := strings.ToLower(filePath)
	subject := lowerPath + " " + strings.ToLower(strings.Join(symbols, " "))

	types := []analysis.TestType{analysis.TestUnit}
	if containsAny(subject, integrationKeywords) {
		types = append(types, analysis.TestIntegration)
	}
	if len(analysis.SensitiveKeywordsIn(subject)) > 0 {
		types = append(types, analysis.TestSecurity)
	}
	if containsAny(lowerPath, e2eKeywords) {
		types = append(types, analysis.TestE2E)
	}
	return types
}

func containsAny(value string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(value, needle) {
			return true
		}
	}
	return false
}
