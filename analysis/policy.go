package analysis

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Risk and priority scoring policy. The thresholds below are fixed; model
// output is checked against the same policy so results stay comparable
// between the rule-based and LLM-backed stages.

// SensitiveKeywords mark security, authentication and payment code. Only a
// match on one of these can lift a gap to critical.
var SensitiveKeywords = []string{
	"auth", "login", "logout", "password", "credential", "secret",
	"permission", "payment", "billing", "transaction", "security",
	"admin", "encrypt", "crypto",
}

// ElevatedKeywords mark business-critical code.
var ElevatedKeywords = []string{
	"user", "account", "database", "api", "service", "create",
	"update", "modify", "delete", "remove", "drop", "migration",
}

const (
	scoreSensitiveKeyword = 40
	scoreElevatedKeyword  = 25
	scoreNoExistingTests  = 20

	// CriticalRiskThreshold applies only when a sensitive keyword matched;
	// otherwise the level is capped at high.
	CriticalRiskThreshold = 60
	HighRiskThreshold     = 40
	MediumRiskThreshold   = 20

	CriticalPriorityThreshold = 120
	HighPriorityThreshold     = 85
	MediumPriorityThreshold   = 55
)

// SensitiveKeywordsIn returns the sensitive keywords found in text.
func SensitiveKeywordsIn(text string) []string {
	return matchKeywords(text, SensitiveKeywords)
}

// ElevatedKeywordsIn returns the elevated keywords found in text.
func ElevatedKeywordsIn(text string) []string {
	return matchKeywords(text, ElevatedKeywords)
}

func matchKeywords(text string, keywords []string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			out = append(out, kw)
		}
	}
	return out
}

// RiskInput carries the signals used to score a coverage gap.
type RiskInput struct {
	FilePath         string
	Symbols          []string
	UntestedCount    int
	LinesChanged     int
	Complexity       Complexity
	HasExistingTests bool
}

// RiskAssessment is the scored result with a human-readable reason.
type RiskAssessment struct {
	Level   RiskLevel
	Score   int
	Reasons []string
}

// Reason joins the individual reasons into one sentence.
func (a RiskAssessment) Reason() string {
	if len(a.Reasons) == 0 {
		return "Changed code lacks test coverage"
	}
	return strings.Join(a.Reasons, "; ")
}

// ScoreRisk applies the fixed risk policy.
func ScoreRisk(in RiskInput) RiskAssessment {
	var out RiskAssessment
	subject := in.FilePath + " " + strings.Join(in.Symbols, " ")

	sensitive := SensitiveKeywordsIn(subject)
	if len(sensitive) > 0 {
		out.Score += scoreSensitiveKeyword
		out.Reasons = append(out.Reasons, fmt.Sprintf("security-sensitive keyword match: %s", strings.Join(sensitive, ", ")))
	} else if elevated := ElevatedKeywordsIn(subject); len(elevated) > 0 {
		out.Score += scoreElevatedKeyword
		out.Reasons = append(out.Reasons, fmt.Sprintf("business-critical keyword match: %s", strings.Join(elevated, ", ")))
	}

	if !in.HasExistingTests {
		out.Score += scoreNoExistingTests
		out.Reasons = append(out.Reasons, "no matching test file found")
	}

	switch {
	case in.UntestedCount > 10:
		out.Score += 25
	case in.UntestedCount > 5:
		out.Score += 15
	case in.UntestedCount > 0:
		out.Score += 5
	}
	if in.UntestedCount > 0 {
		out.Reasons = append(out.Reasons, fmt.Sprintf("%d functions or classes without tests", in.UntestedCount))
	}

	switch {
	case in.LinesChanged > 200:
		out.Score += 20
		out.Reasons = append(out.Reasons, fmt.Sprintf("large change (%d lines)", in.LinesChanged))
	case in.LinesChanged > 100:
		out.Score += 10
		out.Reasons = append(out.Reasons, fmt.Sprintf("sizeable change (%d lines)", in.LinesChanged))
	}

	switch in.Complexity {
	case ComplexityHigh:
		out.Score += 15
	case ComplexityMedium:
		out.Score += 8
	}

	switch {
	case out.Score >= CriticalRiskThreshold && len(sensitive) > 0:
		out.Level = RiskCritical
	case out.Score >= HighRiskThreshold:
		out.Level = RiskHigh
	case out.Score >= MediumRiskThreshold:
		out.Level = RiskMedium
	default:
		out.Level = RiskLow
	}
	return out
}

// PriorityInput carries the signals used to prioritize a recommendation.
type PriorityInput struct {
	Risk          RiskLevel
	TestType      TestType
	Subject       string
	FunctionCount int
}

// ScorePriority applies the fixed priority policy.
func ScorePriority(in PriorityInput) (Priority, int) {
	score := 25
	switch in.Risk {
	case RiskCritical:
		score = 100
	case RiskHigh:
		score = 75
	case RiskMedium:
		score = 50
	}

	switch in.TestType {
	case TestSecurity:
		score += 30
	case TestIntegration:
		score += 20
	case TestE2E:
		score += 15
	case TestUnit:
		score += 10
	case TestPerformance:
		score += 5
	}

	if len(SensitiveKeywordsIn(in.Subject)) > 0 {
		score += 20
	}
	if in.FunctionCount > 5 {
		score += 10
	}

	switch {
	case score >= CriticalPriorityThreshold:
		return PriorityCritical, score
	case score >= HighPriorityThreshold:
		return PriorityHigh, score
	case score >= MediumPriorityThreshold:
		return PriorityMedium, score
	default:
		return PriorityLow, score
	}
}

var baseTestSeconds = map[TestType]float64{
	TestUnit:        2,
	TestIntegration: 10,
	TestE2E:         30,
	TestSecurity:    15,
	TestPerformance: 60,
}

// EstimateDuration returns the expected runtime in seconds of one test. The
// result is always positive.
func EstimateDuration(testType TestType, complexity Complexity) int {
	base, ok := baseTestSeconds[testType]
	if !ok {
		base = baseTestSeconds[TestUnit]
	}
	if complexity == ComplexityHigh {
		base *= 1.5
	}
	overhead := 1
	if testType == TestIntegration || testType == TestE2E {
		overhead = 5
	}
	return int(math.Ceil(base)) + overhead
}

var criticalPathPatterns = []struct {
	name     string
	keywords []string
}{
	{"Authentication", []string{"auth", "login", "logout", "password", "credential"}},
	{"Authorization", []string{"permission", "role", "admin", "access"}},
	{"Payment processing", []string{"payment", "billing", "checkout", "invoice"}},
	{"Transactions", []string{"transaction"}},
	{"Security", []string{"security", "encrypt", "crypto", "secret"}},
	{"Data modification", []string{"delete", "remove", "drop", "migration"}},
	{"User management", []string{"user", "account", "profile"}},
	{"API endpoints", []string{"api", "endpoint", "route", "handler", "controller"}},
}

// CriticalPaths names the critical areas a set of files touches, formatted as
// "Pattern (file)" and sorted.
func CriticalPaths(files []string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, file := range files {
		lower := strings.ToLower(file)
		for _, pattern := range criticalPathPatterns {
			for _, kw := range pattern.keywords {
				if !strings.Contains(lower, kw) {
					continue
				}
				entry := fmt.Sprintf("%s (%s)", pattern.name, file)
				if _, ok := seen[entry]; !ok {
					seen[entry] = struct{}{}
					out = append(out, entry)
				}
				break
			}
		}
	}
	sort.Strings(out)
	return out
}
