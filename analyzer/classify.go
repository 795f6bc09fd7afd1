package analyzer

import (
	"path"
	"strings"

	"github.com/izavyalov-dev/delta-qa/analysis"
)

var (
	testIndicators   = []string{"/test", "/tests", "_test.", "test_", ".test.", ".spec."}
	configIndicators = []string{
		"config", "settings", ".env", "dockerfile", "docker-compose",
		".yaml", ".yml", ".json", ".toml", ".ini",
	}
	docIndicators = []string{"readme", ".md", "/docs/", "/doc/", "documentation", "changelog", "license"}
)

var languageByExt = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".vue":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".java": "java",
	".go":   "go",
}

// ClassifyFile assigns a file type from the path alone. Checks run in order
// test, config, documentation, source; the first match wins.
func ClassifyFile(filePath string) analysis.FileType {
	lower := "/" + strings.ToLower(strings.TrimPrefix(filePath, "/"))
	switch {
	case containsAny(lower, testIndicators):
		return analysis.FileTest
	case containsAny(lower, configIndicators):
		return analysis.FileConfig
	case containsAny(lower, docIndicators):
		return analysis.FileDocumentation
	case DetectLanguage(filePath) != "":
		return analysis.FileSource
	default:
		return analysis.FileOther
	}
}

// DetectLanguage returns the language for known source extensions, or "".
func DetectLanguage(filePath string) string {
	return languageByExt[strings.ToLower(path.Ext(filePath))]
}

func containsAny(value string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(value, needle) {
			return true
		}
	}
	return false
}

// ComplexityFor tiers a change by size and the number of symbols touched.
func ComplexityFor(linesChanged, symbols int) analysis.Complexity {
	switch {
	case linesChanged > 100 || symbols > 5:
		return analysis.ComplexityHigh
	case linesChanged > 30 || symbols > 2:
		return analysis.ComplexityMedium
	default:
		return analysis.ComplexityLow
	}
}
