package analyzer

import (
	"regexp"
	"sort"
)

type symbolPatterns struct {
	function *regexp.Regexp
	class    *regexp.Regexp
}

var patternsByLanguage = map[string]symbolPatterns{
	"python": {
		function: regexp.MustCompile(`^\s*(?:async\s+)?def\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\(`),
		class:    regexp.MustCompile(`^\s*class\s+([a-zA-Z_][a-zA-Z0-9_]*)`),
	},
	"javascript": {
		function: regexp.MustCompile(`^\s*(?:async\s+)?(?:function\s+)?([a-zA-Z_$][a-zA-Z0-9_$]*)\s*[=:]\s*(?:async\s+)?\(`),
		class:    regexp.MustCompile(`^\s*class\s+([a-zA-Z_$][a-zA-Z0-9_$]*)`),
	},
	"typescript": {
		function: regexp.MustCompile(`^\s*(?:async\s+)?(?:function\s+)?([a-zA-Z_$][a-zA-Z0-9_$]*)\s*[=:]?\s*\(`),
		class:    regexp.MustCompile(`^\s*(?:export\s+)?class\s+([a-zA-Z_$][a-zA-Z0-9_$]*)`),
	},
	"java": {
		function: regexp.MustCompile(`^\s*(?:public|private|protected)?\s*(?:static\s+)?(?:\w+\s+)?([a-zA-Z_][a-zA-Z0-9_]*)\s*\(`),
		class:    regexp.MustCompile(`^\s*(?:public\s+)?class\s+([a-zA-Z_][a-zA-Z0-9_]*)`),
	},
	"go": {
		function: regexp.MustCompile(`^\s*func\s+(?:\([^)]+\)\s+)?([a-zA-Z_][a-zA-Z0-9_]*)\s*\(`),
		class:    regexp.MustCompile(`^\s*type\s+([a-zA-Z_][a-zA-Z0-9_]*)\s+struct`),
	},
}

// Call sites such as "if (" match the looser function patterns.
var controlKeywords = map[string]struct{}{
	"if": {}, "for": {}, "while": {}, "switch": {}, "return": {},
	"catch": {}, "else": {}, "new": {}, "function": {},
}

// ExtractSymbols returns the sorted, de-duplicated function and class names
// declared on the given lines. Unknown languages yield nothing.
func ExtractSymbols(language string, lines []string) (functions []string, classes []string) {
	patterns, ok := patternsByLanguage[language]
	if !ok {
		return []string{}, []string{}
	}
	funcSet := make(map[string]struct{})
	classSet := make(map[string]struct{})
	for _, line := range lines {
		if m := patterns.class.FindStringSubmatch(line); m != nil {
			classSet[m[1]] = struct{}{}
			continue
		}
		if m := patterns.function.FindStringSubmatch(line); m != nil {
			if _, skip := controlKeywords[m[1]]; !skip {
				funcSet[m[1]] = struct{}{}
			}
		}
	}
	return sortedKeys(funcSet), sortedKeys(classSet)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
