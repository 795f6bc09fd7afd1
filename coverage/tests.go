package coverage

import (
	"path"
	"sort"
	"strings"

	"github.com/izavyalov-dev/delta-qa/analysis"
	"github.com/izavyalov-dev/delta-qa/analyzer"
)

// TestFileNames returns the file names a test for sourcePath would
// conventionally have.
func TestFileNames(sourcePath string) []string {
	base := path.Base(sourcePath)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		return nil
	}
	names := []string{
		"test_" + stem + ext,
		stem + "_test" + ext,
		stem + ".test" + ext,
		stem + ".spec" + ext,
	}
	switch ext {
	case ".js", ".jsx", ".ts", ".tsx", ".vue":
		for _, alt := range []string{".js", ".ts"} {
			if alt != ext {
				names = append(names, stem+".test"+alt, stem+".spec"+alt)
			}
		}
	case ".java":
		names = append(names, stem+"Test"+ext, stem+"Tests"+ext)
	}
	return names
}

// testIndex answers which test files relate to a source file, across the
// repository tree and the test files changed in the same diff.
type testIndex struct {
	byName  map[string][]string
	changed []analysis.CodeChange
}

func newTestIndex(repositoryPaths []string, changes []analysis.CodeChange) *testIndex {
	idx := &testIndex{byName: make(map[string][]string)}
	add := func(p string) {
		name := strings.ToLower(path.Base(p))
		idx.byName[name] = append(idx.byName[name], p)
	}
	for _, p := range repositoryPaths {
		if analyzer.ClassifyFile(p) == analysis.FileTest {
			add(p)
		}
	}
	for _, change := range changes {
		if change.FileType != analysis.FileTest || change.ChangeType == analysis.ChangeDeleted {
			continue
		}
		idx.changed = append(idx.changed, change)
		add(change.FilePath)
	}
	return idx
}

// existing returns the sorted test files that follow a naming convention for
// sourcePath.
func (idx *testIndex) existing(sourcePath string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, name := range TestFileNames(sourcePath) {
		for _, p := range idx.byName[strings.ToLower(name)] {
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				out = append(out, p)
			}
		}
	}
	sort.Strings(out)
	return out
}

// relatedChanges returns test changes in this diff that target sourcePath,
// either by naming convention or because the test path mentions the source
// file's stem.
func (idx *testIndex) relatedChanges(sourcePath string) []analysis.CodeChange {
	names := make(map[string]struct{})
	for _, name := range TestFileNames(sourcePath) {
		names[strings.ToLower(name)] = struct{}{}
	}
	stem := strings.ToLower(strings.TrimSuffix(path.Base(sourcePath), path.Ext(sourcePath)))

	var out []analysis.CodeChange
	for _, change := range idx.changed {
		lower := strings.ToLower(change.FilePath)
		if _, ok := names[path.Base(lower)]; ok || (len(stem) > 2 && strings.Contains(path.Base(lower), stem)) {
			out = append(out, change)
		}
	}
	return out
}

// splitTested partitions symbols by whether any related test function name
// mentions them.
func splitTested(symbols []string, tests []analysis.CodeChange) (tested, untested []string) {
	untested = []string{}
	for _, symbol := range symbols {
		if mentioned(symbol, tests) {
			tested = append(tested, symbol)
		} else {
			untested = append(untested, symbol)
		}
	}
	return tested, untested
}

func mentioned(symbol string, tests []analysis.CodeChange) bool {
	needle := strings.ToLower(symbol)
	for _, test := range tests {
		for _, name := range append(append([]string{}, test.FunctionsChanged...), test.ClassesChanged...) {
			if strings.Contains(strings.ToLower(name), needle) {
				return true
			}
		}
	}
	return false
}
