// Package analyzer implements change analysis: turning a unified diff into
// per-file CodeChange records.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"

	"github.com/izavyalov-dev/delta-qa/analysis"
	"github.com/izavyalov-dev/delta-qa/internal/observability"
)

// ParsedFile is one file of a parsed diff with the lines that matter for
// symbol detection.
type ParsedFile struct {
	Path       string
	OldPath    string
	ChangeType analysis.ChangeType
	Binary     bool
	Added      int
	Deleted    int
	// Lines holds added and context lines, plus removed lines for deleted
	// files, without the diff prefix.
	Lines []string
	// HunkHeaders holds the text after each "@@ ... @@" marker.
	HunkHeaders []string
}

// ParseDiff parses a unified diff. An empty diff yields no files.
func ParseDiff(raw string) ([]ParsedFile, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	files, _, err := gitdiff.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, analysis.SchemaErrorf("parse diff: %v", err)
	}

	parsed := make([]ParsedFile, 0, len(files))
	for _, f := range files {
		pf := ParsedFile{
			Path:       f.NewName,
			OldPath:    f.OldName,
			ChangeType: analysis.ChangeModified,
			Binary:     f.IsBinary,
		}
		switch {
		case f.IsNew:
			pf.ChangeType = analysis.ChangeAdded
		case f.IsDelete:
			pf.ChangeType = analysis.ChangeDeleted
			pf.Path = f.OldName
		case f.IsRename:
			pf.ChangeType = analysis.ChangeRenamed
		}
		if pf.Path == "" {
			pf.Path = f.OldName
		}

		for _, frag := range f.TextFragments {
			if comment := strings.TrimSpace(frag.Comment); comment != "" {
				pf.HunkHeaders = append(pf.HunkHeaders, comment)
			}
			for _, line := range frag.Lines {
				text := strings.TrimRight(line.Line, "\r\n")
				switch line.Op {
				case gitdiff.OpAdd:
					pf.Added++
					pf.Lines = append(pf.Lines, text)
				case gitdiff.OpDelete:
					pf.Deleted++
					if f.IsDelete {
						pf.Lines = append(pf.Lines, text)
					}
				case gitdiff.OpContext:
					pf.Lines = append(pf.Lines, text)
				}
			}
		}
		parsed = append(parsed, pf)
	}
	return parsed, nil
}

// RuleAnalyzer derives CodeChange records from the diff with per-language
// declaration patterns. It makes no external calls.
type RuleAnalyzer struct {
	logger *slog.Logger
}

func NewRuleAnalyzer(logger *slog.Logger) *RuleAnalyzer {
	if logger == nil {
		logger = observability.NewLogger("analyzer")
	}
	return &RuleAnalyzer{logger: logger}
}

// Execute implements analysis.ChangeAnalyzer. Binary files and non-deleted
// files without a line delta are skipped.
func (a *RuleAnalyzer) Execute(ctx context.Context, in analysis.DiffInput) ([]analysis.CodeChange, error) {
	files, err := ParseDiff(in.Diff)
	if err != nil {
		return nil, analysis.NewStageError(analysis.StageChangeAnalysis, err)
	}

	changes := make([]analysis.CodeChange, 0, len(files))
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, analysis.NewStageError(analysis.StageChangeAnalysis, err)
		}
		change, ok := BuildChange(file)
		if !ok {
			a.logger.Debug("diff file skipped", "event", "diff_file_skipped", "file", file.Path, "binary", file.Binary)
			continue
		}
		changes = append(changes, change)
	}
	return changes, nil
}

// BuildChange converts a parsed file. ok is false for files that must not
// produce a record.
func BuildChange(file ParsedFile) (analysis.CodeChange, bool) {
	if file.Binary {
		return analysis.CodeChange{}, false
	}
	if file.ChangeType != analysis.ChangeDeleted && file.Added+file.Deleted == 0 {
		return analysis.CodeChange{}, false
	}

	fileType := ClassifyFile(file.Path)
	functions, classes := []string{}, []string{}
	if fileType == analysis.FileSource || fileType == analysis.FileTest {
		lines := append(append([]string{}, file.HunkHeaders...), file.Lines...)
		functions, classes = ExtractSymbols(DetectLanguage(file.Path), lines)
	}

	lines := file.Added + file.Deleted
	change := analysis.CodeChange{
		FilePath:         file.Path,
		ChangeType:       file.ChangeType,
		FileType:         fileType,
		FunctionsChanged: functions,
		ClassesChanged:   classes,
		LinesAdded:       file.Added,
		LinesDeleted:     file.Deleted,
		ComplexityImpact: ComplexityFor(lines, len(functions)+len(classes)),
		KeyChanges:       keyChanges(file, functions, classes),
	}
	return change, true
}

func keyChanges(file ParsedFile, functions, classes []string) string {
	var parts []string
	if file.ChangeType == analysis.ChangeRenamed && file.OldPath != "" {
		parts = append(parts, fmt.Sprintf("renamed from %s", file.OldPath))
	}
	if len(classes) > 0 {
		parts = append(parts, fmt.Sprintf("classes: %s", strings.Join(classes, ", ")))
	}
	if len(functions) > 0 {
		parts = append(parts, fmt.Sprintf("functions: %s", strings.Join(functions, ", ")))
	}
	return strings.Join(parts, "; ")
}

var _ analysis.ChangeAnalyzer = (*RuleAnalyzer)(nil)
