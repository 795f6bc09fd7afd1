package analyzer

import (
	"context"
	"log/slog"

	"github.com/izavyalov-dev/delta-qa/analysis"
	"github.com/izavyalov-dev/delta-qa/internal/llm"
	"github.com/izavyalov-dev/delta-qa/internal/observability"
)

const (
	defaultExcerptLines = 80
	defaultMaxFiles     = 50
)

const changeAnalysisSystem = "You are an expert software engineer reviewing pull requests. " +
	"You identify what changed, where it changed and how much risk the change carries."

const changeAnalysisInstructions = `Analyze the pull request files below and produce one CodeChange per file.
For each file decide change_type (added, modified, deleted, renamed), file_type
(source, test, config, documentation, other), the functions and classes that were
changed, and complexity_impact (low, medium, high) from the size of the change and
the number of symbols affected. The baseline field is a heuristic reading of the
same diff; correct it where the excerpt shows otherwise.`

const changeAnalysisSchema = `{"changes": [{"file_path": string, "change_type": string, "file_type": string,
 "functions_changed": [string], "classes_changed": [string], "lines_added": int,
 "lines_deleted": int, "complexity_impact": string, "key_changes": string}]}`

type changeAnalysisFile struct {
	FilePath     string              `json:"file_path"`
	ChangeType   analysis.ChangeType `json:"change_type"`
	LinesAdded   int                 `json:"lines_added"`
	LinesDeleted int                 `json:"lines_deleted"`
	Baseline     analysis.CodeChange `json:"baseline"`
	Excerpt      []string            `json:"excerpt"`
}

type changeAnalysisInput struct {
	Repository string               `json:"repository"`
	PRNumber   int                  `json:"pr_number"`
	Files      []changeAnalysisFile `json:"files"`
}

type changeAnalysisOutput struct {
	Changes []analysis.CodeChange `json:"changes"`
}

// LLMAnalyzer asks the model for CodeChange records and checks them against
// the parsed diff. Line counts always come from the diff.
type LLMAnalyzer struct {
	client       llm.Client
	logger       *slog.Logger
	excerptLines int
	maxFiles     int
}

func NewLLMAnalyzer(client llm.Client, logger *slog.Logger) *LLMAnalyzer {
	if logger == nil {
		logger = observability.NewLogger("analyzer.llm")
	}
	return &LLMAnalyzer{
		client:       client,
		logger:       logger,
		excerptLines: defaultExcerptLines,
		maxFiles:     defaultMaxFiles,
	}
}

func (a *LLMAnalyzer) Execute(ctx context.Context, in analysis.DiffInput) ([]analysis.CodeChange, error) {
	files, err := ParseDiff(in.Diff)
	if err != nil {
		return nil, analysis.NewStageError(analysis.StageChangeAnalysis, err)
	}

	byPath := make(map[string]ParsedFile, len(files))
	baselines := make(map[string]analysis.CodeChange, len(files))
	var order []string
	input := changeAnalysisInput{Repository: in.Repository, PRNumber: in.PRNumber}
	for _, file := range files {
		baseline, ok := BuildChange(file)
		if !ok {
			continue
		}
		byPath[file.Path] = file
		baselines[file.Path] = baseline
		order = append(order, file.Path)
		if len(input.Files) < a.maxFiles {
			input.Files = append(input.Files, changeAnalysisFile{
				FilePath:     file.Path,
				ChangeType:   file.ChangeType,
				LinesAdded:   file.Added,
				LinesDeleted: file.Deleted,
				Baseline:     baseline,
				Excerpt:      excerpt(file.Lines, a.excerptLines),
			})
		}
	}
	if len(input.Files) == 0 {
		return []analysis.CodeChange{}, nil
	}

	out, err := llm.Invoke[changeAnalysisOutput](ctx, a.client, llm.Task{
		Name:         string(analysis.StageChangeAnalysis),
		System:       changeAnalysisSystem,
		Instructions: changeAnalysisInstructions,
		Input:        input,
		Schema:       changeAnalysisSchema,
	})
	if err != nil {
		return nil, analysis.NewStageError(analysis.StageChangeAnalysis, err)
	}

	fromModel := make(map[string]analysis.CodeChange, len(out.Changes))
	for _, change := range out.Changes {
		file, ok := byPath[change.FilePath]
		if !ok {
			return nil, analysis.NewStageError(analysis.StageChangeAnalysis,
				analysis.SchemaErrorf("code change %s: file not in diff", change.FilePath))
		}
		if _, dup := fromModel[change.FilePath]; dup {
			return nil, analysis.NewStageError(analysis.StageChangeAnalysis,
				analysis.SchemaErrorf("code change %s: duplicate file_path", change.FilePath))
		}
		change.LinesAdded = file.Added
		change.LinesDeleted = file.Deleted
		if change.FunctionsChanged == nil {
			change.FunctionsChanged = []string{}
		}
		if change.ClassesChanged == nil {
			change.ClassesChanged = []string{}
		}
		fromModel[change.FilePath] = change
	}

	// Files the model skipped or never saw keep their heuristic reading.
	changes := make([]analysis.CodeChange, 0, len(order))
	for _, path := range order {
		if change, ok := fromModel[path]; ok {
			changes = append(changes, change)
			continue
		}
		changes = append(changes, baselines[path])
	}
	if err := analysis.ValidateChanges(changes); err != nil {
		return nil, analysis.NewStageError(analysis.StageChangeAnalysis, err)
	}
	a.logger.Debug("llm change analysis complete", "event", "change_analysis_llm_complete",
		"files", len(changes), "from_model", len(fromModel), "baseline", len(changes)-len(fromModel))
	return changes, nil
}

func excerpt(lines []string, limit int) []string {
	if limit <= 0 || len(lines) <= limit {
		return lines
	}
	return lines[:limit]
}

var _ analysis.ChangeAnalyzer = (*LLMAnalyzer)(nil)
