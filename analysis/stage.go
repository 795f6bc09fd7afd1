package analysis

import "context"

// Stage is one typed step of the analysis pipeline. Implementations return a
// *StageError (or an error NewStageError can classify) on failure.
type Stage[In, Out any] interface {
	Execute(ctx context.Context, in In) (Out, error)
}

// StageFunc adapts a function to the Stage interface.
type StageFunc[In, Out any] func(ctx context.Context, in In) (Out, error)

func (f StageFunc[In, Out]) Execute(ctx context.Context, in In) (Out, error) {
	return f(ctx, in)
}

// DiffInput feeds change analysis.
type DiffInput struct {
	Repository string
	PRNumber   int
	Diff       string
}

// GapInput feeds coverage gap detection. RepositoryPaths optionally lists the
// files present at the head commit so existing tests can be located.
type GapInput struct {
	Changes         []CodeChange
	RepositoryPaths []string
}

// PlanInput feeds test planning. Changes is optional and only used to look up
// per-file complexity.
type PlanInput struct {
	Gaps    []TestCoverageGap
	Changes []CodeChange
}

type (
	ChangeAnalyzer = Stage[DiffInput, []CodeChange]
	GapDetector    = Stage[GapInput, []TestCoverageGap]
	TestPlanner    = Stage[PlanInput, TestExecutionPlan]
)
