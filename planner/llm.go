package planner

import (
	"context"
	"log/slog"

	"github.com/izavyalov-dev/delta-qa/analysis"
	"github.com/izavyalov-dev/delta-qa/internal/llm"
	"github.com/izavyalov-dev/delta-qa/internal/observability"
)

const planningSystem = "You are a test architect. You turn coverage gaps into a focused, prioritized test plan."

const planningInstructions = `Create test recommendations for the coverage gaps below.
Every recommendation must set addresses_gap to the file_path of the gap it covers.
Use test types unit, integration, e2e, security or performance and priorities
critical, high, medium or low. Critical priority is reserved for security,
authentication and payment code. estimated_duration_seconds must be a positive
integer. Prefer an existing test file when the gap lists one.`

const planningSchema = `{"recommendations": [{"test_file": string, "test_name": string, "test_type": string,
 "priority": string, "reason": string, "estimated_duration_seconds": int, "addresses_gap": string}],
 "summary": string, "critical_paths_covered": [string], "risk_areas_remaining": [string]}`

type planningGap struct {
	analysis.TestCoverageGap
	Complexity analysis.Complexity `json:"complexity_impact,omitempty"`
}

type planningInput struct {
	Gaps []planningGap `json:"gaps"`
}

// LLMPlanner asks the model for a plan. Recommendations are validated
// against the input gaps, re-sorted, and the aggregate fields recomputed.
type LLMPlanner struct {
	client llm.Client
	logger *slog.Logger
}

func NewLLMPlanner(client llm.Client, logger *slog.Logger) *LLMPlanner {
	if logger == nil {
		logger = observability.NewLogger("planner.llm")
	}
	return &LLMPlanner{client: client, logger: logger}
}

func (p *LLMPlanner) Execute(ctx context.Context, in analysis.PlanInput) (analysis.TestExecutionPlan, error) {
	if len(in.Gaps) == 0 {
		return analysis.EmptyPlan(noGapsSummary), nil
	}

	complexity := complexityByFile(in.Changes)
	input := planningInput{Gaps: make([]planningGap, 0, len(in.Gaps))}
	for _, gap := range in.Gaps {
		input.Gaps = append(input.Gaps, planningGap{TestCoverageGap: gap, Complexity: complexity[gap.FilePath]})
	}

	plan, err := llm.Invoke[analysis.TestExecutionPlan](ctx, p.client, llm.Task{
		Name:         string(analysis.StageTestPlanning),
		System:       planningSystem,
		Instructions: planningInstructions,
		Input:        input,
		Schema:       planningSchema,
	})
	if err != nil {
		return analysis.TestExecutionPlan{}, analysis.NewStageError(analysis.StageTestPlanning, err)
	}
	if err := analysis.ValidatePlan(plan, in.Gaps); err != nil {
		return analysis.TestExecutionPlan{}, analysis.NewStageError(analysis.StageTestPlanning, err)
	}

	if plan.CriticalPathsCovered == nil {
		plan.CriticalPathsCovered = []string{}
	}
	if plan.RiskAreasRemaining == nil {
		plan.RiskAreasRemaining = []string{}
	}
	finalizePlan(&plan, in.Gaps)
	p.logger.Debug("llm test plan built", "event", "test_plan_llm_built", "recommendations", len(plan.Recommendations))
	return plan, nil
}

var _ analysis.TestPlanner = (*LLMPlanner)(nil)
