// Package orchestrator runs the three-stage pull request analysis pipeline and
// exposes the webhook endpoint that feeds it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/izavyalov-dev/delta-qa/analysis"
	"github.com/izavyalov-dev/delta-qa/analyzer"
	"github.com/izavyalov-dev/delta-qa/coverage"
	"github.com/izavyalov-dev/delta-qa/internal/observability"
	"github.com/izavyalov-dev/delta-qa/planner"
	"github.com/izavyalov-dev/delta-qa/state"
)

const (
	DefaultStageTimeout = 30 * time.Second
	DefaultFetchTimeout = 15 * time.Second

	sinkTimeout = 30 * time.Second

	noChangesSummary       = "No analyzable code changes; no new tests needed"
	noSourceChangesSummary = "No source code changes; no new tests needed"
	noGapsSummary          = "No coverage gaps detected; no new tests needed"
)

var errNoFetcher = errors.New("no diff fetcher configured")

// PipelineConfig wires the pipeline's collaborators. Nil stages fall back to
// the rule-based implementations.
type PipelineConfig struct {
	Fetcher  DiffFetcher
	Tree     TreeLister
	Analyzer analysis.ChangeAnalyzer
	Detector analysis.GapDetector
	Planner  analysis.TestPlanner
	Recorder RunRecorder
	Sinks    []ReportSink
	Metrics  *observability.Metrics
	IDs      IDGenerator
	Logger   *slog.Logger

	StageTimeout time.Duration
	FetchTimeout time.Duration
	Now          func() time.Time
}

// Pipeline executes fetch, change analysis, coverage gap detection and test
// planning in order and assembles the report.
type Pipeline struct {
	fetcher  DiffFetcher
	tree     TreeLister
	analyzer analysis.ChangeAnalyzer
	detector analysis.GapDetector
	planner  analysis.TestPlanner
	recorder RunRecorder
	sinks    []ReportSink
	metrics  *observability.Metrics
	ids      IDGenerator
	logger   *slog.Logger

	stageTimeout time.Duration
	fetchTimeout time.Duration
	now          func() time.Time
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	p := &Pipeline{
		fetcher:      cfg.Fetcher,
		tree:         cfg.Tree,
		analyzer:     cfg.Analyzer,
		detector:     cfg.Detector,
		planner:      cfg.Planner,
		recorder:     cfg.Recorder,
		sinks:        cfg.Sinks,
		metrics:      cfg.Metrics,
		ids:          cfg.IDs,
		logger:       cfg.Logger,
		stageTimeout: cfg.StageTimeout,
		fetchTimeout: cfg.FetchTimeout,
		now:          cfg.Now,
	}
	if p.logger == nil {
		p.logger = observability.NewLogger("pipeline")
	}
	if p.analyzer == nil {
		p.analyzer = analyzer.NewRuleAnalyzer(p.logger)
	}
	if p.detector == nil {
		p.detector = coverage.NewRuleDetector(p.logger)
	}
	if p.planner == nil {
		p.planner = planner.NewRulePlanner(p.logger)
	}
	if p.recorder == nil {
		p.recorder = NoopRecorder{}
	}
	if p.ids == nil {
		p.ids = RandomIDGenerator{}
	}
	if p.stageTimeout <= 0 {
		p.stageTimeout = DefaultStageTimeout
	}
	if p.fetchTimeout <= 0 {
		p.fetchTimeout = DefaultFetchTimeout
	}
	if p.now == nil {
		p.now = func() time.Time { return time.Now().UTC() }
	}
	return p
}

// run carries the mutable state of one pipeline execution.
type run struct {
	id      string
	job     Job
	started time.Time
	logger  *slog.Logger

	changes []analysis.CodeChange
	gaps    []analysis.TestCoverageGap
	plan    *analysis.TestExecutionPlan
	errors  []string
}

// Run executes the pipeline for one job. It never fails: every outcome,
// including fetch errors, is expressed in the returned report.
func (p *Pipeline) Run(ctx context.Context, job Job) analysis.AnalysisReport {
	subject := job.Event.Subject()
	r := &run{
		id:      p.ids.RunID(),
		job:     job,
		started: p.now(),
	}
	r.logger = observability.WithPR(observability.WithDelivery(observability.WithRun(p.logger, r.id), job.DeliveryID), subject.Repository, subject.PRNumber)
	r.logger.Info("pipeline started", "event", "pipeline_started", "action", job.Event.Action, "head_sha", job.Event.HeadSHA)

	if _, err := p.recorder.CreateRun(ctx, state.Run{
		ID:         r.id,
		DeliveryID: job.DeliveryID,
		Repository: subject.Repository,
		PRNumber:   subject.PRNumber,
		HeadSHA:    job.Event.HeadSHA,
		State:      state.RunStateFetching,
	}); err != nil {
		r.logger.Warn("run record failed", "event", "run_record_failed", "error", err)
	}

	diff, err := runStage[Job, string](ctx, p, analysis.StageFetch, p.fetchTimeout, analysis.StageFunc[Job, string](p.fetchDiff), job)
	if err != nil {
		return p.finish(ctx, r, analysis.StatusFailed, err)
	}

	p.transition(ctx, r, state.RunStateStage1Running)
	r.changes, err = runStage(ctx, p, analysis.StageChangeAnalysis, p.stageTimeout, p.analyzer, analysis.DiffInput{
		Repository: subject.Repository,
		PRNumber:   subject.PRNumber,
		Diff:       diff,
	})
	if err != nil {
		r.changes = nil
		return p.finish(ctx, r, analysis.StatusFailed, err)
	}
	if len(r.changes) == 0 {
		plan := analysis.EmptyPlan(noChangesSummary)
		r.plan = &plan
		return p.finish(ctx, r, analysis.StatusCompleted, nil)
	}
	if !hasSourceChanges(r.changes) {
		plan := analysis.EmptyPlan(noSourceChangesSummary)
		r.plan = &plan
		return p.finish(ctx, r, analysis.StatusCompleted, nil)
	}

	p.transition(ctx, r, state.RunStateStage2Running)
	r.gaps, err = runStage(ctx, p, analysis.StageCoverageGaps, p.stageTimeout, p.detector, analysis.GapInput{
		Changes:         r.changes,
		RepositoryPaths: p.repositoryPaths(ctx, r),
	})
	if err != nil {
		r.gaps = nil
		return p.finish(ctx, r, analysis.StatusPartial, err)
	}
	if len(r.gaps) == 0 {
		plan := analysis.EmptyPlan(noGapsSummary)
		r.plan = &plan
		return p.finish(ctx, r, analysis.StatusCompleted, nil)
	}

	p.transition(ctx, r, state.RunStateStage3Running)
	plan, err := runStage(ctx, p, analysis.StageTestPlanning, p.stageTimeout, p.planner, analysis.PlanInput{
		Gaps:    r.gaps,
		Changes: r.changes,
	})
	if err != nil {
		return p.finish(ctx, r, analysis.StatusPartial, err)
	}
	r.plan = &plan
	return p.finish(ctx, r, analysis.StatusCompleted, nil)
}

func (p *Pipeline) fetchDiff(ctx context.Context, job Job) (string, error) {
	if job.Diff != "" {
		return job.Diff, nil
	}
	if p.fetcher == nil {
		return "", errNoFetcher
	}
	return p.fetcher.FetchDiff(ctx, job.Event.RepositoryFullName, job.Event.PRNumber)
}

// repositoryPaths lists the head tree so existing tests can be found. A
// failure only narrows the search to the changed files.
func (p *Pipeline) repositoryPaths(ctx context.Context, r *run) []string {
	if p.tree == nil || r.job.Event.HeadSHA == "" {
		return nil
	}
	treeCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()
	paths, err := p.tree.ListPaths(treeCtx, r.job.Event.RepositoryFullName, r.job.Event.HeadSHA)
	if err != nil {
		r.logger.Warn("repository tree unavailable", "event", "tree_list_failed", "error", err)
		return nil
	}
	return paths
}

// runStage executes one stage under its own deadline. A stage that does not
// return by the deadline is abandoned and reported as a timeout.
func runStage[In, Out any](ctx context.Context, p *Pipeline, name analysis.StageName, timeout time.Duration, stage analysis.Stage[In, Out], in In) (Out, error) {
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		out Out
		err error
	}
	done := make(chan result, 1)
	start := p.now()
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- result{err: fmt.Errorf("stage panicked: %v", rec)}
			}
		}()
		out, err := stage.Execute(stageCtx, in)
		done <- result{out: out, err: err}
	}()

	var zero Out
	var stageErr *analysis.StageError
	select {
	case res := <-done:
		switch {
		case res.err == nil:
			p.metrics.ObserveStage(string(name), "ok", p.now().Sub(start))
			return res.out, nil
		case errors.Is(stageCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			stageErr = timeoutError(name, timeout)
		default:
			stageErr = analysis.NewStageError(name, res.err)
		}
	case <-stageCtx.Done():
		if ctx.Err() != nil {
			stageErr = analysis.NewStageError(name, ctx.Err())
		} else {
			stageErr = timeoutError(name, timeout)
		}
	}
	p.metrics.ObserveStage(string(name), string(stageErr.Kind), p.now().Sub(start))
	return zero, stageErr
}

func timeoutError(name analysis.StageName, timeout time.Duration) *analysis.StageError {
	return &analysis.StageError{
		Stage: name,
		Kind:  analysis.KindTimeout,
		Err:   fmt.Errorf("%w after %s", analysis.ErrStageTimeout, timeout),
	}
}

func (p *Pipeline) transition(ctx context.Context, r *run, next state.RunState) {
	if err := p.recorder.TransitionRunState(ctx, r.id, next); err != nil {
		r.logger.Warn("run transition failed", "event", "run_transition_failed", "state", next, "error", err)
		return
	}
	r.logger.Debug("run state changed", "event", "run_state_changed", "state", next)
}

func (p *Pipeline) finish(ctx context.Context, r *run, status analysis.Status, cause error) analysis.AnalysisReport {
	if cause != nil {
		r.errors = append(r.errors, cause.Error())
		kind := string(analysis.Classify(cause))
		var stageErr *analysis.StageError
		if errors.As(cause, &stageErr) {
			kind = string(stageErr.Kind)
		}
		p.metrics.IncFailure(kind)
		r.logger.Warn("pipeline stage failed", "event", "pipeline_stage_failed", "status", status, "error", cause)
	}

	report := analysis.Assemble(analysis.AssembleInput{
		RunID:       r.id,
		DeliveryID:  r.job.DeliveryID,
		Subject:     r.job.Event.Subject(),
		StartedAt:   r.started,
		CompletedAt: p.now(),
		Changes:     r.changes,
		Gaps:        r.gaps,
		Plan:        r.plan,
		Status:      status,
		Errors:      r.errors,
	})

	p.transition(ctx, r, state.StateForStatus(status))
	p.metrics.IncRun(string(status))
	p.metrics.ObserveReview(report.Repository, time.Duration(report.DurationSeconds*float64(time.Second)))

	r.logger.Info("pipeline completed",
		"event", "pipeline_completed",
		"status", report.Status,
		"risk_score", report.RiskScore,
		"changes", len(report.CodeChanges),
		"gaps", len(report.CoverageGaps),
		"recommendations", len(report.TestPlan.Recommendations),
		"duration_seconds", report.DurationSeconds,
	)

	p.publish(ctx, r, report)
	return report
}

// publish hands the report to every sink. Sink failures never alter the report.
func (p *Pipeline) publish(ctx context.Context, r *run, report analysis.AnalysisReport) {
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	for _, sink := range p.sinks {
		if err := sink.Publish(sinkCtx, report); err != nil {
			p.metrics.IncFailure("sink_" + sink.Name())
			r.logger.Error("report sink failed", "event", "report_sink_failed", "sink", sink.Name(), "error", err)
		}
	}
}

func hasSourceChanges(changes []analysis.CodeChange) bool {
	for _, change := range changes {
		if change.FileType == analysis.FileSource {
			return true
		}
	}
	return false
}
