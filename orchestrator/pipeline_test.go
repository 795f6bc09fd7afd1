package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/izavyalov-dev/delta-qa/analysis"
	"github.com/izavyalov-dev/delta-qa/internal/vcs/github"
	"github.com/izavyalov-dev/delta-qa/state"
)

var loginDiff = strings.Join([]string{
	"diff --git a/auth/login.py b/auth/login.py",
	"index 1111111..2222222 100644",
	"--- a/auth/login.py",
	"+++ b/auth/login.py",
	"@@ -1,3 +1,5 @@",
	" import hashlib",
	"-def login(user, password):",
	"-    return check(user, password)",
	"+def login(user, password, otp=None):",
	"+    if not verify_otp(user, otp):",
	"+        return False",
	"+    return check(user, password)",
	"",
}, "\n")

var binaryOnlyDiff = strings.Join([]string{
	"diff --git a/logo.png b/logo.png",
	"index 4444444..5555555 100644",
	"Binary files a/logo.png and b/logo.png differ",
	"",
}, "\n")

var readmeDiff = strings.Join([]string{
	"diff --git a/README.md b/README.md",
	"index 1111111..2222222 100644",
	"--- a/README.md",
	"+++ b/README.md",
	"@@ -1 +1 @@",
	"-# api",
	"+# acme api",
	"",
}, "\n")

type stubFetcher struct {
	diff  string
	err   error
	calls int
}

func (f *stubFetcher) FetchDiff(ctx context.Context, repository string, prNumber int) (string, error) {
	f.calls++
	return f.diff, f.err
}

type fixedIDs string

func (id fixedIDs) RunID() string { return string(id) }

type captureSink struct {
	mu      sync.Mutex
	reports []analysis.AnalysisReport
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Publish(ctx context.Context, report analysis.AnalysisReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
	return nil
}

func loginJob() Job {
	return Job{
		DeliveryID: "delivery-1",
		EventType:  github.EventPullRequest,
		Event: github.WebhookEvent{
			Action:             "opened",
			PRNumber:           42,
			RepositoryFullName: "acme/api",
			Owner:              "acme",
			Name:               "api",
			HeadSHA:            "abc123",
		},
	}
}

func TestPipelineLoginChangeProducesCriticalPlan(t *testing.T) {
	recorder := NewMemoryRecorder()
	sink := &captureSink{}
	p := NewPipeline(PipelineConfig{
		Fetcher:  &stubFetcher{diff: loginDiff},
		Recorder: recorder,
		Sinks:    []ReportSink{sink},
		IDs:      fixedIDs("run-1"),
	})

	report := p.Run(context.Background(), loginJob())

	assert.Equal(t, analysis.StatusCompleted, report.Status)
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, "delivery-1", report.DeliveryID)
	assert.Equal(t, analysis.RiskCritical, report.RiskScore)
	assert.Empty(t, report.Errors)
	require.Len(t, report.CodeChanges, 1)
	require.Len(t, report.CoverageGaps, 1)
	assert.Equal(t, "auth/login.py", report.CoverageGaps[0].FilePath)
	assert.Equal(t, analysis.RiskCritical, report.CoverageGaps[0].RiskLevel)
	require.NotEmpty(t, report.TestPlan.Recommendations)
	assert.Equal(t, analysis.TestSecurity, report.TestPlan.Recommendations[0].TestType)
	assert.Equal(t, analysis.PriorityCritical, report.TestPlan.Recommendations[0].Priority)
	assert.Equal(t, 1, report.TotalFilesChanged)
	assert.Equal(t, 6, report.TotalLinesChanged)

	assert.Equal(t, []state.RunState{
		state.RunStateFetching,
		state.RunStateStage1Running,
		state.RunStateStage2Running,
		state.RunStateStage3Running,
		state.RunStateCompleted,
	}, recorder.History("run-1"))
	require.Len(t, sink.reports, 1)
	assert.Equal(t, report.RunID, sink.reports[0].RunID)
}

func TestPipelineFetchFailureFails(t *testing.T) {
	recorder := NewMemoryRecorder()
	fetchErr := &github.FetchError{Kind: github.FetchNotFound, Repository: "acme/api", PRNumber: 42, StatusCode: 404, Err: errors.New("Not Found")}
	p := NewPipeline(PipelineConfig{
		Fetcher:  &stubFetcher{err: fetchErr},
		Recorder: recorder,
		IDs:      fixedIDs("run-2"),
	})

	report := p.Run(context.Background(), loginJob())

	assert.Equal(t, analysis.StatusFailed, report.Status)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "fetch_diff")
	assert.Empty(t, report.CodeChanges)
	assert.Empty(t, report.CoverageGaps)
	assert.Empty(t, report.TestPlan.Recommendations)
	assert.Equal(t, analysis.RiskLow, report.RiskScore)
	assert.Equal(t, []state.RunState{state.RunStateFetching, state.RunStateFailed}, recorder.History("run-2"))
}

func TestPipelineEmptyChangesCompletes(t *testing.T) {
	recorder := NewMemoryRecorder()
	p := NewPipeline(PipelineConfig{Recorder: recorder, IDs: fixedIDs("run-3")})
	job := loginJob()
	job.Diff = binaryOnlyDiff

	report := p.Run(context.Background(), job)

	assert.Equal(t, analysis.StatusCompleted, report.Status)
	assert.Empty(t, report.CodeChanges)
	assert.Empty(t, report.CoverageGaps)
	assert.NotNil(t, report.CoverageGaps)
	assert.Empty(t, report.TestPlan.Recommendations)
	assert.Equal(t, []state.RunState{state.RunStateFetching, state.RunStateStage1Running, state.RunStateCompleted}, recorder.History("run-3"))
}

func TestPipelineSkipsCoverageWithoutSourceChanges(t *testing.T) {
	detectorCalled := false
	p := NewPipeline(PipelineConfig{
		Fetcher: &stubFetcher{diff: readmeDiff},
		Detector: analysis.StageFunc[analysis.GapInput, []analysis.TestCoverageGap](func(ctx context.Context, in analysis.GapInput) ([]analysis.TestCoverageGap, error) {
			detectorCalled = true
			return nil, nil
		}),
	})

	report := p.Run(context.Background(), loginJob())

	assert.Equal(t, analysis.StatusCompleted, report.Status)
	assert.Len(t, report.CodeChanges, 1)
	assert.False(t, detectorCalled)
}

func TestPipelineStage2SchemaErrorIsPartial(t *testing.T) {
	recorder := NewMemoryRecorder()
	plannerCalled := false
	p := NewPipeline(PipelineConfig{
		Fetcher:  &stubFetcher{diff: loginDiff},
		Recorder: recorder,
		IDs:      fixedIDs("run-4"),
		Detector: analysis.StageFunc[analysis.GapInput, []analysis.TestCoverageGap](func(ctx context.Context, in analysis.GapInput) ([]analysis.TestCoverageGap, error) {
			return nil, analysis.SchemaErrorf("gap 0: risk_level %q is not allowed", "severe")
		}),
		Planner: analysis.StageFunc[analysis.PlanInput, analysis.TestExecutionPlan](func(ctx context.Context, in analysis.PlanInput) (analysis.TestExecutionPlan, error) {
			plannerCalled = true
			return analysis.TestExecutionPlan{}, nil
		}),
	})

	report := p.Run(context.Background(), loginJob())

	assert.Equal(t, analysis.StatusPartial, report.Status)
	assert.NotEmpty(t, report.CodeChanges)
	assert.Empty(t, report.CoverageGaps)
	assert.Empty(t, report.TestPlan.Recommendations)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "coverage_gaps: schema error")
	assert.False(t, plannerCalled)
	assert.Equal(t, []state.RunState{
		state.RunStateFetching,
		state.RunStateStage1Running,
		state.RunStateStage2Running,
		state.RunStatePartial,
	}, recorder.History("run-4"))
}

func TestPipelineStageTimeoutIsPartial(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	p := NewPipeline(PipelineConfig{
		Fetcher:      &stubFetcher{diff: loginDiff},
		StageTimeout: 20 * time.Millisecond,
		Planner: analysis.StageFunc[analysis.PlanInput, analysis.TestExecutionPlan](func(ctx context.Context, in analysis.PlanInput) (analysis.TestExecutionPlan, error) {
			<-block
			return analysis.TestExecutionPlan{}, nil
		}),
	})

	report := p.Run(context.Background(), loginJob())

	assert.Equal(t, analysis.StatusPartial, report.Status)
	assert.NotEmpty(t, report.CoverageGaps)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "test_planning: timeout error")
}

func TestRunStageClassifiesTimeout(t *testing.T) {
	p := NewPipeline(PipelineConfig{})
	stage := analysis.StageFunc[int, int](func(ctx context.Context, in int) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})

	_, err := runStage[int, int](context.Background(), p, analysis.StageCoverageGaps, 10*time.Millisecond, stage, 1)

	require.Error(t, err)
	assert.True(t, errors.Is(err, analysis.ErrStageTimeout))
	var stageErr *analysis.StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, analysis.StageCoverageGaps, stageErr.Stage)
}

func TestPipelineDefaultsMatchConfig(t *testing.T) {
	p := NewPipeline(PipelineConfig{})
	assert.Equal(t, 30*time.Second, p.stageTimeout)
	assert.Equal(t, 15*time.Second, p.fetchTimeout)
}

func TestPipelineStage1ErrorFails(t *testing.T) {
	recorder := NewMemoryRecorder()
	detectorCalled := false
	p := NewPipeline(PipelineConfig{
		Fetcher:  &stubFetcher{diff: loginDiff},
		Recorder: recorder,
		IDs:      fixedIDs("run-5"),
		Analyzer: analysis.StageFunc[analysis.DiffInput, []analysis.CodeChange](func(ctx context.Context, in analysis.DiffInput) ([]analysis.CodeChange, error) {
			return []analysis.CodeChange{{FilePath: "auth/login.py"}}, analysis.SchemaErrorf("change 0: change_type missing")
		}),
		Detector: analysis.StageFunc[analysis.GapInput, []analysis.TestCoverageGap](func(ctx context.Context, in analysis.GapInput) ([]analysis.TestCoverageGap, error) {
			detectorCalled = true
			return nil, nil
		}),
	})

	report := p.Run(context.Background(), loginJob())

	assert.Equal(t, analysis.StatusFailed, report.Status)
	assert.Empty(t, report.CodeChanges)
	assert.Empty(t, report.CoverageGaps)
	assert.Empty(t, report.TestPlan.Recommendations)
	assert.Equal(t, analysis.RiskLow, report.RiskScore)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "change_analysis: schema error")
	assert.False(t, detectorCalled)
	assert.Equal(t, []state.RunState{
		state.RunStateFetching,
		state.RunStateStage1Running,
		state.RunStateFailed,
	}, recorder.History("run-5"))
}

func TestPipelineStage3SchemaErrorKeepsEarlierStages(t *testing.T) {
	recorder := NewMemoryRecorder()
	p := NewPipeline(PipelineConfig{
		Fetcher:  &stubFetcher{diff: loginDiff},
		Recorder: recorder,
		IDs:      fixedIDs("run-6"),
		Planner: analysis.StageFunc[analysis.PlanInput, analysis.TestExecutionPlan](func(ctx context.Context, in analysis.PlanInput) (analysis.TestExecutionPlan, error) {
			return analysis.TestExecutionPlan{}, analysis.SchemaErrorf("recommendation 0: priority %q is not allowed", "urgent")
		}),
	})

	report := p.Run(context.Background(), loginJob())

	assert.Equal(t, analysis.StatusPartial, report.Status)
	require.Len(t, report.CodeChanges, 1)
	assert.Equal(t, "auth/login.py", report.CodeChanges[0].FilePath)
	require.Len(t, report.CoverageGaps, 1)
	assert.Equal(t, analysis.RiskCritical, report.CoverageGaps[0].RiskLevel)
	assert.Equal(t, analysis.RiskCritical, report.RiskScore)
	assert.Empty(t, report.TestPlan.Recommendations)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "test_planning: schema error")
	assert.NotContains(t, report.Errors[0], "timeout")
	assert.Equal(t, []state.RunState{
		state.RunStateFetching,
		state.RunStateStage1Running,
		state.RunStateStage2Running,
		state.RunStateStage3Running,
		state.RunStatePartial,
	}, recorder.History("run-6"))
}

func TestPipelineCancelledMidStage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := NewPipeline(PipelineConfig{
		Fetcher:      &stubFetcher{diff: loginDiff},
		StageTimeout: time.Minute,
		Detector: analysis.StageFunc[analysis.GapInput, []analysis.TestCoverageGap](func(ctx context.Context, in analysis.GapInput) ([]analysis.TestCoverageGap, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	})

	report := p.Run(ctx, loginJob())

	assert.Equal(t, analysis.StatusPartial, report.Status)
	assert.NotEmpty(t, report.CodeChanges)
	assert.Empty(t, report.CoverageGaps)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "coverage_gaps: internal error")
	assert.Contains(t, report.Errors[0], context.Canceled.Error())
}

func TestRunStageClassifiesCancellation(t *testing.T) {
	p := NewPipeline(PipelineConfig{})
	for _, tc := range []struct {
		name     string
		ctx      func() (context.Context, context.CancelFunc)
		wantKind analysis.ErrorKind
		wantErr  error
	}{
		{
			name: "cancelled",
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				time.AfterFunc(10*time.Millisecond, cancel)
				return ctx, cancel
			},
			wantKind: analysis.KindInternal,
			wantErr:  context.Canceled,
		},
		{
			name: "caller deadline",
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 10*time.Millisecond)
			},
			wantKind: analysis.KindTimeout,
			wantErr:  context.DeadlineExceeded,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := tc.ctx()
			defer cancel()
			stage := analysis.StageFunc[int, int](func(ctx context.Context, in int) (int, error) {
				<-ctx.Done()
				return 0, ctx.Err()
			})

			_, err := runStage[int, int](ctx, p, analysis.StageTestPlanning, time.Minute, stage, 1)

			var stageErr *analysis.StageError
			require.True(t, errors.As(err, &stageErr))
			assert.Equal(t, analysis.StageTestPlanning, stageErr.Stage)
			assert.Equal(t, tc.wantKind, stageErr.Kind)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestPipelineSinkFailureDoesNotAlterReport(t *testing.T) {
	sink := &captureSink{}
	failing := SinkFunc{SinkName: "broken", Fn: func(ctx context.Context, report analysis.AnalysisReport) error {
		return errors.New("disk full")
	}}
	p := NewPipeline(PipelineConfig{
		Fetcher: &stubFetcher{diff: loginDiff},
		Sinks:   []ReportSink{failing, sink},
	})

	report := p.Run(context.Background(), loginJob())

	assert.Equal(t, analysis.StatusCompleted, report.Status)
	assert.Empty(t, report.Errors)
	require.Len(t, sink.reports, 1)
}
