package github

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/izavyalov-dev/delta-qa/analysis"
)

type stubComments struct {
	existing  map[string]int64
	editErr   error
	created   []int64
	edited    []int64
	lastBody  string
	createErr error
}

func (s *stubComments) CreateComment(ctx context.Context, repository string, prNumber int, body string) (int64, error) {
	if s.createErr != nil {
		return 0, s.createErr
	}
	id := int64(100 + len(s.created))
	s.created = append(s.created, id)
	s.lastBody = body
	return id, nil
}

func (s *stubComments) EditComment(ctx context.Context, repository string, commentID int64, body string) error {
	if s.editErr != nil {
		return s.editErr
	}
	s.edited = append(s.edited, commentID)
	s.lastBody = body
	return nil
}

func (s *stubComments) FindComment(ctx context.Context, repository string, prNumber int, marker string) (int64, bool, error) {
	id, ok := s.existing[repository]
	return id, ok, nil
}

type memoryCommentStore struct {
	ids map[int]int64
}

func (m *memoryCommentStore) GetPRComment(ctx context.Context, repository string, prNumber int) (int64, bool, error) {
	id, ok := m.ids[prNumber]
	return id, ok, nil
}

func (m *memoryCommentStore) SavePRComment(ctx context.Context, repository string, prNumber int, commentID int64) error {
	m.ids[prNumber] = commentID
	return nil
}

func sampleReport() analysis.AnalysisReport {
	return analysis.AnalysisReport{
		RunID:      "run_1",
		Repository: "acme/api",
		PRNumber:   7,
		CommitSHA:  "abc123",
		Status:     analysis.StatusCompleted,
		RiskScore:  analysis.RiskCritical,
		CoverageGaps: []analysis.TestCoverageGap{{
			FilePath:              "auth/login.py",
			FunctionsWithoutTests: []string{"login"},
			RiskLevel:             analysis.RiskCritical,
			Reason:                "auth | login",
		}},
		TestPlan: analysis.TestExecutionPlan{
			Recommendations: []analysis.TestRecommendation{{
				TestFile:                 "tests/test_auth_login.py",
				TestName:                 "test_login_security",
				TestType:                 analysis.TestSecurity,
				Priority:                 analysis.PriorityCritical,
				EstimatedDurationSeconds: 16,
			}},
			EstimatedTotalDurationSeconds: 16,
			ParallelExecutionPossible:     true,
			Summary:                       "One test",
		},
		TotalFilesChanged: 1,
		TotalLinesChanged: 12,
	}
}

func newStubReporter(api commentAPI, store CommentStore) *Reporter {
	return &Reporter{
		client: api,
		store:  store,
		logger: discardLogger(),
		now:    func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
}

func TestReporterCreatesAndRemembersComment(t *testing.T) {
	api := &stubComments{}
	store := &memoryCommentStore{ids: map[int]int64{}}
	reporter := newStubReporter(api, store)

	require.NoError(t, reporter.Publish(context.Background(), sampleReport()))
	assert.Equal(t, []int64{100}, api.created)
	assert.Equal(t, int64(100), store.ids[7])

	require.NoError(t, reporter.Publish(context.Background(), sampleReport()))
	assert.Equal(t, []int64{100}, api.edited)
	assert.Len(t, api.created, 1)
}

func TestReporterFindsCommentByMarker(t *testing.T) {
	api := &stubComments{existing: map[string]int64{"acme/api": 55}}
	reporter := newStubReporter(api, nil)

	require.NoError(t, reporter.Publish(context.Background(), sampleReport()))
	assert.Equal(t, []int64{55}, api.edited)
	assert.Empty(t, api.created)
}

func TestReporterRecreatesDeletedComment(t *testing.T) {
	api := &stubComments{editErr: &FetchError{Kind: FetchNotFound, Err: errors.New("gone")}}
	store := &memoryCommentStore{ids: map[int]int64{7: 55}}
	reporter := newStubReporter(api, store)

	require.NoError(t, reporter.Publish(context.Background(), sampleReport()))
	assert.Equal(t, []int64{100}, api.created)
	assert.Equal(t, int64(100), store.ids[7])
}

func TestReporterSurfacesEditFailure(t *testing.T) {
	api := &stubComments{editErr: &FetchError{Kind: FetchUpstream, Err: errors.New("boom")}}
	store := &memoryCommentStore{ids: map[int]int64{7: 55}}
	reporter := newStubReporter(api, store)

	assert.Error(t, reporter.Publish(context.Background(), sampleReport()))
	assert.Empty(t, api.created)
}

func TestReporterWithoutClientIsNoop(t *testing.T) {
	var client *Client
	reporter := NewReporter(client, &memoryCommentStore{ids: map[int]int64{}}, discardLogger())

	assert.Nil(t, reporter.client)
	assert.NoError(t, reporter.Publish(context.Background(), sampleReport()))
}

func TestRenderComment(t *testing.T) {
	body := RenderComment(sampleReport(), time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	assert.True(t, strings.HasPrefix(body, commentMarker))
	assert.Contains(t, body, "Status: `completed` | Risk: `critical` | Files: 1 | Lines: 12")
	assert.Contains(t, body, "| `auth/login.py` | critical | login | auth \\| login |")
	assert.Contains(t, body, "| critical | security | `test_login_security` | `tests/test_auth_login.py` | 16s |")
	assert.Contains(t, body, "Estimated total: 16s. Parallel execution: true.")
	assert.Contains(t, body, "Updated: 2026-01-02T03:04:05Z")
}
