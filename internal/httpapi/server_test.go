package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/periscope-intel/periscope/go/researcher/internal/db"
	"github.com/periscope-intel/periscope/go/researcher/internal/quality"
	"github.com/periscope-intel/periscope/go/researcher/internal/workflows"
)

type fakeRun struct {
	id     string
	result interface{}
	err    error
}

func (f *fakeRun) GetID() string    { return f.id }
func (f *fakeRun) GetRunID() string { return f.id + "-run" }
func (f *fakeRun) Get(ctx context.Context, valuePtr interface{}) error {
	if f.err != nil {
		return f.err
	}
	if valuePtr == nil || f.result == nil {
		return nil
	}
	data, err := json.Marshal(f.result)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, valuePtr)
}
func (f *fakeRun) GetWithOptions(ctx context.Context, valuePtr interface{}, options client.WorkflowRunGetOptions) error {
	return f.Get(ctx, valuePtr)
}

type fakeStarter struct {
	lastArgs []interface{}
	run      *fakeRun
	err      error
}

func (f *fakeStarter) ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error) {
	f.lastArgs = args
	if f.err != nil {
		return nil, f.err
	}
	if f.run == nil {
		f.run = &fakeRun{id: options.ID}
	}
	f.run.id = options.ID
	return f.run, nil
}

type fakeFetcher struct {
	report *db.StoredReport
}

func (f *fakeFetcher) GetReport(ctx context.Context, runID string) (*db.StoredReport, error) {
	return f.report, nil
}

func newTestServer(starter *fakeStarter, fetcher reportFetcher) *http.ServeMux {
	srv := NewServer(starter, fetcher, "periscope-researcher", zap.NewNop())
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	return mux
}

func TestStartResearch(t *testing.T) {
	starter := &fakeStarter{}
	mux := newTestServer(starter, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/research",
		strings.NewReader(`{"query": "What changed this week?", "timeframe": "week"}`)))

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp startResearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.WorkflowID, "research-"))
	assert.Equal(t, "running", resp.Status)

	require.Len(t, starter.lastArgs, 1)
	input := starter.lastArgs[0].(workflows.ResearchInput)
	assert.Equal(t, "What changed this week?", input.Query)
	assert.Equal(t, "week", input.Timeframe)
}

func TestStartResearchStampsConfiguredDefaults(t *testing.T) {
	starter := &fakeStarter{}
	srv := NewServer(starter, nil, "periscope-researcher", zap.NewNop())
	srv.SetWorkflowDefaults(workflows.Defaults{
		MaxRetryRounds:      2,
		TermsPerSubQuestion: 3,
		RetryBudgetSeconds:  90,
	})
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/research",
		strings.NewReader(`{"query": "q", "terms_per_sub_question": 1}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, starter.lastArgs, 1)
	input := starter.lastArgs[0].(workflows.ResearchInput)
	assert.Equal(t, 2, input.MaxRetryRounds)
	assert.Equal(t, 90, input.RetryBudgetSeconds)
	// An explicit request value is never overridden.
	assert.Equal(t, 1, input.TermsPerSubQuestion)
}

func TestQualityGateStampsConfiguredDefaults(t *testing.T) {
	starter := &fakeStarter{run: &fakeRun{result: workflows.QualityGateResult{Decision: "PROCEED"}}}
	srv := NewServer(starter, nil, "periscope-researcher", zap.NewNop())
	srv.SetWorkflowDefaults(workflows.Defaults{
		MaxGateIterations: 2,
		GapFillMinYield:   4,
		DisableJudge:      true,
		Thresholds:        quality.Thresholds{MinDocuments: 7},
	})
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/quality-gate",
		strings.NewReader(`{"documents": [{"title": "Doc", "url": "https://example.com/d"}]}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, starter.lastArgs, 1)
	input := starter.lastArgs[0].(workflows.QualityGateInput)
	assert.Equal(t, 2, input.MaxIterations)
	assert.Equal(t, 4, input.GapFillMinYield)
	assert.True(t, input.DisableJudge)
	assert.Equal(t, 7, input.Thresholds.MinDocuments)
}

func TestStartResearchMissingQueryIs400(t *testing.T) {
	mux := newTestServer(&fakeStarter{}, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/research",
		strings.NewReader(`{"timeframe": "week"}`)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "query text is required")
}

func TestQualityGateSynchronousResult(t *testing.T) {
	starter := &fakeStarter{run: &fakeRun{result: workflows.QualityGateResult{
		Decision:  "PROCEED",
		Iteration: 1,
	}}}
	mux := newTestServer(starter, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/quality-gate",
		strings.NewReader(`{"documents": [{"title": "Doc", "url": "https://example.com/d"}]}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	var result workflows.QualityGateResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "PROCEED", result.Decision)
}

func TestSchedulesDisabledReturns501(t *testing.T) {
	mux := newTestServer(&fakeStarter{}, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/schedules",
		strings.NewReader(`{"cron_expression": "0 6 * * *", "research": {"query": "q"}}`)))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/schedules/some-id", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestGetResearchRunningAndCompleted(t *testing.T) {
	fetcher := &fakeFetcher{}
	mux := newTestServer(&fakeStarter{}, fetcher)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/research/research-abc", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"running"`)

	fetcher.report = &db.StoredReport{
		RunID:  "research-abc",
		Query:  "q",
		Report: "the narrative",
	}
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/research/research-abc", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "the narrative")
	assert.Contains(t, rec.Body.String(), `"completed"`)
}
