package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/graph"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/metrics"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/purge"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/resource"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/saga"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/store"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/testutil"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/workflow"
)

type testServer struct {
	srv   *Server
	store *store.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewDefaultClock()

	s, err := store.Open(filepath.Join(t.TempDir(), "testlab.db"),
		store.WithIDGenerator(testutil.NewSequenceGenerator("rec")),
		store.WithClock(clock.Now),
	)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	g := graph.Default()
	coord := saga.New(s, g, saga.WithLogger(logger), saga.WithTracker(s), saga.WithMetrics(m), saga.WithClock(clock.Now))
	engine := purge.New(s, s, s, g, purge.WithLogger(logger), purge.WithMetrics(m), purge.WithClock(clock.Now))

	srv := New(Deps{
		Purger:    engine,
		Ledger:    s,
		Submitter: workflow.NewSubmitter(coord),
		Gatherer:  reg,
		Logger:    logger,
	})
	return &testServer{srv: srv, store: s}
}

func (ts *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const applicationBody = `{
	"run_id": "run-api",
	"actor": "qa",
	"application": {
		"company": {"name": "Acme Solar"},
		"contact": {"first_name": "Ada"},
		"departments": ["Permitting"],
		"deal": {"name": "Rooftop"},
		"project": {"name": "12 Main St"},
		"plan_sets": [{"name": "Electrical"}]
	}
}`

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthStatus](t, rec).Status)

	ts.store.Close()
	rec = ts.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSubmitThenPurge(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/applications", applicationBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sub := decode[workflow.Submission](t, rec)
	assert.NotEmpty(t, sub.CompanyID)
	assert.Equal(t, "run-api", sub.RunID)

	rec = ts.do(t, http.MethodGet, "/api/v1/purge/plan?run_id=run-api", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	plan := decode[purge.Plan](t, rec)
	assert.Equal(t, 9, plan.Total)
	require.NotEmpty(t, plan.Tables)
	assert.True(t, plan.Tables[0].Junction)
	assert.Equal(t, "companies", plan.Tables[len(plan.Tables)-1].Table)

	rec = ts.do(t, http.MethodPost, "/api/v1/purge",
		`{"run_ids": ["run-api"], "reason": "cleanup", "actor_id": "admin"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[purge.Result](t, rec)
	assert.Equal(t, int64(9), res.TotalDeleted)
	assert.Equal(t, int64(1), res.DeletedCounts["companies"])

	rec = ts.do(t, http.MethodGet, "/api/v1/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]resource.RunSummary](t, rec)
	require.Len(t, runs, 1)
	assert.NotNil(t, runs[0].PurgedAt)
	assert.Equal(t, "admin", runs[0].PurgedBy)

	rec = ts.do(t, http.MethodGet, "/api/v1/purge/audit?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	audit := decode[[]resource.PurgeAuditEntry](t, rec)
	require.Len(t, audit, 1)
	assert.Equal(t, resource.OutcomeSucceeded, audit[0].Outcome)

	rec = ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `testlab_purge_invocations_total{outcome="succeeded"} 1`)
	assert.Contains(t, rec.Body.String(), `testlab_saga_executions_total`)
}

func TestPurge_ValidationProblem(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/purge", `{"run_ids": [], "reason": "x", "actor_id": "admin"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, problemContentType, rec.Header().Get("Content-Type"))
	p := decode[Problem](t, rec)
	assert.Equal(t, "run_ids", p.Field)
	assert.Equal(t, "/api/v1/purge", p.Instance)

	rec = ts.do(t, http.MethodPost, "/api/v1/purge", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/purge/plan", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPurge_TableFailureNamesTable(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	ids, err := ts.store.Insert(ctx, "companies", []resource.Row{{"name": "Acme"}})
	require.NoError(t, err)
	require.NoError(t, ts.store.TrackRecords(ctx, []resource.TrackedRecord{
		{RunID: "run-fk", Table: "companies", RecordID: ids[0]},
	}))
	// an untracked child keeps the company alive
	_, err = ts.store.Insert(ctx, "contacts", []resource.Row{{"first_name": "Ada", "company_id": ids[0]}})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodPost, "/api/v1/purge",
		`{"run_ids": ["run-fk"], "reason": "cleanup", "actor_id": "admin"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	p := decode[Problem](t, rec)
	assert.Equal(t, "companies", p.Table)
	assert.Contains(t, p.Detail, "purge aborted")

	audit, err := ts.store.ListPurgeAudit(ctx, 1)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, resource.OutcomeFailed, audit[0].Outcome)
}

type stepFailingSubmitter struct{}

func (stepFailingSubmitter) Submit(context.Context, workflow.Application, string, string) (*workflow.Submission, error) {
	return nil, &saga.StepError{Workflow: workflow.Name, Step: "deal", Err: errors.New("deals: constraint failed")}
}

func TestSubmit_Problems(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/applications", `{"application": {"company": {}}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[Problem](t, rec).Detail, "company.name")

	body := strings.Replace(applicationBody, `{"name": "Electrical"}`, `{"name": "Electrical", "revision": -1}`, 1)
	rec = ts.do(t, http.MethodPost, "/api/v1/applications", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmit_SagaFailureIsUnprocessable(t *testing.T) {
	srv := New(Deps{
		Submitter: stepFailingSubmitter{},
		Gatherer:  prometheus.NewRegistry(),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ts := &testServer{srv: srv}

	rec := ts.do(t, http.MethodPost, "/api/v1/applications", applicationBody)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	p := decode[Problem](t, rec)
	assert.Equal(t, "deal", p.FailedStep)
	assert.Contains(t, p.Detail, "constraint failed")
}

func TestAudit_BadLimit(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/v1/purge/audit?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotFoundIsProblem(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/v1/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, problemContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, http.StatusNotFound, decode[Problem](t, rec).Status)
}
