package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/purge"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/saga"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/workflow"
)

const defaultAuditLimit = 50

// HealthStatus is the GET /healthz body.
type HealthStatus struct {
	Status    string    `json:"status"`
	Database  string    `json:"database"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleHealth(c echo.Context) error {
	status := HealthStatus{Status: "ok", Database: "ok", Timestamp: time.Now().UTC()}
	if err := s.deps.Ledger.Ping(c.Request().Context()); err != nil {
		status.Status = "degraded"
		status.Database = err.Error()
		return c.JSON(http.StatusServiceUnavailable, status)
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) handlePurge(c echo.Context) error {
	var req purge.Request
	if err := c.Bind(&req); err != nil {
		return writeProblem(c, newProblem(http.StatusBadRequest, "malformed purge request"))
	}

	res, err := s.deps.Purger.Purge(c.Request().Context(), req)
	if err != nil {
		return purgeProblem(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handlePlan(c echo.Context) error {
	plan, err := s.deps.Purger.Plan(c.Request().Context(), c.QueryParams()["run_id"])
	if err != nil {
		return purgeProblem(c, err)
	}
	return c.JSON(http.StatusOK, plan)
}

func purgeProblem(c echo.Context, err error) error {
	var ve *purge.ValidationError
	if errors.As(err, &ve) {
		p := newProblem(http.StatusBadRequest, err.Error())
		p.Field = ve.Field
		return writeProblem(c, p)
	}
	p := newProblem(http.StatusInternalServerError, err.Error())
	if table, ok := purge.FailedTable(err); ok {
		p.Table = table
	}
	return writeProblem(c, p)
}

func (s *Server) handleRuns(c echo.Context) error {
	runs, err := s.deps.Ledger.ListRuns(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) handleAudit(c echo.Context) error {
	limit := defaultAuditLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return writeProblem(c, newProblem(http.StatusBadRequest, "limit must be a non-negative integer"))
		}
		limit = n
	}
	entries, err := s.deps.Ledger.ListPurgeAudit(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entries)
}

// SubmitRequest is the POST /api/v1/applications body.
type SubmitRequest struct {
	RunID       string               `json:"run_id"`
	Actor       string               `json:"actor"`
	Application workflow.Application `json:"application"`
}

func (s *Server) handleSubmit(c echo.Context) error {
	var req SubmitRequest
	if err := c.Bind(&req); err != nil {
		return writeProblem(c, newProblem(http.StatusBadRequest, "malformed application"))
	}

	sub, err := s.deps.Submitter.Submit(c.Request().Context(), req.Application, req.RunID, req.Actor)
	switch {
	case err == nil:
		return c.JSON(http.StatusCreated, sub)
	case workflow.IsValidationError(err):
		return writeProblem(c, newProblem(http.StatusBadRequest, err.Error()))
	case saga.IsStepError(err):
		p := newProblem(http.StatusUnprocessableEntity, err.Error())
		p.FailedStep, _ = saga.FailedStep(err)
		return writeProblem(c, p)
	default:
		return err
	}
}
