// Package api is the HTTP surface of the Test Lab: purge, dry-run plans, run
// listings, the purge audit log and application submission.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/purge"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/resource"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/workflow"
)

// Purger runs and plans purges.
type Purger interface {
	Purge(ctx context.Context, req purge.Request) (*purge.Result, error)
	Plan(ctx context.Context, runIDs []string) (*purge.Plan, error)
}

// Ledger reads runs and the purge audit log.
type Ledger interface {
	ListRuns(ctx context.Context) ([]resource.RunSummary, error)
	ListPurgeAudit(ctx context.Context, limit int) ([]resource.PurgeAuditEntry, error)
	Ping(ctx context.Context) error
}

// Submitter creates the records of an application.
type Submitter interface {
	Submit(ctx context.Context, app workflow.Application, runID, actor string) (*workflow.Submission, error)
}

// Deps are the collaborators of the HTTP handlers.
type Deps struct {
	Purger    Purger
	Ledger    Ledger
	Submitter Submitter
	// Gatherer backs GET /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server wraps the echo instance and its http.Server.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *slog.Logger

	mu   sync.Mutex
	http *http.Server
}

// New builds the router.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = problemErrorHandler(deps.Logger)

	s := &Server{echo: e, deps: deps, logger: deps.Logger}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(otelecho.Middleware("testlab"))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			s.logger.LogAttrs(c.Request().Context(), level, "request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID),
			)
			return nil
		},
	}))

	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))

	v1 := e.Group("/api/v1")
	v1.POST("/purge", s.handlePurge)
	v1.GET("/purge/plan", s.handlePlan)
	v1.GET("/purge/audit", s.handleAudit)
	v1.GET("/runs", s.handleRuns)
	v1.POST("/applications", s.handleSubmit)

	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// ListenAndServe serves on addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.echo,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	s.logger.Info("server starting", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Error("server shutdown error", "error", err)
		return srv.Close()
	}
	s.logger.Info("server stopped gracefully")
	return nil
}
