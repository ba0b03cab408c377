package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/graph"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/metrics"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/registry"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/resource"
)

var tracer = otel.Tracer("testlab/saga")

// State is the lifecycle state of one saga execution.
type State string

const (
	StatePending      State = "PENDING"
	StateCommitted    State = "COMMITTED"
	StateCompensating State = "COMPENSATING"
	StateFailed       State = "FAILED"
)

// Step is one create-operation of a workflow.
// Run performs its inserts through the Execution; returning an error stops
// the workflow and triggers compensation.
type Step struct {
	Name string
	Run  func(ctx context.Context, ex *Execution) error
}

// Workflow is an ordered list of steps.
// A non-empty RunID opts into durable tracking of every created resource.
type Workflow struct {
	Name      string
	RunID     string
	CreatedBy string
	Steps     []Step
}

// Outcome is the externally visible result of a saga.
type Outcome struct {
	State      State            `json:"state"`
	RunID      string           `json:"run_id,omitempty"`
	Created    []registry.Entry `json:"created"`
	FailedStep string           `json:"failed_step,omitempty"`
	Values     map[string]any   `json:"-"`
}

// CompensationHook observes every compensation pass.
type CompensationHook func(workflow string, report Report)

// Coordinator executes workflows. It holds no per-execution state and can
// serve concurrent executions of different workflow instances.
type Coordinator struct {
	store   resource.Store
	graph   *graph.Graph
	tracker Tracker
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	onComp  CompensationHook
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithTracker enables durable tracking for workflows that carry a RunID.
func WithTracker(t Tracker) Option {
	return func(c *Coordinator) { c.tracker = t }
}

// WithClock overrides the clock used for tracked record timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithMetrics records saga outcomes and compensation failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithCompensationHook registers a callback run after each compensation.
func WithCompensationHook(h CompensationHook) Option {
	return func(c *Coordinator) { c.onComp = h }
}

// New creates a Coordinator over store, compensating in g's order.
func New(store resource.Store, g *graph.Graph, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  store,
		graph:  g,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute runs wf's steps in order.
//
// On success the Outcome is Committed and lists everything created. On the
// first failing step, everything registered so far (including partial
// registrations of the failing step) is compensated and a *StepError
// wrapping the step's original error is returned together with a Failed
// Outcome. Compensation problems are logged, never returned.
func (c *Coordinator) Execute(ctx context.Context, wf Workflow) (*Outcome, error) {
	if wf.Name == "" {
		wf.Name = "workflow"
	}
	for i, step := range wf.Steps {
		if step.Run == nil {
			return nil, fmt.Errorf("%s: step %d (%q) has no Run function", wf.Name, i, step.Name)
		}
	}

	ctx, span := tracer.Start(ctx, "saga.Execute", trace.WithAttributes(
		attribute.String("saga.workflow", wf.Name),
		attribute.String("saga.run_id", wf.RunID),
		attribute.Int("saga.steps", len(wf.Steps)),
	))
	defer span.End()

	reg := registry.New()
	ex := &Execution{
		workflow:  wf.Name,
		runID:     wf.RunID,
		createdBy: wf.CreatedBy,
		store:     c.store,
		tracker:   c.tracker,
		now:       c.now,
		reg:       reg,
		values:    make(map[string]any),
	}
	outcome := &Outcome{State: StatePending, RunID: wf.RunID, Values: ex.values}
	logger := c.logger.With("workflow", wf.Name, "run_id", wf.RunID)

	for i, step := range wf.Steps {
		err := c.runStep(ctx, ex, step, i)
		if err == nil {
			continue
		}

		logger.Error("step failed", "step", step.Name, "index", i, "error", err)
		outcome.State = StateCompensating
		outcome.FailedStep = step.Name
		outcome.Created = reg.Snapshot()

		report := NewCompensator(c.store, c.graph, logger).withMetrics(c.metrics).Compensate(ctx, outcome.Created)
		if c.onComp != nil {
			c.onComp(wf.Name, report)
		}

		outcome.State = StateFailed
		c.metrics.SagaFinished(wf.Name, "failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "step failed")

		return outcome, &StepError{Workflow: wf.Name, Step: step.Name, Index: i, Err: err}
	}

	outcome.State = StateCommitted
	outcome.Created = reg.Snapshot()
	c.metrics.SagaFinished(wf.Name, "committed")
	span.SetStatus(codes.Ok, "")
	logger.Info("workflow committed", "resources", reg.Len())

	return outcome, nil
}

// runStep executes one step inside its own span.
func (c *Coordinator) runStep(ctx context.Context, ex *Execution, step Step, index int) error {
	ctx, span := tracer.Start(ctx, "saga.Step", trace.WithAttributes(
		attribute.String("saga.step", step.Name),
		attribute.Int("saga.step_index", index),
	))
	defer span.End()

	start := time.Now()
	err := step.Run(ctx, ex)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	c.logger.Debug("step completed", "workflow", ex.workflow, "step", step.Name, "duration", time.Since(start))
	return nil
}

// withMetrics attaches collectors to a compensator built by the coordinator.
func (c *Compensator) withMetrics(m *metrics.Metrics) *Compensator {
	c.metrics = m
	return c
}

// IsStepError reports whether err came from a failed saga step.
func IsStepError(err error) bool {
	var se *StepError
	return errors.As(err, &se)
}
