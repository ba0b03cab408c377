package purge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/graph"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/metrics"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/resource"
)

var tracer = otel.Tracer("testlab/purge")

// Ledger is the durable tracked-record store.
type Ledger interface {
	LoadTracked(ctx context.Context, runIDs []string) ([]resource.TrackedRecord, error)
	DeleteTracked(ctx context.Context, runIDs []string) (int64, error)
	MarkRunsPurged(ctx context.Context, runs []resource.PurgedRun) error
}

// AuditLog receives one entry per purge invocation.
type AuditLog interface {
	AppendPurgeAudit(ctx context.Context, entry resource.PurgeAuditEntry) (int64, error)
}

// Result is the success response of a purge.
type Result struct {
	DeletedCounts map[string]int64 `json:"deleted_counts"`
	TotalDeleted  int64            `json:"total_deleted"`
}

// Engine performs purges.
type Engine struct {
	store   resource.Store
	ledger  Ledger
	audit   AuditLog
	graph   *graph.Graph
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records purge outcomes, durations and deleted rows.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the clock used for purge markers and audit entries.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine.
func New(store resource.Store, ledger Ledger, audit AuditLog, g *graph.Graph, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		ledger: ledger,
		audit:  audit,
		graph:  g,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Purge deletes every resource tracked under req.RunIDs.
//
// Steps:
//  1. load the tracked records of the runs
//  2. group record ids by table, deduplicated
//  3. order tables: link tables, then ascending tier, unknown tables last
//  4. delete each table with one bulk delete; the first failure aborts
//  5. drop the runs' tracked records (failure logged only)
//  6. mark every requested run purged, even runs with no records
//  7. append one audit entry
//
// An aborted purge returns a *TableError and no Result, and still appends
// an audit entry with outcome "failed". Audit failures are logged, never
// returned.
func (e *Engine) Purge(ctx context.Context, req Request) (*Result, error) {
	req, err := req.Validate()
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "purge.Purge", trace.WithAttributes(
		attribute.StringSlice("purge.run_ids", req.RunIDs),
		attribute.String("purge.actor_id", req.ActorID),
	))
	defer span.End()

	start := time.Now()
	logger := e.logger.With("run_ids", req.RunIDs, "actor_id", req.ActorID)

	result, err := e.purge(ctx, req, logger)

	entry := resource.PurgeAuditEntry{
		RunIDs:        req.RunIDs,
		DeletedCounts: map[string]int64{},
		Reason:        req.Reason,
		ActorID:       req.ActorID,
		OccurredAt:    e.now().UTC(),
	}
	if err != nil {
		entry.Outcome = resource.OutcomeFailed
		entry.Error = err.Error()
	} else {
		entry.Outcome = resource.OutcomeSucceeded
		entry.DeletedCounts = result.DeletedCounts
		entry.TotalDeleted = result.TotalDeleted
	}
	e.appendAudit(ctx, entry, logger)
	e.metrics.PurgeFinished(entry.Outcome, time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "purge failed")
		logger.Error("purge failed", "error", err)
		return nil, err
	}

	span.SetAttributes(attribute.Int64("purge.total_deleted", result.TotalDeleted))
	span.SetStatus(codes.Ok, "")
	logger.Info("purge complete",
		"total_deleted", result.TotalDeleted,
		"tables", len(result.DeletedCounts),
	)
	return result, nil
}

func (e *Engine) purge(ctx context.Context, req Request, logger *slog.Logger) (*Result, error) {
	records, err := e.ledger.LoadTracked(ctx, req.RunIDs)
	if err != nil {
		return nil, fmt.Errorf("load tracked records: %w", err)
	}

	groups := groupByTable(records)
	tables := make([]string, 0, len(groups))
	for table := range groups {
		tables = append(tables, table)
	}

	result := &Result{DeletedCounts: make(map[string]int64, len(tables))}
	for _, table := range e.graph.Order(tables) {
		n, err := e.deleteTable(ctx, table, groups[table].ids)
		if err != nil {
			return nil, &TableError{Table: table, Err: err}
		}
		result.DeletedCounts[table] = n
		result.TotalDeleted += n
		e.metrics.PurgeDeleted(table, n)
		logger.Debug("purged table", "table", table, "requested", len(groups[table].ids), "deleted", n)
	}

	// The primary data is gone; ledger bookkeeping below is best effort.
	if n, err := e.ledger.DeleteTracked(ctx, req.RunIDs); err != nil {
		logger.Error("delete tracked records", "error", err)
	} else {
		logger.Debug("deleted tracked records", "count", n)
	}

	purgedAt := e.now().UTC()
	marks := make([]resource.PurgedRun, len(req.RunIDs))
	for i, id := range req.RunIDs {
		marks[i] = resource.PurgedRun{RunID: id, ActorID: req.ActorID, Reason: req.Reason, PurgedAt: purgedAt}
	}
	if err := e.ledger.MarkRunsPurged(ctx, marks); err != nil {
		logger.Error("mark runs purged", "error", err)
	}

	return result, nil
}

func (e *Engine) deleteTable(ctx context.Context, table string, ids []string) (int64, error) {
	ctx, span := tracer.Start(ctx, "purge.DeleteTable", trace.WithAttributes(
		attribute.String("purge.table", table),
		attribute.Int("purge.ids", len(ids)),
	))
	defer span.End()

	n, err := e.store.Delete(ctx, table, ids)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	span.SetAttributes(attribute.Int64("purge.deleted", n))
	return n, nil
}

func (e *Engine) appendAudit(ctx context.Context, entry resource.PurgeAuditEntry, logger *slog.Logger) {
	// An aborted request still gets its audit entry.
	id, err := e.audit.AppendPurgeAudit(context.WithoutCancel(ctx), entry)
	if err != nil {
		logger.Error("append purge audit", "error", err, "outcome", entry.Outcome)
		return
	}
	logger.Debug("appended purge audit", "audit_id", id)
}

type idSet struct {
	ids  []string
	seen map[string]bool
}

// groupByTable collects distinct record ids per table in first-seen order.
func groupByTable(records []resource.TrackedRecord) map[string]*idSet {
	groups := make(map[string]*idSet)
	for _, r := range records {
		if r.Table == "" || r.RecordID == "" {
			continue
		}
		g, ok := groups[r.Table]
		if !ok {
			g = &idSet{seen: make(map[string]bool)}
			groups[r.Table] = g
		}
		if g.seen[r.RecordID] {
			continue
		}
		g.seen[r.RecordID] = true
		g.ids = append(g.ids, r.RecordID)
	}
	return groups
}
