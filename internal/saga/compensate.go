package saga

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/graph"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/metrics"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/registry"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/resource"
)

// TableFailure records one table whose compensating delete failed.
type TableFailure struct {
	Table   string `json:"table"`
	Message string `json:"message"`
}

// Report describes one compensation pass. It exists for logs, metrics and
// hooks; the saga caller never sees it.
type Report struct {
	Visited []string         `json:"visited"`
	Deleted map[string]int64 `json:"deleted"`
	Errors  []TableFailure   `json:"errors,omitempty"`
}

// Compensator deletes registered resources children-first.
type Compensator struct {
	store   resource.Store
	graph   *graph.Graph
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewCompensator creates a Compensator. A nil logger uses slog.Default().
func NewCompensator(store resource.Store, g *graph.Graph, logger *slog.Logger) *Compensator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compensator{store: store, graph: g, logger: logger}
}

// Compensate deletes every id in entries, one bulk delete per table.
//
// Junction tables go first, then the remaining tables in graph order
// (children before parents). A failed delete is recorded and the next table
// is still attempted. Compensate never returns an error; incomplete cleanup
// is logged at error level.
//
// The deletes run on a context detached from ctx's cancellation so that an
// aborted request still cleans up after itself. Deleting ids that are
// already gone is a no-op, so compensating the same entries twice is safe.
func (c *Compensator) Compensate(ctx context.Context, entries []registry.Entry) Report {
	ctx = context.WithoutCancel(ctx)
	ctx, span := tracer.Start(ctx, "saga.Compensate")
	defer span.End()

	byTable := make(map[string][]string, len(entries))
	var junctions, others []string
	for _, e := range entries {
		if len(e.IDs) == 0 {
			continue
		}
		if _, seen := byTable[e.Table]; !seen {
			if e.Junction || c.graph.IsJunction(e.Table) {
				junctions = append(junctions, e.Table)
			} else {
				others = append(others, e.Table)
			}
		}
		byTable[e.Table] = append(byTable[e.Table], e.IDs...)
	}

	order := append(c.graph.Order(junctions), c.graph.Order(others)...)
	report := Report{
		Visited: make([]string, 0, len(order)),
		Deleted: make(map[string]int64, len(order)),
	}

	for _, table := range order {
		ids := byTable[table]
		report.Visited = append(report.Visited, table)

		n, err := c.store.Delete(ctx, table, ids)
		if err != nil {
			report.Errors = append(report.Errors, TableFailure{Table: table, Message: err.Error()})
			c.metrics.CompensationFailed(table)
			c.logger.Error("compensating delete failed", "table", table, "ids", len(ids), "error", err)
			continue
		}
		report.Deleted[table] = n
		c.metrics.Compensated(table, n)
		c.logger.Debug("compensated table", "table", table, "requested", len(ids), "deleted", n)
	}

	span.SetAttributes(
		attribute.Int("saga.compensation.tables", len(order)),
		attribute.Int("saga.compensation.failures", len(report.Errors)),
	)
	if len(report.Errors) > 0 {
		span.SetStatus(codes.Error, "compensation incomplete")
		c.logger.Error("compensation incomplete",
			"failed_tables", len(report.Errors),
			"failures", report.Errors,
		)
	} else {
		c.logger.Info("compensation complete", "tables", len(order))
	}

	return report
}
