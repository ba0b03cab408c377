package purge

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// PlanTable is one table a purge would visit.
type PlanTable struct {
	Table    string   `json:"table"`
	Tier     int      `json:"tier"`
	Junction bool     `json:"junction,omitempty"`
	IDs      []string `json:"ids"`
}

// Plan is the dry-run view of a purge: what would be deleted, in order.
type Plan struct {
	RunIDs []string    `json:"run_ids"`
	Tables []PlanTable `json:"tables"`
	Total  int         `json:"total"`
}

// Plan loads the tracked records of runIDs and returns the deletion order
// without deleting anything.
func (e *Engine) Plan(ctx context.Context, runIDs []string) (*Plan, error) {
	req, err := Request{RunIDs: runIDs, Reason: "plan", ActorID: "plan"}.Validate()
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "purge.Plan")
	defer span.End()

	records, err := e.ledger.LoadTracked(ctx, req.RunIDs)
	if err != nil {
		return nil, fmt.Errorf("load tracked records: %w", err)
	}
	groups := groupByTable(records)
	tables := make([]string, 0, len(groups))
	for table := range groups {
		tables = append(tables, table)
	}

	plan := &Plan{RunIDs: req.RunIDs, Tables: []PlanTable{}}
	for _, table := range e.graph.Order(tables) {
		ids := groups[table].ids
		plan.Tables = append(plan.Tables, PlanTable{
			Table:    table,
			Tier:     e.graph.Tier(table),
			Junction: e.graph.IsJunction(table),
			IDs:      ids,
		})
		plan.Total += len(ids)
	}
	return plan, nil
}

// Render writes the plan as text, one table per line.
func (p *Plan) Render(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "runs: %s\n", strings.Join(p.RunIDs, ", ")); err != nil {
		return err
	}
	for i, t := range p.Tables {
		kind := ""
		if t.Junction {
			kind = " (junction)"
		}
		if _, err := fmt.Fprintf(w, "%2d. %s%s tier=%d rows=%d\n", i+1, t.Table, kind, t.Tier, len(t.IDs)); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "total: %d\n", p.Total)
	return err
}
