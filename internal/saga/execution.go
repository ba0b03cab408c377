package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/registry"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/resource"
)

// Tracker persists the audit trail of created resources for a run.
type Tracker interface {
	TrackRecords(ctx context.Context, records []resource.TrackedRecord) error
}

// Execution is the handle a step uses to create resources.
//
// Every id the store confirms is recorded in the saga's registry before the
// call returns, so a failure anywhere later compensates it. Values set by
// one step are visible to the steps after it.
type Execution struct {
	workflow  string
	runID     string
	createdBy string

	store   resource.Store
	tracker Tracker
	now     func() time.Time

	reg    *registry.Registry
	values map[string]any
}

// RunID returns the tracking run id, or "" for untracked workflows.
func (e *Execution) RunID() string { return e.runID }

// Workflow returns the workflow name.
func (e *Execution) Workflow() string { return e.workflow }

// Set stores a value for later steps, typically an id.
func (e *Execution) Set(key string, v any) { e.values[key] = v }

// Value returns a value stored by an earlier step.
func (e *Execution) Value(key string) (any, bool) {
	v, ok := e.values[key]
	return v, ok
}

// ID returns a string value stored by an earlier step, or "".
func (e *Execution) ID(key string) string {
	s, _ := e.values[key].(string)
	return s
}

// Create inserts one row and returns its id.
func (e *Execution) Create(ctx context.Context, table string, row resource.Row) (string, error) {
	ids, err := e.insert(ctx, table, []resource.Row{row}, false)
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// CreateMany inserts rows into one table. An empty rows slice inserts
// nothing and registers nothing.
func (e *Execution) CreateMany(ctx context.Context, table string, rows []resource.Row) ([]string, error) {
	return e.insert(ctx, table, rows, false)
}

// Link inserts link-table rows. They are registered as a junction batch and
// compensated before any other table.
func (e *Execution) Link(ctx context.Context, table string, rows []resource.Row) ([]string, error) {
	return e.insert(ctx, table, rows, true)
}

func (e *Execution) insert(ctx context.Context, table string, rows []resource.Row, junction bool) ([]string, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	ids, err := e.store.Insert(ctx, table, rows)

	// Register whatever the store confirmed, even alongside an error.
	confirmed := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			confirmed = append(confirmed, id)
		}
	}
	if junction {
		e.reg.RecordBatch(table, confirmed)
	} else {
		for _, id := range confirmed {
			e.reg.Record(table, id)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	if len(confirmed) < len(rows) {
		return nil, fmt.Errorf("insert %s: %w (%d of %d rows)", table, ErrEmptyResult, len(confirmed), len(rows))
	}

	if e.runID != "" && e.tracker != nil {
		now := e.now().UTC()
		records := make([]resource.TrackedRecord, len(confirmed))
		for i, id := range confirmed {
			records[i] = resource.TrackedRecord{
				RunID:     e.runID,
				Table:     table,
				RecordID:  id,
				CreatedBy: e.createdBy,
				CreatedAt: now,
			}
		}
		if err := e.tracker.TrackRecords(ctx, records); err != nil {
			return nil, fmt.Errorf("track %s: %w", table, err)
		}
	}

	return confirmed, nil
}
