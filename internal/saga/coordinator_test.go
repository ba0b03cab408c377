package saga

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/graph"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/registry"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/resource"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// captureHook returns a hook that stores every compensation report.
func captureHook(reports *[]Report) Option {
	return WithCompensationHook(func(_ string, r Report) {
		*reports = append(*reports, r)
	})
}

func createStep(name, table, key string) Step {
	return Step{Name: name, Run: func(ctx context.Context, ex *Execution) error {
		id, err := ex.Create(ctx, table, resource.Row{"name": name})
		if err != nil {
			return err
		}
		ex.Set(key, id)
		return nil
	}}
}

func TestExecute_AllStepsCommit(t *testing.T) {
	store := testutil.NewMemStore()
	var reports []Report
	c := New(store, graph.Default(), WithLogger(quietLogger()), captureHook(&reports))

	out, err := c.Execute(context.Background(), Workflow{
		Name: "application",
		Steps: []Step{
			createStep("company", "companies", "company_id"),
			createStep("contact", "contacts", "contact_id"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, out.State)
	assert.Empty(t, out.FailedStep)
	require.Len(t, out.Created, 2)
	assert.Equal(t, "companies", out.Created[0].Table)
	assert.Equal(t, "contacts", out.Created[1].Table)
	assert.Equal(t, out.Values["company_id"], out.Created[0].IDs[0])

	assert.Empty(t, reports, "committed saga must not compensate")
	assert.Empty(t, store.DeletedTables())
	assert.Equal(t, 1, store.Count("companies"))
}

func TestExecute_CompanyJunctionThenDealFails(t *testing.T) {
	store := testutil.NewMemStore()
	store.Reference("company_departments", "company_id", "companies")
	store.Reference("company_departments", "department_id", "departments")
	store.Seed("departments", "dept-x")
	dealErr := errors.New("deals: null value in column \"stage\"")
	store.FailInsert("deals", dealErr)

	var reports []Report
	c := New(store, graph.Default(), WithLogger(quietLogger()), captureHook(&reports))

	out, err := c.Execute(context.Background(), Workflow{
		Name: "application",
		Steps: []Step{
			createStep("company", "companies", "company_id"),
			{Name: "departments", Run: func(ctx context.Context, ex *Execution) error {
				_, err := ex.Link(ctx, "company_departments", []resource.Row{
					{"company_id": ex.ID("company_id"), "department_id": "dept-x"},
				})
				return err
			}},
			createStep("deal", "deals", "deal_id"),
		},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, dealErr, "caller sees the deal error, not a compensation error")
	step, ok := FailedStep(err)
	require.True(t, ok)
	assert.Equal(t, "deal", step)

	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, "deal", out.FailedStep)

	assert.Equal(t, []string{"company_departments", "companies"}, store.DeletedTables())
	assert.Equal(t, 0, store.Count("companies"))
	assert.Equal(t, 0, store.Count("company_departments"))
	assert.True(t, store.Exists("departments", "dept-x"), "pre-existing rows are untouched")

	require.Len(t, reports, 1)
	assert.Empty(t, reports[0].Errors)
}

func TestExecute_CompensationFailureDoesNotMaskStepError(t *testing.T) {
	store := testutil.NewMemStore()
	stepErr := errors.New("contact insert rejected")
	store.FailInsert("contacts", stepErr)
	store.FailDelete("companies", errors.New("connection reset"))

	var reports []Report
	c := New(store, graph.Default(), WithLogger(quietLogger()), captureHook(&reports))

	out, err := c.Execute(context.Background(), Workflow{
		Name: "application",
		Steps: []Step{
			createStep("company", "companies", "company_id"),
			createStep("contact", "contacts", "contact_id"),
		},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, stepErr)
	assert.NotContains(t, err.Error(), "connection reset")
	assert.Equal(t, StateFailed, out.State)

	require.Len(t, reports, 1)
	require.Len(t, reports[0].Errors, 1)
	assert.Equal(t, "companies", reports[0].Errors[0].Table)
	assert.Equal(t, 1, store.Count("companies"), "orphan left behind for a later purge")
}

func TestExecute_CompensationContinuesPastFailedTable(t *testing.T) {
	store := testutil.NewMemStore()
	store.FailDelete("deals", errors.New("timeout"))
	store.FailInsert("projects", errors.New("bad project"))

	var reports []Report
	c := New(store, graph.Default(), WithLogger(quietLogger()), captureHook(&reports))

	_, err := c.Execute(context.Background(), Workflow{
		Name: "application",
		Steps: []Step{
			createStep("company", "companies", "company_id"),
			createStep("deal", "deals", "deal_id"),
			createStep("project", "projects", "project_id"),
		},
	})
	require.Error(t, err)

	assert.Equal(t, []string{"deals", "companies"}, store.DeletedTables())
	require.Len(t, reports, 1)
	assert.Equal(t, []string{"deals", "companies"}, reports[0].Visited)
	assert.Equal(t, int64(1), reports[0].Deleted["companies"])
	require.Len(t, reports[0].Errors, 1)
	assert.Equal(t, "deals", reports[0].Errors[0].Table)
}

func TestExecute_PartialRegistrationOfFailingStepIsCompensated(t *testing.T) {
	store := testutil.NewMemStore()
	store.FailInsertPartial("contacts", 2, errors.New("row 3 rejected"))

	c := New(store, graph.Default(), WithLogger(quietLogger()))

	out, err := c.Execute(context.Background(), Workflow{
		Name: "bulk",
		Steps: []Step{
			{Name: "contacts", Run: func(ctx context.Context, ex *Execution) error {
				_, err := ex.CreateMany(ctx, "contacts", []resource.Row{{}, {}, {}})
				return err
			}},
		},
	})
	require.Error(t, err)
	require.Len(t, out.Created, 1)
	assert.Len(t, out.Created[0].IDs, 2)
	assert.Equal(t, 0, store.Count("contacts"))
}

func TestExecute_EmptyResultFailsStep(t *testing.T) {
	store := testutil.NewMemStore()
	store.FailInsertPartial("companies", 0, nil)

	c := New(store, graph.Default(), WithLogger(quietLogger()))
	_, err := c.Execute(context.Background(), Workflow{
		Name:  "application",
		Steps: []Step{createStep("company", "companies", "company_id")},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyResult)
}

func TestExecute_ConditionalStepRegistersNothing(t *testing.T) {
	store := testutil.NewMemStore()
	c := New(store, graph.Default(), WithLogger(quietLogger()))

	out, err := c.Execute(context.Background(), Workflow{
		Name: "application",
		Steps: []Step{
			createStep("company", "companies", "company_id"),
			{Name: "license", Run: func(ctx context.Context, ex *Execution) error {
				_, err := ex.CreateMany(ctx, "licenses", nil)
				return err
			}},
		},
	})
	require.NoError(t, err)
	require.Len(t, out.Created, 1)
	for _, call := range store.Calls() {
		assert.NotEqual(t, "licenses", call.Table)
	}
}

func TestExecute_NilRunRejectedBeforeAnyStep(t *testing.T) {
	store := testutil.NewMemStore()
	c := New(store, graph.Default(), WithLogger(quietLogger()))

	out, err := c.Execute(context.Background(), Workflow{
		Name: "application",
		Steps: []Step{
			createStep("company", "companies", "company_id"),
			{Name: "broken"},
		},
	})
	require.Error(t, err)
	assert.Nil(t, out)
	assert.False(t, IsStepError(err))
	assert.Empty(t, store.Calls())
}

func TestExecute_TracksRecordsForRun(t *testing.T) {
	store := testutil.NewMemStore()
	clock := testutil.NewDefaultClock()
	c := New(store, graph.Default(),
		WithLogger(quietLogger()),
		WithTracker(store),
		WithClock(clock.Now),
	)

	_, err := c.Execute(context.Background(), Workflow{
		Name:      "application",
		RunID:     "run-1",
		CreatedBy: "qa@example.com",
		Steps: []Step{
			createStep("company", "companies", "company_id"),
			{Name: "contacts", Run: func(ctx context.Context, ex *Execution) error {
				assert.Equal(t, "run-1", ex.RunID())
				_, err := ex.CreateMany(ctx, "contacts", []resource.Row{{}, {}})
				return err
			}},
		},
	})
	require.NoError(t, err)

	tracked := store.Tracked()
	require.Len(t, tracked, 3)
	assert.Equal(t, "companies", tracked[0].Table)
	assert.Equal(t, "run-1", tracked[0].RunID)
	assert.Equal(t, "qa@example.com", tracked[0].CreatedBy)
	assert.Equal(t, testutil.Epoch, tracked[0].CreatedAt)
	assert.Equal(t, "contacts", tracked[2].Table)
}

func TestExecute_UntrackedWorkflowWritesNoLedger(t *testing.T) {
	store := testutil.NewMemStore()
	c := New(store, graph.Default(), WithLogger(quietLogger()), WithTracker(store))

	_, err := c.Execute(context.Background(), Workflow{
		Name:  "application",
		Steps: []Step{createStep("company", "companies", "company_id")},
	})
	require.NoError(t, err)
	assert.Empty(t, store.Tracked())
}

func TestExecute_TrackingFailureFailsStep(t *testing.T) {
	store := testutil.NewMemStore()
	ledgerErr := errors.New("ledger unavailable")
	store.FailLedger(testutil.OpTrackRecords, ledgerErr)

	c := New(store, graph.Default(), WithLogger(quietLogger()), WithTracker(store))
	out, err := c.Execute(context.Background(), Workflow{
		Name:  "application",
		RunID: "run-1",
		Steps: []Step{createStep("company", "companies", "company_id")},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledgerErr)
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, 0, store.Count("companies"), "inserted row compensated")
}

func TestExecute_CancelledContextStillCompensates(t *testing.T) {
	store := testutil.NewMemStore()
	c := New(store, graph.Default(), WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	_, err := c.Execute(ctx, Workflow{
		Name: "application",
		Steps: []Step{
			createStep("company", "companies", "company_id"),
			{Name: "abort", Run: func(ctx context.Context, _ *Execution) error {
				cancel()
				return ctx.Err()
			}},
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, store.Count("companies"))
}

// For every workflow length N and failing step k, compensation receives
// exactly what steps 1..k-1 created and visits tables children-first.
func TestExecute_FailingStepCompensatesExactlyEarlierSteps(t *testing.T) {
	g := graph.Default()
	tables := []string{"companies", "contacts", "departments", "deals", "projects", "plan_sets", "licenses", "company_contacts", "deal_contacts", "notes"}
	rng := rand.New(rand.NewSource(42))

	for n := 1; n <= 6; n++ {
		for k := 1; k <= n; k++ {
			t.Run(fmt.Sprintf("n=%d/k=%d", n, k), func(t *testing.T) {
				store := testutil.NewMemStore()
				var reports []Report
				c := New(store, g, WithLogger(quietLogger()), captureHook(&reports))

				stepErr := fmt.Errorf("step %d failed", k)
				expected := registry.New()
				steps := make([]Step, n)
				for i := 0; i < n; i++ {
					table := tables[rng.Intn(len(tables))]
					count := rng.Intn(3)
					idx := i + 1
					steps[i] = Step{Name: fmt.Sprintf("step-%d", idx), Run: func(ctx context.Context, ex *Execution) error {
						if idx == k {
							return stepErr
						}
						rows := make([]resource.Row, count)
						for j := range rows {
							rows[j] = resource.Row{}
						}
						ids, err := ex.CreateMany(ctx, table, rows)
						for _, id := range ids {
							expected.Record(table, id)
						}
						return err
					}}
				}

				out, err := c.Execute(context.Background(), Workflow{Name: "random", Steps: steps})
				require.ErrorIs(t, err, stepErr)
				require.Len(t, reports, 1)

				assert.Equal(t, expected.Snapshot(), out.Created)

				registered := map[string]bool{}
				for _, e := range out.Created {
					registered[e.Table] = true
				}
				for _, table := range reports[0].Visited {
					assert.True(t, registered[table], "visited %s which was never registered", table)
				}
				assertChildrenFirst(t, g, reports[0].Visited)

				for _, e := range out.Created {
					for _, id := range e.IDs {
						assert.False(t, store.Exists(e.Table, id))
					}
				}
			})
		}
	}
}

func assertChildrenFirst(t *testing.T, g *graph.Graph, visited []string) {
	t.Helper()
	seenNonJunction := false
	prevTier := -1
	for _, table := range visited {
		if g.IsJunction(table) {
			assert.False(t, seenNonJunction, "junction %s visited after a non-junction table", table)
			continue
		}
		seenNonJunction = true
		tier := g.Tier(table)
		assert.GreaterOrEqual(t, tier, prevTier, "table %s visited out of order", table)
		prevTier = tier
	}
}
