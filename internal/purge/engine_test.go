package purge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/graph"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/resource"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(t *testing.T, store *testutil.MemStore, g *graph.Graph) *Engine {
	t.Helper()
	clock := testutil.NewDefaultClock()
	return New(store, store, store, g, WithLogger(quietLogger()), WithClock(clock.Now))
}

// track seeds rows in table and tracks them under run.
func track(t *testing.T, store *testutil.MemStore, run, table string, ids ...string) {
	t.Helper()
	store.Seed(table, ids...)
	records := make([]resource.TrackedRecord, len(ids))
	for i, id := range ids {
		records[i] = resource.TrackedRecord{RunID: run, Table: table, RecordID: id, CreatedBy: "qa", CreatedAt: testutil.Epoch}
	}
	require.NoError(t, store.TrackRecords(context.Background(), records))
}

func junctionGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.New(graph.Config{Tables: []graph.TableConfig{
		{Name: "junction_table", Tier: 0, Junction: true, References: []string{"companies"}},
		{Name: "companies", Tier: 1},
	}})
	require.NoError(t, err)
	return g
}

func TestPurge_TwoRunsOneEmpty(t *testing.T) {
	store := testutil.NewMemStore()
	track(t, store, "r1", "companies", "c1", "c2", "c3")
	track(t, store, "r1", "junction_table", "j1", "j2")

	e := newEngine(t, store, junctionGraph(t))
	res, err := e.Purge(context.Background(), Request{
		RunIDs:  []string{"r1", "r2"},
		Reason:  "fixture reset",
		ActorID: "admin-1",
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]int64{"junction_table": 2, "companies": 3}, res.DeletedCounts)
	assert.Equal(t, int64(5), res.TotalDeleted)
	assert.Equal(t, []string{"junction_table", "companies"}, store.DeletedTables())

	for _, run := range []string{"r1", "r2"} {
		marker, ok := store.PurgedRun(run)
		require.True(t, ok, "run %s must be marked purged", run)
		assert.Equal(t, "admin-1", marker.ActorID)
		assert.Equal(t, "fixture reset", marker.Reason)
	}
	assert.Empty(t, store.Tracked())

	audit := store.AuditEntries()
	require.Len(t, audit, 1)
	assert.Equal(t, resource.OutcomeSucceeded, audit[0].Outcome)
	assert.Equal(t, []string{"r1", "r2"}, audit[0].RunIDs)
	assert.Equal(t, int64(5), audit[0].TotalDeleted)
	assert.Equal(t, res.DeletedCounts, audit[0].DeletedCounts)
}

func TestPurge_EmptyRun(t *testing.T) {
	store := testutil.NewMemStore()
	e := newEngine(t, store, graph.Default())

	res, err := e.Purge(context.Background(), Request{RunIDs: []string{"r-empty"}, Reason: "cleanup", ActorID: "admin"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{}, res.DeletedCounts)
	assert.Equal(t, int64(0), res.TotalDeleted)

	_, ok := store.PurgedRun("r-empty")
	assert.True(t, ok)
	require.Len(t, store.AuditEntries(), 1)
	assert.Empty(t, store.DeletedTables())
}

func TestPurge_AbortsAtFailingTable(t *testing.T) {
	store := testutil.NewMemStore()
	track(t, store, "r1", "deal_contacts", "dc1")
	track(t, store, "r1", "deals", "d1", "d2")
	track(t, store, "r1", "contacts", "p1")
	track(t, store, "r1", "companies", "c1")
	store.FailDelete("deals", errors.New("statement timeout"))

	e := newEngine(t, store, graph.Default())
	res, err := e.Purge(context.Background(), Request{RunIDs: []string{"r1"}, Reason: "reset", ActorID: "admin"})

	require.Error(t, err)
	assert.Nil(t, res, "no partial counts on failure")
	assert.Contains(t, err.Error(), "deals")
	table, ok := FailedTable(err)
	require.True(t, ok)
	assert.Equal(t, "deals", table)

	assert.Equal(t, []string{"deal_contacts", "deals"}, store.DeletedTables())
	assert.True(t, store.Exists("contacts", "p1"))
	assert.True(t, store.Exists("companies", "c1"))

	_, marked := store.PurgedRun("r1")
	assert.False(t, marked)
	assert.Len(t, store.Tracked(), 5, "ledger untouched after abort")

	audit := store.AuditEntries()
	require.Len(t, audit, 1)
	assert.Equal(t, resource.OutcomeFailed, audit[0].Outcome)
	assert.Contains(t, audit[0].Error, "deals")
	assert.Equal(t, int64(0), audit[0].TotalDeleted)
}

func TestPurge_ValidationRejectsBeforeAnyAction(t *testing.T) {
	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"no runs", Request{Reason: "r", ActorID: "a"}, "run_ids"},
		{"blank run", Request{RunIDs: []string{"r1", "  "}, Reason: "r", ActorID: "a"}, "run_ids"},
		{"no reason", Request{RunIDs: []string{"r1"}, Reason: "   ", ActorID: "a"}, "reason"},
		{"no actor", Request{RunIDs: []string{"r1"}, Reason: "r"}, "actor_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewMemStore()
			track(t, store, "r1", "companies", "c1")
			e := newEngine(t, store, graph.Default())

			_, err := e.Purge(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)

			assert.Empty(t, store.DeletedTables())
			assert.Empty(t, store.AuditEntries())
			assert.True(t, store.Exists("companies", "c1"))
		})
	}
}

func TestPurge_UnknownTablePurgedLast(t *testing.T) {
	store := testutil.NewMemStore()
	track(t, store, "r1", "notes", "n1")
	track(t, store, "r1", "companies", "c1")
	track(t, store, "r1", "company_contacts", "j1")

	e := newEngine(t, store, graph.Default())
	res, err := e.Purge(context.Background(), Request{RunIDs: []string{"r1"}, Reason: "reset", ActorID: "admin"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.DeletedCounts["notes"])
	assert.Equal(t, []string{"company_contacts", "companies", "notes"}, store.DeletedTables())
}

func TestPurge_DuplicateRecordsAndRunsCollapsed(t *testing.T) {
	store := testutil.NewMemStore()
	track(t, store, "r1", "companies", "c1")
	track(t, store, "r2", "companies", "c1")

	e := newEngine(t, store, graph.Default())
	res, err := e.Purge(context.Background(), Request{RunIDs: []string{"r1", "r2", "r1"}, Reason: "reset", ActorID: "admin"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.TotalDeleted)

	calls := store.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"c1"}, calls[0].IDs)
	assert.Equal(t, []string{"r1", "r2"}, store.AuditEntries()[0].RunIDs)
}

func TestPurge_AlreadyDeletedRowsAreBenign(t *testing.T) {
	store := testutil.NewMemStore()
	track(t, store, "r1", "companies", "c1", "c2")
	_, err := store.Delete(context.Background(), "companies", []string{"c1"})
	require.NoError(t, err)

	e := newEngine(t, store, graph.Default())
	res, err := e.Purge(context.Background(), Request{RunIDs: []string{"r1"}, Reason: "reset", ActorID: "admin"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.DeletedCounts["companies"])
}

func TestPurge_LedgerBookkeepingFailuresAreLogged(t *testing.T) {
	store := testutil.NewMemStore()
	track(t, store, "r1", "companies", "c1")
	store.FailLedger(testutil.OpDeleteTracked, errors.New("ledger down"))
	store.FailLedger(testutil.OpAppendPurgeAudit, errors.New("audit down"))

	e := newEngine(t, store, graph.Default())
	res, err := e.Purge(context.Background(), Request{RunIDs: []string{"r1"}, Reason: "reset", ActorID: "admin"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.TotalDeleted)
	assert.False(t, store.Exists("companies", "c1"))
	assert.Len(t, store.Tracked(), 1)
}

func TestPurge_LoadFailure(t *testing.T) {
	store := testutil.NewMemStore()
	store.FailLedger(testutil.OpLoadTracked, errors.New("no connection"))

	e := newEngine(t, store, graph.Default())
	_, err := e.Purge(context.Background(), Request{RunIDs: []string{"r1"}, Reason: "reset", ActorID: "admin"})
	require.Error(t, err)
	assert.False(t, IsTableError(err))
	require.Len(t, store.AuditEntries(), 1)
	assert.Equal(t, resource.OutcomeFailed, store.AuditEntries()[0].Outcome)
}

// Link tables are deleted before every table they reference, for random
// graphs that satisfy the tier invariant, and the purge itself succeeds
// against a store enforcing those references.
func TestPurge_JunctionsBeforeReferencedTables(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for iter := 0; iter < 25; iter++ {
		cfg := graph.Config{}
		var parents []string
		for i := 0; i < 4; i++ {
			name := fmt.Sprintf("parent_%d", i)
			cfg.Tables = append(cfg.Tables, graph.TableConfig{Name: name, Tier: 1 + rng.Intn(4)})
			parents = append(parents, name)
		}
		var links []string
		for i := 0; i < 3; i++ {
			name := fmt.Sprintf("link_%d", i)
			a, b := parents[rng.Intn(len(parents))], parents[rng.Intn(len(parents))]
			refs := []string{a}
			if b != a {
				refs = append(refs, b)
			}
			cfg.Tables = append(cfg.Tables, graph.TableConfig{Name: name, Tier: 0, Junction: true, References: refs})
			links = append(links, name)
		}
		g, err := graph.New(cfg)
		require.NoError(t, err)

		store := testutil.NewMemStore()
		for _, p := range parents {
			track(t, store, "run", p, p+"-1")
		}
		for _, tc := range cfg.Tables {
			if !tc.Junction {
				continue
			}
			row := resource.Row{resource.IDColumn: tc.Name + "-1"}
			for _, ref := range tc.References {
				store.Reference(tc.Name, ref+"_id", ref)
				row[ref+"_id"] = ref + "-1"
			}
			ids, err := store.Insert(context.Background(), tc.Name, []resource.Row{row})
			require.NoError(t, err)
			require.NoError(t, store.TrackRecords(context.Background(), []resource.TrackedRecord{{RunID: "run", Table: tc.Name, RecordID: ids[0]}}))
		}
		store.ResetCalls()

		e := newEngine(t, store, g)
		res, err := e.Purge(context.Background(), Request{RunIDs: []string{"run"}, Reason: "prop", ActorID: "t"})
		require.NoError(t, err, "iteration %d", iter)
		assert.Equal(t, int64(len(parents)+len(links)), res.TotalDeleted)

		position := map[string]int{}
		for i, table := range store.DeletedTables() {
			position[table] = i
		}
		for _, link := range links {
			for _, ref := range g.References(link) {
				assert.Less(t, position[link], position[ref], "%s must be purged before %s", link, ref)
			}
		}
	}
}

func TestPlan_DoesNotDelete(t *testing.T) {
	store := testutil.NewMemStore()
	track(t, store, "r1", "companies", "c1", "c2")
	track(t, store, "r1", "company_contacts", "j1")
	track(t, store, "r2", "deals", "d1")
	track(t, store, "r2", "notes", "n1")

	e := newEngine(t, store, graph.Default())
	plan, err := e.Plan(context.Background(), []string{"r1", "r2"})
	require.NoError(t, err)

	assert.Equal(t, 5, plan.Total)
	require.Len(t, plan.Tables, 4)
	assert.Equal(t, "company_contacts", plan.Tables[0].Table)
	assert.True(t, plan.Tables[0].Junction)
	assert.Equal(t, "notes", plan.Tables[3].Table)
	assert.Equal(t, graph.Default().DefaultTier(), plan.Tables[3].Tier)
	assert.Empty(t, store.DeletedTables())

	var buf bytes.Buffer
	require.NoError(t, plan.Render(&buf))
	gold := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	gold.Assert(t, "plan", buf.Bytes())
}

func TestPlan_RequiresRuns(t *testing.T) {
	e := newEngine(t, testutil.NewMemStore(), graph.Default())
	_, err := e.Plan(context.Background(), nil)
	assert.True(t, IsValidationError(err))
}
