package pgstore

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/graph"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/purge"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/resource"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/saga"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/store"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/testutil"
)

// startPostgres runs a throwaway Postgres and returns a migrated Store.
// Skipped with -short or when no container runtime is available.
func startPostgres(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()

	var pgContainer *postgres.PostgresContainer
	var err error
	func() {
		// testcontainers panics when no docker host can be found
		defer func() {
			if r := recover(); r != nil {
				t.Skipf("container runtime unavailable: %v", r)
			}
		}()
		pgContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("testlab"),
			postgres.WithUsername("user"),
			postgres.WithPassword("password"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
	}()
	if err != nil {
		t.Skipf("container runtime unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	clock := testutil.NewDefaultClock()
	s, err := Open(ctx, connStr,
		WithIDGenerator(testutil.NewSequenceGenerator("pg")),
		WithClock(clock.Now),
	)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgresStore(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("migrate is idempotent", func(t *testing.T) {
		require.NoError(t, s.Migrate(ctx))
	})

	t.Run("insert and delete", func(t *testing.T) {
		ids, err := s.Insert(ctx, "departments", []resource.Row{{"name": "Permitting"}, {"name": "Design"}})
		require.NoError(t, err)
		require.Len(t, ids, 2)

		n, err := s.Delete(ctx, "departments", append(ids, "missing"))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		_, err = s.Insert(ctx, "bad table", []resource.Row{{"name": "x"}})
		assert.ErrorIs(t, err, store.ErrInvalidTable)
	})

	t.Run("tracked saga then purge", func(t *testing.T) {
		g := graph.Default()
		coord := saga.New(s, g, saga.WithTracker(s), saga.WithLogger(logger))

		out, err := coord.Execute(ctx, saga.Workflow{
			Name:      "application",
			RunID:     "pg-run-1",
			CreatedBy: "qa",
			Steps: []saga.Step{
				{Name: "company", Run: func(ctx context.Context, ex *saga.Execution) error {
					id, err := ex.Create(ctx, "companies", resource.Row{"name": "Acme"})
					ex.Set("company", id)
					return err
				}},
				{Name: "contact", Run: func(ctx context.Context, ex *saga.Execution) error {
					id, err := ex.Create(ctx, "contacts", resource.Row{"first_name": "Ada", "company_id": ex.ID("company")})
					ex.Set("contact", id)
					return err
				}},
				{Name: "link", Run: func(ctx context.Context, ex *saga.Execution) error {
					_, err := ex.Link(ctx, "company_contacts", []resource.Row{
						{"company_id": ex.ID("company"), "contact_id": ex.ID("contact")},
					})
					return err
				}},
			},
		})
		require.NoError(t, err)
		require.Len(t, out.Created, 3)

		records, err := s.LoadTracked(ctx, []string{"pg-run-1"})
		require.NoError(t, err)
		assert.Len(t, records, 3)

		engine := purge.New(s, s, s, g, purge.WithLogger(logger))
		res, err := engine.Purge(ctx, purge.Request{RunIDs: []string{"pg-run-1", "pg-empty"}, Reason: "reset", ActorID: "admin"})
		require.NoError(t, err)
		assert.Equal(t, int64(3), res.TotalDeleted)

		for _, e := range out.Created {
			for _, id := range e.IDs {
				ok, err := s.Exists(ctx, e.Table, id)
				require.NoError(t, err)
				assert.False(t, ok, "%s/%s survived purge", e.Table, id)
			}
		}

		runs, err := s.ListRuns(ctx)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		for _, r := range runs {
			assert.NotNil(t, r.PurgedAt, "run %s not marked", r.RunID)
		}

		audit, err := s.ListPurgeAudit(ctx, 1)
		require.NoError(t, err)
		require.Len(t, audit, 1)
		assert.Equal(t, []string{"pg-run-1", "pg-empty"}, audit[0].RunIDs)
		assert.Equal(t, res.DeletedCounts, audit[0].DeletedCounts)
	})

	t.Run("stale runs", func(t *testing.T) {
		require.NoError(t, s.TrackRecords(ctx, []resource.TrackedRecord{
			{RunID: "pg-old", Table: "companies", RecordID: "gone", CreatedAt: testutil.Epoch.Add(-72 * time.Hour)},
		}))
		stale, err := s.ListStaleRuns(ctx, testutil.Epoch)
		require.NoError(t, err)
		assert.Equal(t, []string{"pg-old"}, stale)
	})
}
