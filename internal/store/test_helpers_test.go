package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/resource"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/testutil"
)

// createTestStore creates a new SQLite store in a temp dir with
// deterministic ids and timestamps.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	clock := testutil.NewDefaultClock()
	s, err := Open(path,
		WithIDGenerator(testutil.NewSequenceGenerator("rec")),
		WithClock(clock.Now),
	)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// mustInsert inserts one row and returns its id.
func mustInsert(t *testing.T, s *Store, table string, row resource.Row) string {
	t.Helper()
	ids, err := s.Insert(context.Background(), table, []resource.Row{row})
	if err != nil {
		t.Fatalf("Insert(%s) failed: %v", table, err)
	}
	return ids[0]
}

func mustExist(t *testing.T, s *Store, table, id string) bool {
	t.Helper()
	ok, err := s.Exists(context.Background(), table, id)
	if err != nil {
		t.Fatalf("Exists(%s, %s) failed: %v", table, id, err)
	}
	return ok
}
