package testutil

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/resource"
)

// Ledger operation names accepted by MemStore.FailLedger.
const (
	OpTrackRecords     = "TrackRecords"
	OpLoadTracked      = "LoadTracked"
	OpDeleteTracked    = "DeleteTracked"
	OpMarkRunsPurged   = "MarkRunsPurged"
	OpAppendPurgeAudit = "AppendPurgeAudit"
	OpListStaleRuns    = "ListStaleRuns"
)

// Call is one recorded Insert or Delete against a MemStore.
type Call struct {
	Op    string
	Table string
	IDs   []string
}

type insertFault struct {
	partial int
	err     error
}

type foreignKey struct {
	child  string
	column string
	parent string
}

// MemStore is an in-memory backing store and run ledger for tests.
//
// It implements resource.Store plus the tracking, ledger and audit methods
// the saga and purge engines consume. Faults can be injected per table for
// Insert and Delete and per operation for the ledger. Foreign keys declared
// with Reference are enforced on insert and delete, so deleting a parent
// before its children fails the way a relational store would.
type MemStore struct {
	mu sync.Mutex

	tables map[string]map[string]resource.Row
	ids    resource.IDGenerator
	fks    []foreignKey

	insertFaults map[string]insertFault
	deleteFaults map[string]error
	ledgerFaults map[string]error
	calls        []Call

	tracked []resource.TrackedRecord
	purged  map[string]resource.PurgedRun
	audit   []resource.PurgeAuditEntry
}

// NewMemStore creates an empty store assigning ids "row-0001", "row-0002", ...
func NewMemStore() *MemStore {
	return &MemStore{
		tables:       make(map[string]map[string]resource.Row),
		ids:          NewSequenceGenerator("row"),
		insertFaults: make(map[string]insertFault),
		deleteFaults: make(map[string]error),
		ledgerFaults: make(map[string]error),
		purged:       make(map[string]resource.PurgedRun),
	}
}

// Reference declares that child.column holds an id of parent.
func (s *MemStore) Reference(child, column, parent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fks = append(s.fks, foreignKey{child: child, column: column, parent: parent})
}

// FailInsert makes every Insert into table fail with err.
func (s *MemStore) FailInsert(table string, err error) {
	s.FailInsertPartial(table, 0, err)
}

// FailInsertPartial makes Insert into table store the first n rows, return
// their ids, and fail with err. A nil err with n smaller than the batch
// simulates a store that silently returns too few rows.
func (s *MemStore) FailInsertPartial(table string, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertFaults[table] = insertFault{partial: n, err: err}
}

// FailDelete makes every Delete on table fail with err.
func (s *MemStore) FailDelete(table string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteFaults[table] = err
}

// FailLedger makes the named ledger operation (OpTrackRecords, ...) fail.
func (s *MemStore) FailLedger(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledgerFaults[op] = err
}

// ClearFaults removes every injected fault.
func (s *MemStore) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertFaults = make(map[string]insertFault)
	s.deleteFaults = make(map[string]error)
	s.ledgerFaults = make(map[string]error)
}

// Insert implements resource.Store.
func (s *MemStore) Insert(_ context.Context, table string, rows []resource.Row) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := len(rows)
	fault, faulty := s.insertFaults[table]
	if faulty && fault.partial < limit {
		limit = fault.partial
	}

	ids := make([]string, 0, limit)
	for _, row := range rows[:limit] {
		if err := s.checkParentsLocked(table, row); err != nil {
			s.record("insert", table, ids)
			return ids, err
		}
		id, _ := row[resource.IDColumn].(string)
		if id == "" {
			id = s.ids.Generate()
		}
		stored := make(resource.Row, len(row)+1)
		for k, v := range row {
			stored[k] = v
		}
		stored[resource.IDColumn] = id

		if s.tables[table] == nil {
			s.tables[table] = make(map[string]resource.Row)
		}
		s.tables[table][id] = stored
		ids = append(ids, id)
	}
	s.record("insert", table, ids)

	if faulty {
		return ids, fault.err
	}
	return ids, nil
}

// Delete implements resource.Store. Missing ids are skipped.
func (s *MemStore) Delete(_ context.Context, table string, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record("delete", table, ids)
	if err := s.deleteFaults[table]; err != nil {
		return 0, err
	}

	rows := s.tables[table]
	for _, id := range ids {
		if _, ok := rows[id]; !ok {
			continue
		}
		if err := s.checkChildrenLocked(table, id, ids); err != nil {
			return 0, err
		}
	}

	var n int64
	for _, id := range ids {
		if _, ok := rows[id]; ok {
			delete(rows, id)
			n++
		}
	}
	return n, nil
}

func (s *MemStore) checkParentsLocked(table string, row resource.Row) error {
	for _, fk := range s.fks {
		if fk.child != table {
			continue
		}
		ref, _ := row[fk.column].(string)
		if ref == "" {
			continue
		}
		if _, ok := s.tables[fk.parent][ref]; !ok {
			return fmt.Errorf("foreign key violation: %s.%s references missing %s %q", table, fk.column, fk.parent, ref)
		}
	}
	return nil
}

// checkChildrenLocked fails when a row outside the delete set still
// references id.
func (s *MemStore) checkChildrenLocked(table, id string, deleting []string) error {
	for _, fk := range s.fks {
		if fk.parent != table {
			continue
		}
		for childID, row := range s.tables[fk.child] {
			if fk.child == table && slices.Contains(deleting, childID) {
				continue
			}
			if ref, _ := row[fk.column].(string); ref == id {
				return fmt.Errorf("foreign key violation: %s %q still referenced by %s %q", table, id, fk.child, childID)
			}
		}
	}
	return nil
}

func (s *MemStore) record(op, table string, ids []string) {
	s.calls = append(s.calls, Call{Op: op, Table: table, IDs: slices.Clone(ids)})
}

// Exists reports whether table holds id.
func (s *MemStore) Exists(table, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tables[table][id]
	return ok
}

// Count returns the number of rows in table.
func (s *MemStore) Count(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tables[table])
}

// Row returns a copy of a stored row.
func (s *MemStore) Row(table, id string) (resource.Row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.tables[table][id]
	if !ok {
		return nil, false
	}
	out := make(resource.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out, true
}

// Seed inserts bare rows with the given ids, bypassing faults and calls.
func (s *MemStore) Seed(table string, ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables[table] == nil {
		s.tables[table] = make(map[string]resource.Row)
	}
	for _, id := range ids {
		s.tables[table][id] = resource.Row{resource.IDColumn: id}
	}
}

// Calls returns every recorded Insert and Delete in order.
func (s *MemStore) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// DeletedTables returns the tables passed to Delete, in call order.
func (s *MemStore) DeletedTables() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tables := []string{}
	for _, c := range s.calls {
		if c.Op == "delete" {
			tables = append(tables, c.Table)
		}
	}
	return tables
}

// ResetCalls forgets recorded calls.
func (s *MemStore) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// TrackRecords appends tracked records.
func (s *MemStore) TrackRecords(_ context.Context, records []resource.TrackedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ledgerFaults[OpTrackRecords]; err != nil {
		return err
	}
	s.tracked = append(s.tracked, records...)
	return nil
}

// LoadTracked returns the tracked records of runIDs.
func (s *MemStore) LoadTracked(_ context.Context, runIDs []string) ([]resource.TrackedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ledgerFaults[OpLoadTracked]; err != nil {
		return nil, err
	}
	out := []resource.TrackedRecord{}
	for _, r := range s.tracked {
		if slices.Contains(runIDs, r.RunID) {
			out = append(out, r)
		}
	}
	return out, nil
}

// DeleteTracked removes the tracked records of runIDs.
func (s *MemStore) DeleteTracked(_ context.Context, runIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ledgerFaults[OpDeleteTracked]; err != nil {
		return 0, err
	}
	kept := s.tracked[:0]
	var n int64
	for _, r := range s.tracked {
		if slices.Contains(runIDs, r.RunID) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.tracked = kept
	return n, nil
}

// MarkRunsPurged records purge markers, replacing earlier ones.
func (s *MemStore) MarkRunsPurged(_ context.Context, runs []resource.PurgedRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ledgerFaults[OpMarkRunsPurged]; err != nil {
		return err
	}
	for _, r := range runs {
		s.purged[r.RunID] = r
	}
	return nil
}

// AppendPurgeAudit appends an audit entry and returns its id.
func (s *MemStore) AppendPurgeAudit(_ context.Context, entry resource.PurgeAuditEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ledgerFaults[OpAppendPurgeAudit]; err != nil {
		return 0, err
	}
	entry.ID = int64(len(s.audit) + 1)
	s.audit = append(s.audit, entry)
	return entry.ID, nil
}

// ListStaleRuns returns unpurged runs whose first record predates before.
func (s *MemStore) ListStaleRuns(_ context.Context, before time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ledgerFaults[OpListStaleRuns]; err != nil {
		return nil, err
	}
	first := make(map[string]time.Time)
	for _, r := range s.tracked {
		if t, ok := first[r.RunID]; !ok || r.CreatedAt.Before(t) {
			first[r.RunID] = r.CreatedAt
		}
	}
	runs := []string{}
	for id, t := range first {
		if _, done := s.purged[id]; done {
			continue
		}
		if t.Before(before) {
			runs = append(runs, id)
		}
	}
	sort.Strings(runs)
	return runs, nil
}

// Tracked returns a copy of every tracked record.
func (s *MemStore) Tracked() []resource.TrackedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.tracked)
}

// PurgedRun returns the purge marker of a run.
func (s *MemStore) PurgedRun(runID string) (resource.PurgedRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.purged[runID]
	return r, ok
}

// AuditEntries returns a copy of the purge audit log.
func (s *MemStore) AuditEntries() []resource.PurgeAuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.audit)
}
