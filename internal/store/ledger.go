package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/resource"
)

// TrackRecords writes tracked records, creating their runs on first use.
// Re-tracking the same (run, table, record) is a no-op.
func (s *Store) TrackRecords(ctx context.Context, records []resource.TrackedRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("track records: begin: %w", err)
	}
	defer tx.Rollback()

	seen := make(map[string]bool)
	for _, r := range records {
		if r.RunID == "" || r.Table == "" || r.RecordID == "" {
			return fmt.Errorf("track records: run_id, table_name and record_id are required")
		}
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = s.now()
		}

		if !seen[r.RunID] {
			seen[r.RunID] = true
			if _, err := tx.ExecContext(ctx, s.insertIgnore()+` test_runs (run_id, created_by, created_at) VALUES (?, ?, ?)`,
				r.RunID, r.CreatedBy, formatTime(createdAt)); err != nil {
				return fmt.Errorf("track records: create run %s: %w", r.RunID, err)
			}
		}

		if _, err := tx.ExecContext(ctx, s.insertIgnore()+` tracked_records
			(run_id, table_name, record_id, created_by, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			r.RunID, r.Table, r.RecordID, r.CreatedBy, formatTime(createdAt),
		); err != nil {
			return fmt.Errorf("track records: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("track records: commit: %w", err)
	}
	return nil
}

// LoadTracked returns the tracked records of runIDs ordered by creation.
// Returns an empty slice (not nil) when there are none.
func (s *Store) LoadTracked(ctx context.Context, runIDs []string) ([]resource.TrackedRecord, error) {
	records := []resource.TrackedRecord{}
	if len(runIDs) == 0 {
		return records, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, table_name, record_id, created_by, created_at
		FROM tracked_records
		WHERE run_id IN (`+placeholders(len(runIDs))+`)
		ORDER BY created_at ASC, table_name ASC, record_id ASC
	`, toAnys(runIDs)...)
	if err != nil {
		return nil, fmt.Errorf("load tracked: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r resource.TrackedRecord
		var createdAt string
		if err := rows.Scan(&r.RunID, &r.Table, &r.RecordID, &r.CreatedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("scan tracked record: %w", err)
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracked records: %w", err)
	}
	return records, nil
}

// DeleteTracked removes the tracked records of runIDs. The runs themselves
// are kept so their purge markers survive.
func (s *Store) DeleteTracked(ctx context.Context, runIDs []string) (int64, error) {
	if len(runIDs) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tracked_records WHERE run_id IN (`+placeholders(len(runIDs))+`)`,
		toAnys(runIDs)...)
	if err != nil {
		return 0, fmt.Errorf("delete tracked: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete tracked: rows affected: %w", err)
	}
	return n, nil
}

// MarkRunsPurged stamps runs as purged, creating rows for runs that were
// never tracked so that purging an empty run is still recorded.
func (s *Store) MarkRunsPurged(ctx context.Context, runs []resource.PurgedRun) error {
	if len(runs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mark runs purged: begin: %w", err)
	}
	defer tx.Rollback()

	for _, r := range runs {
		at := formatTime(r.PurgedAt)
		if _, err := tx.ExecContext(ctx, s.insertIgnore()+` test_runs (run_id, created_at) VALUES (?, ?)`,
			r.RunID, at); err != nil {
			return fmt.Errorf("mark runs purged: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE test_runs SET purged_at = ?, purged_by = ?, purge_reason = ?
			WHERE run_id = ?
		`, at, r.ActorID, r.Reason, r.RunID); err != nil {
			return fmt.Errorf("mark runs purged: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mark runs purged: commit: %w", err)
	}
	return nil
}

// AppendPurgeAudit appends one audit entry and returns its id.
func (s *Store) AppendPurgeAudit(ctx context.Context, entry resource.PurgeAuditEntry) (int64, error) {
	runIDs := entry.RunIDs
	if runIDs == nil {
		runIDs = []string{}
	}
	counts := entry.DeletedCounts
	if counts == nil {
		counts = map[string]int64{}
	}
	runsJSON, err := json.Marshal(runIDs)
	if err != nil {
		return 0, fmt.Errorf("append purge audit: %w", err)
	}
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return 0, fmt.Errorf("append purge audit: %w", err)
	}
	occurred := entry.OccurredAt
	if occurred.IsZero() {
		occurred = s.now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO purge_audit
		(run_ids, deleted_counts, total_deleted, reason, actor_id, outcome, error, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(runsJSON),
		string(countsJSON),
		entry.TotalDeleted,
		entry.Reason,
		entry.ActorID,
		entry.Outcome,
		entry.Error,
		formatTime(occurred),
	)
	if err != nil {
		return 0, fmt.Errorf("append purge audit: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append purge audit: last insert id: %w", err)
	}
	return id, nil
}

// ListPurgeAudit returns the most recent audit entries, newest first.
// A non-positive limit returns every entry.
func (s *Store) ListPurgeAudit(ctx context.Context, limit int) ([]resource.PurgeAuditEntry, error) {
	query := `
		SELECT id, run_ids, deleted_counts, total_deleted, reason, actor_id, outcome, error, occurred_at
		FROM purge_audit
		ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list purge audit: %w", err)
	}
	defer rows.Close()

	entries := []resource.PurgeAuditEntry{}
	for rows.Next() {
		var e resource.PurgeAuditEntry
		var runsJSON, countsJSON, occurred string
		if err := rows.Scan(&e.ID, &runsJSON, &countsJSON, &e.TotalDeleted, &e.Reason,
			&e.ActorID, &e.Outcome, &e.Error, &occurred); err != nil {
			return nil, fmt.Errorf("scan purge audit: %w", err)
		}
		if err := json.Unmarshal([]byte(runsJSON), &e.RunIDs); err != nil {
			return nil, fmt.Errorf("unmarshal run_ids: %w", err)
		}
		if err := json.Unmarshal([]byte(countsJSON), &e.DeletedCounts); err != nil {
			return nil, fmt.Errorf("unmarshal deleted_counts: %w", err)
		}
		if e.OccurredAt, err = parseTime(occurred); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purge audit: %w", err)
	}
	return entries, nil
}

// ListRuns summarizes every known run, oldest first.
func (s *Store) ListRuns(ctx context.Context) ([]resource.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, r.created_by, r.created_at, r.purged_at, r.purged_by, r.purge_reason,
		       COUNT(t.record_id)
		FROM test_runs r
		LEFT JOIN tracked_records t ON t.run_id = r.run_id
		GROUP BY r.run_id, r.created_by, r.created_at, r.purged_at, r.purged_by, r.purge_reason
		ORDER BY r.created_at ASC, r.run_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []resource.RunSummary{}
	for rows.Next() {
		var r resource.RunSummary
		var createdAt string
		var purgedAt, purgedBy, reason sql.NullString
		if err := rows.Scan(&r.RunID, &r.CreatedBy, &createdAt, &purgedAt, &purgedBy, &reason, &r.Records); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if purgedAt.Valid {
			t, err := parseTime(purgedAt.String)
			if err != nil {
				return nil, err
			}
			r.PurgedAt = &t
			r.PurgedBy = purgedBy.String
			r.PurgeReason = reason.String
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ListStaleRuns returns unpurged runs created before the cutoff.
func (s *Store) ListStaleRuns(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id FROM test_runs
		WHERE purged_at IS NULL AND created_at < ?
		ORDER BY run_id ASC
	`, formatTime(before))
	if err != nil {
		return nil, fmt.Errorf("list stale runs: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale run: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale runs: %w", err)
	}
	return ids, nil
}

func (s *Store) insertIgnore() string {
	if s.dialect.name == mysqlDialect.name {
		return "INSERT IGNORE INTO"
	}
	return "INSERT OR IGNORE INTO"
}
