package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/resource"
)

// TrackRecords writes tracked records, creating their runs on first use.
func (s *Store) TrackRecords(ctx context.Context, records []resource.TrackedRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
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
			batch.Queue(`INSERT INTO test_runs (run_id, created_by, created_at) VALUES ($1, $2, $3)
				ON CONFLICT (run_id) DO NOTHING`, r.RunID, r.CreatedBy, createdAt.UTC())
		}
		batch.Queue(`INSERT INTO tracked_records (run_id, table_name, record_id, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5) ON CONFLICT DO NOTHING`,
			r.RunID, r.Table, r.RecordID, r.CreatedBy, createdAt.UTC())
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("track records: %w", err)
	}
	return nil
}

// LoadTracked returns the tracked records of runIDs ordered by creation.
func (s *Store) LoadTracked(ctx context.Context, runIDs []string) ([]resource.TrackedRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, table_name, record_id, created_by, created_at
		FROM tracked_records
		WHERE run_id = ANY($1)
		ORDER BY created_at ASC, table_name ASC, record_id ASC
	`, runIDs)
	if err != nil {
		return nil, fmt.Errorf("load tracked: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (resource.TrackedRecord, error) {
		var r resource.TrackedRecord
		err := row.Scan(&r.RunID, &r.Table, &r.RecordID, &r.CreatedBy, &r.CreatedAt)
		r.CreatedAt = r.CreatedAt.UTC()
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("load tracked: %w", err)
	}
	if records == nil {
		records = []resource.TrackedRecord{}
	}
	return records, nil
}

// DeleteTracked removes the tracked records of runIDs.
func (s *Store) DeleteTracked(ctx context.Context, runIDs []string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tracked_records WHERE run_id = ANY($1)`, runIDs)
	if err != nil {
		return 0, fmt.Errorf("delete tracked: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkRunsPurged stamps runs as purged, creating rows for untracked runs.
func (s *Store) MarkRunsPurged(ctx context.Context, runs []resource.PurgedRun) error {
	if len(runs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range runs {
		batch.Queue(`
			INSERT INTO test_runs (run_id, created_at, purged_at, purged_by, purge_reason)
			VALUES ($1, $2, $2, $3, $4)
			ON CONFLICT (run_id) DO UPDATE
			SET purged_at = EXCLUDED.purged_at, purged_by = EXCLUDED.purged_by, purge_reason = EXCLUDED.purge_reason
		`, r.RunID, r.PurgedAt.UTC(), r.ActorID, r.Reason)
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("mark runs purged: %w", err)
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
	occurred := entry.OccurredAt
	if occurred.IsZero() {
		occurred = s.now()
	}

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO purge_audit
		(run_ids, deleted_counts, total_deleted, reason, actor_id, outcome, error, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, runIDs, counts, entry.TotalDeleted, entry.Reason, entry.ActorID, entry.Outcome, entry.Error, occurred.UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append purge audit: %w", err)
	}
	return id, nil
}

// ListPurgeAudit returns the most recent audit entries, newest first.
func (s *Store) ListPurgeAudit(ctx context.Context, limit int) ([]resource.PurgeAuditEntry, error) {
	query := `
		SELECT id, run_ids, deleted_counts, total_deleted, reason, actor_id, outcome, error, occurred_at
		FROM purge_audit
		ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list purge audit: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (resource.PurgeAuditEntry, error) {
		var e resource.PurgeAuditEntry
		err := row.Scan(&e.ID, &e.RunIDs, &e.DeletedCounts, &e.TotalDeleted, &e.Reason,
			&e.ActorID, &e.Outcome, &e.Error, &e.OccurredAt)
		e.OccurredAt = e.OccurredAt.UTC()
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("list purge audit: %w", err)
	}
	if entries == nil {
		entries = []resource.PurgeAuditEntry{}
	}
	return entries, nil
}

// ListRuns summarizes every known run, oldest first.
func (s *Store) ListRuns(ctx context.Context) ([]resource.RunSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.run_id, r.created_by, r.created_at, r.purged_at,
		       COALESCE(r.purged_by, ''), COALESCE(r.purge_reason, ''), COUNT(t.record_id)
		FROM test_runs r
		LEFT JOIN tracked_records t ON t.run_id = r.run_id
		GROUP BY r.run_id
		ORDER BY r.created_at ASC, r.run_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (resource.RunSummary, error) {
		var r resource.RunSummary
		var records int64
		err := row.Scan(&r.RunID, &r.CreatedBy, &r.CreatedAt, &r.PurgedAt, &r.PurgedBy, &r.PurgeReason, &records)
		r.Records = int(records)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	if runs == nil {
		runs = []resource.RunSummary{}
	}
	return runs, nil
}

// ListStaleRuns returns unpurged runs created before the cutoff.
func (s *Store) ListStaleRuns(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id FROM test_runs
		WHERE purged_at IS NULL AND created_at < $1
		ORDER BY run_id ASC
	`, before.UTC())
	if err != nil {
		return nil, fmt.Errorf("list stale runs: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list stale runs: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}
