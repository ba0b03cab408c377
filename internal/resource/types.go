package resource

import (
	"context"
	"time"
)

// Ref identifies one row in one table.
type Ref struct {
	Table string `json:"table"`
	ID    string `json:"id"`
}

// JunctionBatch is a set of link-table rows created together.
type JunctionBatch struct {
	Table string   `json:"table"`
	IDs   []string `json:"ids"`
}

// Row is a column -> value map handed to Store.Insert.
// The "id" column is assigned by the store when absent.
type Row map[string]any

// IDColumn is the primary key column every tracked table carries.
const IDColumn = "id"

// Store is the storage collaborator: single-table insert and delete.
//
// Insert returns the ids of the inserted rows in input order.
// Delete returns how many rows were actually removed; ids that no longer
// exist are not an error.
type Store interface {
	Insert(ctx context.Context, table string, rows []Row) ([]string, error)
	Delete(ctx context.Context, table string, ids []string) (int64, error)
}

// TrackedRecord is the durable audit-trail row written for every resource
// created under a tracked run.
type TrackedRecord struct {
	RunID     string    `json:"run_id"`
	Table     string    `json:"table_name"`
	RecordID  string    `json:"record_id"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Purge outcomes recorded in PurgeAuditEntry.Outcome.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// PurgeAuditEntry is one append-only record per purge invocation.
type PurgeAuditEntry struct {
	ID            int64            `json:"id,omitempty"`
	RunIDs        []string         `json:"run_ids"`
	DeletedCounts map[string]int64 `json:"deleted_counts"`
	TotalDeleted  int64            `json:"total_deleted"`
	Reason        string           `json:"reason"`
	ActorID       string           `json:"actor_id"`
	Outcome       string           `json:"outcome"`
	Error         string           `json:"error,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

// PurgedRun marks a run as purged.
type PurgedRun struct {
	RunID    string    `json:"run_id"`
	ActorID  string    `json:"actor_id"`
	Reason   string    `json:"reason"`
	PurgedAt time.Time `json:"purged_at"`
}

// RunSummary describes one tracked run for listings.
type RunSummary struct {
	RunID       string     `json:"run_id"`
	CreatedBy   string     `json:"created_by"`
	Records     int        `json:"records"`
	CreatedAt   time.Time  `json:"created_at"`
	PurgedAt    *time.Time `json:"purged_at,omitempty"`
	PurgedBy    string     `json:"purged_by,omitempty"`
	PurgeReason string     `json:"purge_reason,omitempty"`
}
