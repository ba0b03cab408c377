// Package store is the database/sql backing store for Test Lab records and
// the run ledger.
//
// One Store serves three roles:
//   - resource.Store: bulk Insert and Delete of domain rows by id
//   - saga.Tracker: tracked_records written as each saga step commits
//   - purge.Ledger and purge.AuditLog: run lookup, purge markers and the
//     append-only purge_audit table
//
// # Dialects
//
// Open uses SQLite (github.com/mattn/go-sqlite3) and is the default for local
// QA databases. OpenMySQL uses github.com/go-sql-driver/mysql for shared
// environments. PostgreSQL lives in the pgstore subpackage.
//
// # SQLite Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Foreign keys matter here: a purge that deletes a parent before its
// children fails at that table, which is exactly what the dependency graph
// exists to prevent.
//
// Timestamps are stored as fixed-width UTC strings so that range queries
// compare correctly as text in every dialect.
package store
