// Package pgstore is the PostgreSQL backing store, the hosted database the
// Test Lab runs against in shared environments.
package pgstore

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/resource"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Store implements resource.Store and the run ledger on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	ids  resource.IDGenerator
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator sets the generator for rows inserted without an id.
func WithIDGenerator(g resource.IDGenerator) Option {
	return func(s *Store) { s.ids = g }
}

// WithClock overrides the clock used for ledger timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, ids: resource.UUIDv7Generator{}, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to dsn and applies the schema.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s := New(pool, opts...)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the embedded schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func ident(name string) (string, error) {
	if !store.ValidIdentifier(name) {
		return "", fmt.Errorf("%w: %q", store.ErrInvalidTable, name)
	}
	return pgx.Identifier{name}.Sanitize(), nil
}

// Insert inserts rows into table inside one transaction.
func (s *Store) Insert(ctx context.Context, table string, rows []resource.Row) ([]string, error) {
	if len(rows) == 0 {
		return []string{}, nil
	}
	quoted, err := ident(table)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("insert %s: begin: %w", table, err)
	}
	defer tx.Rollback(ctx)

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		id, _ := row[resource.IDColumn].(string)
		if id == "" {
			id = s.ids.Generate()
		}

		columns := make([]string, 0, len(row))
		for col := range row {
			if col != resource.IDColumn {
				columns = append(columns, col)
			}
		}
		sort.Strings(columns)

		names := []string{pgx.Identifier{resource.IDColumn}.Sanitize()}
		params := []string{"$1"}
		args := []any{id}
		for i, col := range columns {
			q, err := ident(col)
			if err != nil {
				return nil, fmt.Errorf("insert %s: column: %w", table, err)
			}
			names = append(names, q)
			params = append(params, fmt.Sprintf("$%d", i+2))
			args = append(args, row[col])
		}

		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			quoted, strings.Join(names, ", "), strings.Join(params, ", "))
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return nil, fmt.Errorf("insert %s: %w", table, err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("insert %s: commit: %w", table, err)
	}
	return ids, nil
}

// Delete removes ids from table with one "id = ANY($1)" statement.
func (s *Store) Delete(ctx context.Context, table string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	quoted, err := ident(table)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	tag, err := s.pool.Exec(ctx, "DELETE FROM "+quoted+" WHERE id = ANY($1)", ids)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

// Exists reports whether table holds id.
func (s *Store) Exists(ctx context.Context, table, id string) (bool, error) {
	quoted, err := ident(table)
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", table, err)
	}
	var ok bool
	if err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM "+quoted+" WHERE id = $1)", id).Scan(&ok); err != nil {
		return false, fmt.Errorf("exists %s: %w", table, err)
	}
	return ok, nil
}

// Count returns the number of rows in table.
func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	quoted, err := ident(table)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+quoted).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}
