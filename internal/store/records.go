package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/resource"
)

// deleteChunk bounds the number of ids bound to one DELETE statement.
const deleteChunk = 500

// Insert inserts rows into table inside one transaction and returns their
// ids in input order. Rows without an "id" get one from the store's
// generator. On error nothing is inserted and no ids are returned.
func (s *Store) Insert(ctx context.Context, table string, rows []resource.Row) ([]string, error) {
	if len(rows) == 0 {
		return []string{}, nil
	}
	quoted, err := s.ident(table)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("insert %s: begin: %w", table, err)
	}
	defer tx.Rollback()

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		id, _ := row[resource.IDColumn].(string)
		if id == "" {
			id = s.ids.Generate()
		}

		columns := make([]string, 0, len(row)+1)
		for col := range row {
			if col != resource.IDColumn {
				columns = append(columns, col)
			}
		}
		sort.Strings(columns)

		names := []string{s.dialect.quote(resource.IDColumn)}
		args := []any{id}
		for _, col := range columns {
			q, err := s.ident(col)
			if err != nil {
				return nil, fmt.Errorf("insert %s: column: %w", table, err)
			}
			names = append(names, q)
			args = append(args, row[col])
		}

		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			quoted, strings.Join(names, ", "), placeholders(len(args)))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return nil, fmt.Errorf("insert %s: %w", table, err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("insert %s: commit: %w", table, err)
	}
	return ids, nil
}

// Delete removes ids from table and returns how many rows existed.
// Large id sets are split into chunks inside one transaction.
func (s *Store) Delete(ctx context.Context, table string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	quoted, err := s.ident(table)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("delete %s: begin: %w", table, err)
	}
	defer tx.Rollback()

	var total int64
	for start := 0; start < len(ids); start += deleteChunk {
		end := min(start+deleteChunk, len(ids))
		chunk := ids[start:end]

		query := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
			quoted, s.dialect.quote(resource.IDColumn), placeholders(len(chunk)))
		res, err := tx.ExecContext(ctx, query, toAnys(chunk)...)
		if err != nil {
			return 0, fmt.Errorf("delete %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("delete %s: rows affected: %w", table, err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("delete %s: commit: %w", table, err)
	}
	return total, nil
}

// Exists reports whether table holds a row with id.
func (s *Store) Exists(ctx context.Context, table, id string) (bool, error) {
	quoted, err := s.ident(table)
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", table, err)
	}
	var one int
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = ?", quoted, s.dialect.quote(resource.IDColumn))
	err = s.db.QueryRowContext(ctx, query, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", table, err)
	}
	return true, nil
}

// Count returns the number of rows in table.
func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	quoted, err := s.ident(table)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoted).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}
