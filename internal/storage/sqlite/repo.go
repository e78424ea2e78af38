// Package sqlite implements the EAV storage.Store on SQLite using
// database/sql and the pure-Go modernc.org/sqlite driver. It serves local
// runs and the test suite; fact batches are written inside one transaction
// with a prepared upsert statement.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"eavstore/internal/storage"
)

const (
	insertVariableSQL = `INSERT INTO variables (name) VALUES (?) ON CONFLICT (name) DO NOTHING`

	upsertCountrySQL = `INSERT INTO countries (name) VALUES (?)
		ON CONFLICT (name) DO UPDATE SET name = excluded.name
		RETURNING id`

	upsertFactSQL = `INSERT INTO facts (country_id, year, variable_id, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (country_id, year, variable_id) DO UPDATE SET value = excluded.value`
)

// Repository is a SQLite-backed implementation of storage.Store.
type Repository struct {
	db *sql.DB
}

// NewRepository opens a SQLite database using the provided DSN and returns
// a Repository plus a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil, fmt.Errorf("sqlite: DSN must not be empty")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: open: %w", err)
	}
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)

	// Apply a basic ping with context to fail fast on invalid DSNs.
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	_, _ = db.ExecContext(ctx, "PRAGMA foreign_keys = ON;")

	closeFn := func() { db.Close() }
	return &Repository{db: db}, closeFn, nil
}

// InsertVariable implements storage.Store.
func (r *Repository) InsertVariable(ctx context.Context, name string) error {
	if _, err := r.db.ExecContext(ctx, insertVariableSQL, name); err != nil {
		return fmt.Errorf("sqlite: insert variable %q: %w", name, err)
	}
	return nil
}

// LookupVariables implements storage.Store.
func (r *Repository) LookupVariables(ctx context.Context, names []string) (map[string]int64, error) {
	out := make(map[string]int64, len(names))
	if len(names) == 0 {
		return out, nil
	}
	marks := make([]string, len(names))
	args := make([]any, len(names))
	for i, n := range names {
		marks[i] = "?"
		args[i] = n
	}
	q := "SELECT id, name FROM variables WHERE name IN (" + strings.Join(marks, ", ") + ")"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: lookup variables: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("sqlite: scan variable: %w", err)
		}
		out[name] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: lookup variables: %w", err)
	}
	return out, nil
}

// UpsertCountry implements storage.Store.
func (r *Repository) UpsertCountry(ctx context.Context, name string) (int64, error) {
	var id int64
	if err := r.db.QueryRowContext(ctx, upsertCountrySQL, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("sqlite: upsert country %q: %w", name, err)
	}
	return id, nil
}

// Begin implements storage.Store. database/sql pins the transaction to one
// connection and returns it to the pool on Commit or Rollback.
func (r *Repository) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	return &sqliteTx{tx: tx}, nil
}

// QueryPivot implements storage.Store.
func (r *Repository) QueryPivot(ctx context.Context, query string, args []any) ([]storage.PivotRow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: pivot query: %w", err)
	}
	defer rows.Close()

	var out []storage.PivotRow
	for rows.Next() {
		var (
			pr  storage.PivotRow
			obj string
		)
		if err := rows.Scan(&pr.Year, &pr.Country, &obj); err != nil {
			return nil, fmt.Errorf("sqlite: scan pivot row: %w", err)
		}
		pr.Object = []byte(obj)
		out = append(out, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: pivot query: %w", err)
	}
	return out, nil
}

// Dialect implements storage.Store.
func (r *Repository) Dialect() storage.Dialect { return Dialect{} }

// Exec executes an arbitrary SQL statement (typically DDL) using the underlying
// database/sql connection.
func (r *Repository) Exec(ctx context.Context, sql string) error {
	if strings.TrimSpace(sql) == "" {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, sql); err != nil {
		return fmt.Errorf("sqlite: exec: %w", err)
	}
	return nil
}

// Ping implements storage.Store.
func (r *Repository) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) UpsertFacts(ctx context.Context, facts []storage.Fact) error {
	if len(facts) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, upsertFactSQL)
	if err != nil {
		return fmt.Errorf("sqlite: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for i, f := range facts {
		if _, err := stmt.ExecContext(ctx, f.CountryID, f.Year, f.VariableID, f.Value); err != nil {
			return fmt.Errorf("sqlite: upsert fact %d/%d: %w", i+1, len(facts), err)
		}
	}
	return nil
}

func (t *sqliteTx) Commit(context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (t *sqliteTx) Rollback(context.Context) error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("sqlite: rollback: %w", err)
	}
	return nil
}
