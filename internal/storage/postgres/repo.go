// Package postgres implements the EAV storage.Store on Postgres using pgx v5.
// Reads go through the shared pool; every write transaction runs on one
// connection acquired for its lifetime and released on commit or rollback.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"eavstore/internal/storage"
)

const (
	insertVariableSQL = `INSERT INTO variables (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`
	lookupVariableSQL = `SELECT id, name FROM variables WHERE name = ANY($1)`

	// The no-op DO UPDATE makes RETURNING yield the existing id on conflict,
	// so lookup-or-create is a single atomic statement.
	upsertCountrySQL = `INSERT INTO countries (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`

	upsertFactSQL = `INSERT INTO facts (country_id, year, variable_id, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (country_id, year, variable_id) DO UPDATE SET value = EXCLUDED.value`
)

// Config holds Postgres repository configuration.
type Config struct {
	DSN      string // connection string for pgxpool
	MaxConns int    // pool size; 0 keeps the pgxpool default
}

// Repository is a Postgres-backed implementation of storage.Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	close := func() { pool.Close() }
	return &Repository{pool: pool}, close, nil
}

// InsertVariable implements storage.Store.
func (r *Repository) InsertVariable(ctx context.Context, name string) error {
	if _, err := r.pool.Exec(ctx, insertVariableSQL, name); err != nil {
		return fmt.Errorf("insert variable %q: %w", name, pgDetail(err))
	}
	return nil
}

// LookupVariables implements storage.Store.
func (r *Repository) LookupVariables(ctx context.Context, names []string) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, lookupVariableSQL, names)
	if err != nil {
		return nil, fmt.Errorf("lookup variables: %w", pgDetail(err))
	}
	defer rows.Close()

	out := make(map[string]int64, len(names))
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan variable: %w", err)
		}
		out[name] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lookup variables: %w", pgDetail(err))
	}
	return out, nil
}

// UpsertCountry implements storage.Store.
func (r *Repository) UpsertCountry(ctx context.Context, name string) (int64, error) {
	var id int64
	if err := r.pool.QueryRow(ctx, upsertCountrySQL, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert country %q: %w", name, pgDetail(err))
	}
	return id, nil
}

// Begin implements storage.Store. The acquired connection is held until the
// returned Tx commits or rolls back.
func (r *Repository) Begin(ctx context.Context) (storage.Tx, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire conn: %w", err)
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("begin: %w", pgDetail(err))
	}
	return &pgTx{conn: conn, tx: tx}, nil
}

// QueryPivot implements storage.Store.
func (r *Repository) QueryPivot(ctx context.Context, query string, args []any) ([]storage.PivotRow, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pivot query: %w", pgDetail(err))
	}
	defer rows.Close()

	var out []storage.PivotRow
	for rows.Next() {
		var (
			pr  storage.PivotRow
			obj string
		)
		if err := rows.Scan(&pr.Year, &pr.Country, &obj); err != nil {
			return nil, fmt.Errorf("scan pivot row: %w", err)
		}
		pr.Object = []byte(obj)
		out = append(out, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pivot query: %w", pgDetail(err))
	}
	return out, nil
}

// Dialect implements storage.Store.
func (r *Repository) Dialect() storage.Dialect { return Dialect{} }

// Exec implements storage.Store.
func (r *Repository) Exec(ctx context.Context, sql string) error {
	_, err := r.pool.Exec(ctx, sql)
	return pgDetail(err)
}

// Ping implements storage.Store.
func (r *Repository) Ping(ctx context.Context) error { return r.pool.Ping(ctx) }

// pgTx is a transaction pinned to one pooled connection.
type pgTx struct {
	conn     *pgxpool.Conn
	tx       pgx.Tx
	released bool
}

// UpsertFacts queues one upsert per fact and sends them as a single pgx batch
// inside the transaction. The first failing statement aborts the batch.
func (t *pgTx) UpsertFacts(ctx context.Context, facts []storage.Fact) error {
	if len(facts) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, f := range facts {
		b.Queue(upsertFactSQL, f.CountryID, f.Year, f.VariableID, f.Value)
	}
	br := t.tx.SendBatch(ctx, b)
	for i := range facts {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("upsert fact %d/%d: %w", i+1, len(facts), pgDetail(err))
		}
	}
	return br.Close()
}

func (t *pgTx) Commit(ctx context.Context) error {
	defer t.release()
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", pgDetail(err))
	}
	return nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	defer t.release()
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func (t *pgTx) release() {
	if t.released {
		return
	}
	t.released = true
	t.conn.Release()
}

// pgDetail folds the server-side detail of a *pgconn.PgError into the message
// while keeping the original error in the chain.
func pgDetail(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("%w (%s; sqlstate %s)", err, pgErr.Detail, pgErr.SQLState())
	}
	return err
}
