// Package storage contains the storage-agnostic contracts for the EAV store:
// the Store interface implemented by each backend, the Fact tuple, and a small
// factory so callers can open a backend by kind without importing it.
//
// Backends register themselves at init time (see internal/storage/all):
//
//	store, err := storage.New(ctx, storage.Config{Kind: "postgres", DSN: dsn})
//	if err != nil { ... }
//	defer store.Close()
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Fact is one observation: the value of a variable for a country in a year.
// (CountryID, Year, VariableID) is the natural key.
type Fact struct {
	CountryID  int64
	Year       int
	VariableID int64
	Value      string
}

// PivotRow is one aggregated (year, country) group as returned by the store.
// Object is the JSON text of the variable name -> value object.
type PivotRow struct {
	Year    int64
	Country string
	Object  []byte
}

// Tx is a single transactional write scope bound to one dedicated connection.
// Exactly one of Commit or Rollback must be called; both release the connection.
type Tx interface {
	// UpsertFacts writes every fact with one upsert statement per fact,
	// overwriting value on a (country_id, year, variable_id) conflict.
	UpsertFacts(ctx context.Context, facts []Fact) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is implemented by each backend.
type Store interface {
	// InsertVariable creates the variable if absent. Safe under concurrent callers.
	InsertVariable(ctx context.Context, name string) error

	// LookupVariables returns the ids of the named variables in a single read.
	// Names with no row are absent from the result.
	LookupVariables(ctx context.Context, names []string) (map[string]int64, error)

	// UpsertCountry atomically inserts the country if absent and returns its id.
	UpsertCountry(ctx context.Context, name string) (int64, error)

	// Begin starts a write transaction on a dedicated connection.
	Begin(ctx context.Context) (Tx, error)

	// QueryPivot runs a pivot query built with this store's Dialect.
	QueryPivot(ctx context.Context, query string, args []any) ([]PivotRow, error)

	// Dialect describes the SQL flavor QueryPivot expects.
	Dialect() Dialect

	// Exec runs a statement with no result rows (typically DDL).
	Exec(ctx context.Context, sql string) error

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	Close()
}

// Config is the backend-agnostic configuration passed to an Opener.
type Config struct {
	Kind string
	DSN  string

	// MaxConns bounds the connection pool; 0 keeps the backend default.
	MaxConns int
}

// Opener constructs a Store for a backend.
type Opener func(ctx context.Context, cfg Config) (Store, error)

var (
	mu      sync.RWMutex
	openers = map[string]Opener{}
)

// Register installs (or replaces) the Opener for kind.
func Register(kind string, fn Opener) {
	mu.Lock()
	defer mu.Unlock()
	openers[kind] = fn
}

// New opens a Store for cfg.Kind.
func New(ctx context.Context, cfg Config) (Store, error) {
	mu.RLock()
	fn, ok := openers[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return fn(ctx, cfg)
}

// ListKinds returns the registered backend kinds, sorted.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(openers))
	for k := range openers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
