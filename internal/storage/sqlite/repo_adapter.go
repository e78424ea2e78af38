// Package sqlite wires the SQLite backend into the storage factory. It exposes
// a storage.Store implementation without forcing callers to import this
// package directly; registration happens in init.
package sqlite

import (
	"context"
	"path/filepath"

	"eavstore/internal/storage"
)

// newRepository is a test hook that points to NewRepository by default.
var newRepository = NewRepository

// wrappedRepo adapts *sqlite.Repository to the storage.Store interface,
// adding a Close method that calls the cleanup function returned by
// NewRepository.
type wrappedRepo struct {
	*Repository
	closeFn func()
}

// Close implements storage.Store.Close.
func (w *wrappedRepo) Close() {
	if w.closeFn != nil {
		w.closeFn()
	}
}

var _ storage.Store = (*wrappedRepo)(nil)

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		r, closeFn, err := newRepository(ctx, Config{
			DSN:      cfg.DSN,
			MaxConns: cfg.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		return &wrappedRepo{Repository: r, closeFn: closeFn}, nil
	})

	storage.RegisterSchema("sqlite", func(ctx context.Context, st storage.Store) error {
		return storage.ExecAll(ctx, st, schemaStatements)
	})
}

// OpenTemp opens a schema-initialized store in a fresh file under dir. It is
// used by tests across packages and by throwaway local runs.
func OpenTemp(ctx context.Context, dir string) (storage.Store, error) {
	st, err := storage.New(ctx, storage.Config{
		Kind: "sqlite",
		DSN:  "file:" + filepath.Join(dir, "eav.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
	})
	if err != nil {
		return nil, err
	}
	if err := storage.EnsureSchema(ctx, "sqlite", st); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}
