package storage

import (
	"context"
	"fmt"
	"sync"
)

// SchemaBootstrapper creates the countries, variables and facts tables for a
// backend when they are missing. It must be idempotent.
type SchemaBootstrapper func(ctx context.Context, store Store) error

var (
	schemaMu  sync.RWMutex
	schemaFns = map[string]SchemaBootstrapper{}
)

// RegisterSchema registers (or replaces) the bootstrapper for kind. It is
// typically called from backend packages' init() functions.
func RegisterSchema(kind string, fn SchemaBootstrapper) {
	schemaMu.Lock()
	defer schemaMu.Unlock()
	schemaFns[kind] = fn
}

// EnsureSchema runs the bootstrapper registered for kind against store.
func EnsureSchema(ctx context.Context, kind string, store Store) error {
	schemaMu.RLock()
	fn, ok := schemaFns[kind]
	schemaMu.RUnlock()
	if !ok {
		return fmt.Errorf("no schema bootstrapper registered for storage.kind=%q", kind)
	}
	return fn(ctx, store)
}

// ExecAll runs each statement in order and stops at the first failure.
func ExecAll(ctx context.Context, store Store, stmts []string) error {
	for i, s := range stmts {
		if err := store.Exec(ctx, s); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
