// Package all wires all built-in storage backends into the storage factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) runs the init functions of each backend, which register their
// openers and schema bootstrappers with the storage package:
//
//   - "postgres" (eavstore/internal/storage/postgres)
//   - "sqlite"   (eavstore/internal/storage/sqlite)
//
// Typical usage (in cmd/eavstore/main.go):
//
//	import _ "eavstore/internal/storage/all"
//
//	st, err := storage.New(ctx, storage.Config{Kind: cfg.Storage.Kind, DSN: cfg.Storage.DSN})
//	if err != nil { ... }
//	defer st.Close()
//	if cfg.Storage.AutoCreateSchema {
//	    err = storage.EnsureSchema(ctx, cfg.Storage.Kind, st)
//	}
package all

import (
	_ "eavstore/internal/storage/postgres"
	_ "eavstore/internal/storage/sqlite"
)
