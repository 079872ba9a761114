// Package all wires the built-in storage backends into the storage factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) runs the init functions of each backend, which register their
// factories with the storage package. It makes these kinds available:
//
//   - "sqlite"   (logparsely/internal/storage/sqlite), the default
//   - "postgres" (logparsely/internal/storage/postgres)
//
// Typical usage, in cmd/logparsely:
//
//	import _ "logparsely/internal/storage/all"
//
//	repo, err := storage.New(ctx, storage.Config{
//	    Kind:  cfg.Storage.Kind,
//	    Path:  cfg.Storage.Path,
//	    DSN:   cfg.Storage.DSN,
//	    Table: cfg.Storage.Table,
//	})
//
// A binary that needs only a subset of backends can import those packages
// directly instead.
package all

import (
	_ "logparsely/internal/storage/postgres"
	_ "logparsely/internal/storage/sqlite"
)
