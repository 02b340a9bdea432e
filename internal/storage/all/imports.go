// Package all wires every built-in storage engine into the storage factory.
//
// Importing it for side effects runs the init functions that register:
//
//   - "mssql"    (mssql2pg/internal/storage/mssql), source and seeder
//   - "postgres" (mssql2pg/internal/storage/postgres), target
//   - "memory"   (mssql2pg/internal/storage/memstore), dry-run target
//
// Typical usage, in cmd/mssql2pg:
//
//	import _ "mssql2pg/internal/storage/all"
//
//	src, err := storage.OpenSource(ctx, storage.Config{Engine: "mssql", DSN: dsn})
package all

import (
	_ "mssql2pg/internal/storage/memstore"
	_ "mssql2pg/internal/storage/mssql"
	_ "mssql2pg/internal/storage/postgres"
)
