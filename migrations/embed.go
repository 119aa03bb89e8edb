package migrations

import "embed"

// FS holds the schema migrations applied by cmd/migrate and the API server
// when MIGRATE_ON_START is set.
//
//go:embed *.sql
var FS embed.FS
