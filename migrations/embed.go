// Package migrations embeds the journal schema into the binary.
//
// The files follow the YYYYMMDD_HHMMSS_description.{up,down}.sql naming
// understood by database.Migrate.
package migrations

import "embed"

// FS holds every .sql file in this directory at its root.
//
//go:embed *.sql
var FS embed.FS
