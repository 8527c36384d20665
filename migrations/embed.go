// Package migrations embeds the SQL schema so the server binary can migrate
// without a checkout of the repository.
package migrations

import "embed"

// Postgres holds the numbered postgres migrations (NNN_name.sql).
//
//go:embed *.sql
var Postgres embed.FS

// SQLite holds the schema applied when the embedded store is opened.
//
//go:embed sqlite/*.sql
var SQLite embed.FS
