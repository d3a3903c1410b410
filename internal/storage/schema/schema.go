// Package schema embeds the SQL migrations for each supported database.
package schema

import "embed"

//go:embed *.sql
var FS embed.FS

const (
	SQLite   = "sqlite.sql"
	Postgres = "postgres.sql"
)
