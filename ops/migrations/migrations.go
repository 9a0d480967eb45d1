// Package migrations embeds the PostgreSQL schema migrations and seeds.
package migrations

import "embed"

//go:generate go run ./gen

// FS holds sql/*.up.sql, sql/*.down.sql and the generated seeds/*.sql.
//
//go:embed sql/*.sql seeds/*.sql
var FS embed.FS

const (
	SQLDir   = "sql"
	SeedsDir = "seeds"
)
