// Package migrations embeds the goose SQL migration files applied to the
// sync core's SQLite database at startup.
package migrations

import "embed"

// FS holds the embedded migration files, read by goose.SetBaseFS.
//
//go:embed *.sql
var FS embed.FS
