// Package migrations embeds the SQL files for the postgres backend.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
