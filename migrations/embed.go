// Package migrations embeds the SQL schema.
package migrations

import "embed"

// FS holds the ordered up/down migrations.
//
//go:embed *.sql
var FS embed.FS
