// Package migrations embeds the SQL schema applied at service startup.
package migrations

import "embed"

// FS holds the *.sql migration files
//
//go:embed *.sql
var FS embed.FS
