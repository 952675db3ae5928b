// Package migrations embeds the SQL migrations of the support backend.
package migrations

import "embed"

// Files holds every .sql file here; they apply in filename order.
//go:embed *.sql
var Files embed.FS
