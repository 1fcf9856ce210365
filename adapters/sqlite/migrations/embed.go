// Package migrations contains embedded SQL migrations for the SQLite event log.
package migrations

import "embed"

// FS contains the embedded migrations, applied in file name order.
//
//go:embed *.sql
var FS embed.FS
