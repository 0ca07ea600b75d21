// Package migrations embeds the ledger schema migrations into the binary.
//
// Files follow the database package naming: NNNN_description.up.sql with
// an optional matching .down.sql.
package migrations

import "embed"

// FS holds every migration file at its root.
//
//go:embed *.sql
var FS embed.FS
