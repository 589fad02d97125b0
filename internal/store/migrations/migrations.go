// Package migrations embeds the versioned SQL schema of the message store.
package migrations

import "embed"

// FS holds the golang-migrate source files (<version>_<name>.{up,down}.sql).
//
//go:embed *.sql
var FS embed.FS
