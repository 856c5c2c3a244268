// Package dbmigrations exposes embedded SQL migrations for adslot binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into adslot binaries.
//
//go:embed *.sql
var Files embed.FS
