// Package dbmigrations exposes embedded SQL migrations for polytrade binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into polytrade binaries.
//
//go:embed *.sql
var Files embed.FS
