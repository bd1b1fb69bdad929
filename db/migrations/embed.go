// Package dbmigrations exposes embedded SQL migrations for CryptoX binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into CryptoX binaries.
//
//go:embed *.sql
var Files embed.FS
