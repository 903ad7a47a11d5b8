// Package migrations ships the SQL schema inside the binaries.
package migrations

import "embed"

//go:embed *.up.sql
var FS embed.FS
