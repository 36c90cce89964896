// Package migrations embeds the SQL schema for the server-side consent store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
