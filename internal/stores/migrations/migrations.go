// Package migrations embeds the SQLite schema for enrollment and role storage.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
