package store

import "embed"

// EmbedMigrations holds the SQL migration files compiled into the
// binary, so a fresh database can be initialized anywhere.
//
//go:embed migrations/*.sql
var EmbedMigrations embed.FS
