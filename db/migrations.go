// Package db embeds the SQL migrations.
package db

import "embed"

// Migrations holds the postgres migrations under MigrationsDir.
//
//go:embed pg/*.sql
var Migrations embed.FS

const MigrationsDir = "pg"
