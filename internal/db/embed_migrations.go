package db

import "embed"

// MigrationFS embeds the SQL migrations applied by cmd/migrate and at collector start-up.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
