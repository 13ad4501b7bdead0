package migrations

import "embed"

// Files exposes the SQL migration files for operator tooling. The daemon
// itself creates its schema on startup; these exist for deployments that
// manage the database out of band.
//
//go:embed *.sql
var Files embed.FS
