// Package db embeds the schema and the local development catalog.
package db

import _ "embed"

// Schema creates every checkout table. It is idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string

// Catalog is the JSON fixture loaded by cmd/seed-db when no file is given.
//
//go:embed seed/catalog.json
var Catalog []byte
