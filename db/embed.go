// Package db carries the embedded SQL schema applied on startup.
package db

import _ "embed"

// Schema is the full DDL for the storefront tables. RunMigrations executes it
// verbatim; every statement must be idempotent (CREATE TABLE IF NOT EXISTS).
//
//go:embed migrations/001_schema.sql
var Schema string
