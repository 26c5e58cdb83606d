// Package db embeds the database schema applied at bootstrap.
package db

import _ "embed"

// Schema holds the DDL for every table the checkout engine persists to.
//
//go:embed migrations/001_schema.sql
var Schema string
