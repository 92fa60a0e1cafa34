package store

import _ "embed"

// The schema is embedded at build time so a single stakeout binary
// can bootstrap a fresh database without a separate migration bundle.
//
//go:embed schema.sql
var embeddedSchema string

// Schema returns the SQL statements that create the stakeout tables
// on an empty database.
func Schema() string {
	return embeddedSchema
}
