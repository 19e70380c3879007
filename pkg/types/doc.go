// Package types defines shared Go types used by the server, the store and
// the levelcalc CLI. Dose is the canonical in-memory representation of one
// caffeine intake, separate from the database rows it is read from.
package types
