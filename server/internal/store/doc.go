// Package store persists users, coffee machines and coffee purchases in a
// relational database through GORM. SQLite (pure Go) and MySQL are supported.
//
// The store is the only source of doses for level computations: Doses
// returns a user's purchases as []types.Dose, optionally bounded to a
// history window. A background loop (Run) purges purchases older than the
// configured retention.
package store
