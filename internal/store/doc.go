// Package store persists stats samples in SQLite (modernc.org/sqlite, no
// cgo). SQLiteStore implements stats.Sink.
package store
