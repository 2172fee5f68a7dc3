// Package storage persists users, journal entries, reminders, summaries and
// todos in SQLite (modernc.org/sqlite, no cgo).
//
// Timestamps are stored as text in the form timeutil.Stamp renders them, so
// rows written without an offset stay readable as naive wall clocks.
package storage
