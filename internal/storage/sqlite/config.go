// Package sqlite implements the embedded storage.Repository on
// modernc.org/sqlite.
package sqlite

import (
	"fmt"
	"net/url"
	"time"
)

// DefaultBusyTimeout is used when Config.BusyTimeout is zero.
const DefaultBusyTimeout = 5 * time.Second

// Config holds SQLite repository configuration derived from storage.Config.
type Config struct {
	// Path is the database file. WAL mode needs a real file, so in-memory
	// databases are not supported.
	Path string

	// Table is the target table name, e.g. "logs".
	Table string

	// BusyTimeout bounds how long a connection waits on a lock held by
	// another connection.
	BusyTimeout time.Duration
}

// DSN builds the writer connection string: WAL journal, NORMAL sync and
// BEGIN IMMEDIATE so the single writer takes its lock up front.
func DSN(path string, busy time.Duration) string {
	if busy <= 0 {
		busy = DefaultBusyTimeout
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Set("_txlock", "immediate")
	return "file:" + escapePath(path) + "?" + q.Encode()
}

// ReadOnlyDSN builds a connection string for a concurrent reader of a
// database written by DSN.
func ReadOnlyDSN(path string, busy time.Duration) string {
	if busy <= 0 {
		busy = DefaultBusyTimeout
	}
	q := url.Values{}
	q.Set("mode", "ro")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	return "file:" + escapePath(path) + "?" + q.Encode()
}

// escapePath percent-encodes characters that would end the path part of a
// SQLite URI filename.
func escapePath(p string) string {
	return (&url.URL{Path: p}).EscapedPath()
}
