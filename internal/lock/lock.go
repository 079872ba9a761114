// Package lock keeps a second writer off a database file. SQLite would
// serialise two writers anyway, but each would evolve the schema from its own
// stale column set.
package lock

import (
	"errors"
	"os"
)

// ErrLocked is returned by Acquire when another process holds the lock.
var ErrLocked = errors.New("database is locked by another writer")

// Suffix is appended to the database path to name the lock file.
const Suffix = ".lock"

// Lock is an exclusive advisory lock held until Release.
type Lock struct {
	f    *os.File
	path string
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Acquire takes the lock for dbPath without blocking. The lock file persists
// after Release.
func Acquire(dbPath string) (*Lock, error) {
	path := dbPath + Suffix
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Lock{f: f, path: path}, nil
}

// Release drops the lock. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	unlockFile(l.f)
	err := l.f.Close()
	l.f = nil
	return err
}
