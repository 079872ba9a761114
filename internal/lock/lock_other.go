//go:build !unix

package lock

import "os"

// Without flock the lock file only marks the database as in use.
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) {}
