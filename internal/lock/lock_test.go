//go:build unix

package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireExclusive(t *testing.T) {
	t.Parallel()

	db := filepath.Join(t.TempDir(), "x-logparsely.db")
	l, err := Acquire(db)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if l.Path() != db+Suffix {
		t.Fatalf("Path = %q", l.Path())
	}

	if _, err := Acquire(db); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Acquire err = %v, want ErrLocked", err)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}

	again, err := Acquire(db)
	if err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
	defer again.Release()

	if _, err := os.Stat(db + Suffix); err != nil {
		t.Fatalf("lock file: %v", err)
	}
}

func TestAcquireMissingDir(t *testing.T) {
	t.Parallel()

	_, err := Acquire(filepath.Join(t.TempDir(), "nope", "x.db"))
	if err == nil || errors.Is(err, ErrLocked) {
		t.Fatalf("err = %v, want open error", err)
	}
}
