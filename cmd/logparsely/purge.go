package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	flag "github.com/spf13/pflag"

	"logparsely/internal/config"
	"logparsely/internal/lock"
)

// companions are the files SQLite and the writer lock keep next to a database.
var companions = []string{"", "-wal", "-shm", lock.Suffix}

func (a *app) cmdPurge(args []string) int {
	flagSet := flag.NewFlagSet("purge", flag.ContinueOnError)
	flagSet.SetOutput(a.stderr)
	dir := flagSet.String("dir", config.LogsDir, "directory holding generated databases")
	dryRun := flagSet.BoolP("dry-run", "n", false, "list what would be removed")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(a.stderr, "error:", err)
		return 2
	}
	if flagSet.NArg() > 0 {
		fmt.Fprintln(a.stderr, "error: purge takes no arguments")
		return 2
	}

	res, err := purge(*dir, *dryRun)
	for _, p := range res.removed {
		fmt.Fprintln(a.stdout, p)
	}
	for _, p := range res.busy {
		fmt.Fprintf(a.stderr, "skipped %s: in use by a running writer\n", p)
	}
	if err != nil {
		fmt.Fprintln(a.stderr, "error:", err)
		return 1
	}
	if len(res.removed) == 0 && !*dryRun {
		fmt.Fprintf(a.stdout, "nothing to purge in %s\n", *dir)
	}
	return 0
}

type purgeResult struct {
	removed []string
	busy    []string
}

// purge removes every generated database in dir with its companions.
// Databases a running writer holds are skipped. Only the names NewDBPath
// produces are touched.
func purge(dir string, dryRun bool) (purgeResult, error) {
	var res purgeResult
	dbs, err := filepath.Glob(filepath.Join(dir, "*"+config.DBSuffix))
	if err != nil {
		return res, err
	}
	var errs []error
	for _, db := range dbs {
		var existing []string
		for _, suffix := range companions {
			if _, err := os.Stat(db + suffix); err == nil {
				existing = append(existing, db+suffix)
			}
		}
		l, err := lock.Acquire(db)
		if errors.Is(err, lock.ErrLocked) {
			res.busy = append(res.busy, db)
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if dryRun {
			_ = l.Release()
			if !slices.Contains(existing, l.Path()) {
				_ = os.Remove(l.Path())
			}
			res.removed = append(res.removed, existing...)
			continue
		}
		// Holding the lock while removing keeps a new writer from opening
		// the database mid-purge.
		for _, suffix := range companions {
			switch err := os.Remove(db + suffix); {
			case err == nil:
				res.removed = append(res.removed, db+suffix)
			case !errors.Is(err, fs.ErrNotExist):
				errs = append(errs, err)
			}
		}
		_ = l.Release()
	}
	return res, errors.Join(errs...)
}
