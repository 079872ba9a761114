// Command logparsely ingests newline-delimited JSON into a wide SQLite (or
// Postgres) table, adding a column for every new field path as it appears.
//
//	kubectl logs -f deploy/api | logparsely
//	logparsely --cmd 'kubectl logs -f deploy/api' --db api.db
//	logparsely -c logparsely.jsonc app.ndjson
//	logparsely purge
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"logparsely/internal/config"
)

// app carries the process streams so tests can run the CLI in-process.
type app struct {
	stdin  *os.File
	stdout io.Writer
	stderr io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a := &app{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	code := a.run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func (a *app) run(ctx context.Context, args []string) int {
	if len(args) > 0 && args[0] == "purge" {
		return a.cmdPurge(args[1:])
	}
	return a.cmdIngest(ctx, args)
}

// ingestFlags holds the flag values that override the config file.
type ingestFlags struct {
	fs *flag.FlagSet

	configPath string
	validate   bool

	cmd, file   string
	db, dsn     string
	storageKind string
	table       string

	batchSize      int
	flushInterval  int
	maxColumns     int
	keepUnparsable bool

	summary        string
	metricsBackend string
	logLevel       string
	logFormat      string
}

func newIngestFlags(out io.Writer) *ingestFlags {
	f := &ingestFlags{fs: flag.NewFlagSet("logparsely", flag.ContinueOnError)}
	fs := f.fs
	fs.SetOutput(out)
	fs.Usage = func() {
		fmt.Fprintf(out, "usage: logparsely [flags] [file]\n       logparsely purge [--dir logs] [--dry-run]\n\n")
		fs.PrintDefaults()
	}

	fs.StringVarP(&f.configPath, "config", "c", "", "config file (JSON, comments allowed)")
	fs.BoolVar(&f.validate, "validate", false, "validate the configuration and exit")

	fs.StringVar(&f.cmd, "cmd", "", "ingest the stdout of a shell command")
	fs.StringVarP(&f.file, "file", "f", "", "ingest an NDJSON file instead of stdin")
	fs.StringVar(&f.db, "db", "", "SQLite database path (default logs/<uuid>-logparsely.db)")
	fs.StringVar(&f.storageKind, "storage", "", "storage kind: sqlite or postgres")
	fs.StringVar(&f.dsn, "dsn", "", "Postgres connection string")
	fs.StringVar(&f.table, "table", "", "target table")

	fs.IntVar(&f.batchSize, "batch-size", 0, "rows per write transaction")
	fs.IntVar(&f.flushInterval, "flush-interval-ms", 0, "commit a partial batch after this many milliseconds")
	fs.IntVar(&f.maxColumns, "max-columns", 0, "cap on dynamic columns; later paths go to the overflow column")
	fs.BoolVar(&f.keepUnparsable, "keep-unparsable", false, "store lines that are not JSON in the raw column")

	fs.StringVar(&f.summary, "summary", "", "write the run summary as JSON to this path")
	fs.StringVar(&f.metricsBackend, "metrics", "", "metrics backend: none, prometheus or datadog")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&f.logFormat, "log-format", "", "text or json")
	return f
}

// config layers defaults, the config file, the environment and the flags
// that were set explicitly.
func (f *ingestFlags) config() (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return config.Config{}, err
		}
	}
	config.ApplyEnv(&cfg)

	if f.cmd != "" && f.file != "" {
		return config.Config{}, errors.New("--cmd and --file are mutually exclusive")
	}
	switch args := f.fs.Args(); {
	case len(args) > 1:
		return config.Config{}, fmt.Errorf("at most one input file, got %d", len(args))
	case len(args) == 1:
		if f.cmd != "" || f.file != "" {
			return config.Config{}, errors.New("input file given twice")
		}
		f.file = args[0]
	}
	if f.cmd != "" {
		cfg.Source = config.Source{Kind: "command", Command: f.cmd}
	}
	if f.file != "" {
		cfg.Source = config.Source{Kind: "file", Path: f.file}
	}

	set := f.fs.Changed
	if set("storage") {
		cfg.Storage.Kind = f.storageKind
	}
	if set("db") {
		cfg.Storage.Path = f.db
	}
	if set("dsn") {
		cfg.Storage.DSN = f.dsn
	}
	if set("table") {
		cfg.Storage.Table = f.table
	}
	if set("batch-size") {
		cfg.Runtime.BatchSize = f.batchSize
	}
	if set("flush-interval-ms") {
		cfg.Runtime.FlushIntervalMS = f.flushInterval
	}
	if set("max-columns") {
		cfg.Runtime.MaxColumns = f.maxColumns
	}
	if set("keep-unparsable") {
		cfg.Runtime.KeepUnparsable = f.keepUnparsable
	}
	if set("summary") {
		cfg.SummaryPath = f.summary
	}
	if set("metrics") {
		cfg.Metrics.Backend = f.metricsBackend
	}
	if set("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if set("log-format") {
		cfg.Log.Format = f.logFormat
	}
	return cfg, nil
}

func (a *app) cmdIngest(ctx context.Context, args []string) int {
	f := newIngestFlags(a.stderr)
	if err := f.fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(a.stderr, "error:", err)
		return 2
	}

	cfg, err := f.config()
	if err != nil {
		fmt.Fprintln(a.stderr, "error:", err)
		return 1
	}
	if f.validate {
		// Keep storage.path as given; Normalize would invent one.
		issues := config.Validate(cfg)
		bad := false
		for _, iss := range issues {
			fmt.Fprintf(a.stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
			bad = bad || iss.Severity == config.SeverityError
		}
		if bad {
			fmt.Fprintln(a.stderr, "configuration is invalid")
			return 1
		}
		fmt.Fprintln(a.stdout, "configuration is valid")
		return 0
	}

	cfg.Normalize()
	warnings, err := config.Check(cfg)
	for _, w := range warnings {
		fmt.Fprintf(a.stderr, "%s: %s: %s\n", w.Severity, w.Path, w.Message)
	}
	if err != nil {
		fmt.Fprintln(a.stderr, "error:", err)
		return 1
	}

	if err := a.ingest(ctx, cfg); err != nil {
		fmt.Fprintln(a.stderr, "error:", err)
		return 1
	}
	return 0
}
