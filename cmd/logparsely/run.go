package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"logparsely/internal/config"
	"logparsely/internal/datasource"
	"logparsely/internal/datasource/stdio"
	"logparsely/internal/etl"
	"logparsely/internal/lock"
	"logparsely/internal/logging"
	"logparsely/internal/metrics"
	"logparsely/internal/metrics/datadog"
	"logparsely/internal/metrics/prompush"
	"logparsely/internal/storage"

	// register all backends with the storage factory.
	_ "logparsely/internal/storage/all"
)

// ingest runs one ingestion of cfg.Source into cfg.Storage. cfg must be
// normalized and valid.
func (a *app) ingest(ctx context.Context, cfg config.Config) error {
	lg, _, err := logging.New(a.stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	runID := uuid.NewString()
	lg = lg.With("run", runID[:8])

	target := cfg.Storage.Kind + " table " + cfg.Storage.Table
	if cfg.Storage.Kind == "sqlite" {
		target = cfg.Storage.Path
		if dir := filepath.Dir(cfg.Storage.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return etl.Fatal("create database dir", err)
			}
		}
		l, err := lock.Acquire(cfg.Storage.Path)
		if err != nil {
			return etl.Fatal("lock "+cfg.Storage.Path, err)
		}
		defer l.Release()
	}
	fmt.Fprintf(a.stdout, "logparsely: writing to %s\n", target)

	closeMetrics := setupMetrics(cfg, runID, lg)
	defer closeMetrics()

	repo, err := storage.New(ctx, storage.Config{
		Kind:        cfg.Storage.Kind,
		Path:        cfg.Storage.Path,
		DSN:         cfg.Storage.DSN,
		Table:       cfg.Storage.Table,
		BusyTimeout: cfg.Storage.BusyTimeout(),
	})
	if err != nil {
		return etl.Fatal("open storage", err)
	}
	defer repo.Close()

	coord, err := etl.New(ctx, repo, etl.Config{
		Job:             cfg.Job,
		RunID:           runID,
		BatchSize:       cfg.Runtime.BatchSize,
		FlushInterval:   cfg.Runtime.FlushInterval(),
		ChannelBuffer:   cfg.Runtime.ChannelBuffer,
		MaxLineBytes:    cfg.Runtime.MaxLineBytes,
		MaxColumns:      cfg.Runtime.MaxColumns,
		RetryDelay:      cfg.Runtime.RetryDelay(),
		ShutdownTimeout: cfg.Runtime.ShutdownTimeout(),
		KeepUnparsable:  cfg.Runtime.KeepUnparsable,
		Logger:          lg,
	})
	if err != nil {
		return err
	}

	src, err := a.source(cfg.Source)
	if err != nil {
		return etl.Fatal("source", err)
	}
	rc, err := src.Open(ctx)
	if err != nil {
		return etl.Fatal("open "+src.String(), err)
	}
	lg.Info("logparsely: ingesting", "source", src.String(), "storage", cfg.Storage.Kind, "table", cfg.Storage.Table)

	g, gctx := errgroup.WithContext(ctx)
	pushCtx, stopPush := context.WithCancel(gctx)
	if cfg.Metrics.Backend != "" && cfg.Metrics.Backend != "none" {
		g.Go(func() error { return metrics.Pusher(pushCtx, cfg.Metrics.PushInterval(), lg) })
	}
	var sum etl.Summary
	g.Go(func() error {
		defer stopPush()
		var err error
		sum, err = coord.Run(gctx, rc)
		return err
	})
	runErr := g.Wait()

	if err := rc.Close(); err != nil {
		lg.Warn("logparsely: source closed with error", "source", src.String(), "err", err)
	}
	if cfg.SummaryPath != "" {
		if err := etl.WriteSummary(cfg.SummaryPath, sum); err != nil {
			lg.Error("logparsely: summary not written", "err", err)
		}
	}
	fmt.Fprintf(a.stdout, "logparsely: %d rows saved to %s\n", sum.Rows, target)
	return runErr
}

// source resolves the configured line source. stdin is the app's own.
func (a *app) source(c config.Source) (datasource.Source, error) {
	if c.Kind == "" || c.Kind == datasource.KindStdin {
		return stdio.NewFile(a.stdin), nil
	}
	return datasource.New(datasource.Config{Kind: c.Kind, Path: c.Path, Command: c.Command})
}

// setupMetrics installs the configured backend. A backend that fails to
// start is logged and skipped; metrics never stop ingestion.
func setupMetrics(cfg config.Config, runID string, lg *slog.Logger) (closeFn func()) {
	closeFn = func() {}
	m := cfg.Metrics
	switch m.Backend {
	case "prometheus":
		b, err := prompush.NewBackend(cfg.Job, m.PushgatewayURL, runID)
		if err != nil {
			lg.Warn("metrics: prometheus backend disabled", "err", err)
			return closeFn
		}
		metrics.SetBackend(b)
		lg.Debug("metrics: pushing", "url", m.PushgatewayURL, "job", cfg.Job)
	case "datadog":
		b, err := datadog.NewBackend(datadog.Config{
			Addr:       m.DatadogAddr,
			GlobalTags: []string{"job:" + cfg.Job},
		})
		if err != nil {
			lg.Warn("metrics: datadog backend disabled", "err", err)
			return closeFn
		}
		metrics.SetBackend(b)
		closeFn = func() {
			if err := b.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
				lg.Warn("metrics: datadog close", "err", err)
			}
		}
		lg.Debug("metrics: dogstatsd", "addr", m.DatadogAddr)
	}
	return closeFn
}
