// Package ingest batches flattened records into store transactions.
//
// One flush is one transaction: the columns first seen in the batch are added
// and the batch's rows inserted, then both commit together. A failed batch is
// retried once; after that its rows are retried one per transaction and rows
// that still fail are reported and dropped.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"logparsely/internal/ddl"
	"logparsely/internal/flatten"
	"logparsely/internal/schema"
	"logparsely/internal/storage"
)

const (
	DefaultBatchSize  = 500
	DefaultRetryDelay = 100 * time.Millisecond
)

// Row is one record waiting to be written.
type Row struct {
	Line   int64     // source line number
	At     time.Time // arrival time
	Fields []flatten.Field

	// Raw holds an unparsable line kept verbatim; Fields is empty then.
	Raw string
}

// Options tune a Writer.
type Options struct {
	BatchSize  int
	RetryDelay time.Duration
	Logger     *slog.Logger

	// OnDrop is called for every row that could not be written even on its
	// own.
	OnDrop func(line int64, err error)
	// OnFlush is called after every committed transaction with the number
	// of rows it held and how long the flush took.
	OnFlush func(rows int, d time.Duration)
}

// Stats are the Writer's running totals.
type Stats struct {
	Rows       int64 // rows committed
	Batches    int64 // committed transactions
	Retries    int64 // batches attempted a second time
	Isolated   int64 // batches split into single-row transactions
	Dropped    int64 // rows given up on
	Texted     int64 // values stored as text in their own column
	Overflowed int64 // values stored in the overflow column
}

type counters struct {
	rows, batches, retries, isolated, dropped, texted, overflowed atomic.Int64
}

// Writer buffers rows and writes them in batches. A Writer is used by one
// goroutine; Stats may be read from any goroutine.
type Writer struct {
	repo storage.Repository
	reg  *schema.Registry
	opt  Options
	log  *slog.Logger

	buf   []Row
	stats counters

	sleep func(ctx context.Context, d time.Duration) error
}

// NewWriter returns a Writer that adds columns through reg and writes rows to
// repo. reg must already be rehydrated from repo.
func NewWriter(repo storage.Repository, reg *schema.Registry, opt Options) *Writer {
	if opt.BatchSize <= 0 {
		opt.BatchSize = DefaultBatchSize
	}
	if opt.RetryDelay < 0 {
		opt.RetryDelay = 0
	}
	lg := opt.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Writer{
		repo:  repo,
		reg:   reg,
		opt:   opt,
		log:   lg,
		buf:   make([]Row, 0, opt.BatchSize),
		sleep: sleepCtx,
	}
}

// Write buffers r and flushes when the batch is full.
func (w *Writer) Write(ctx context.Context, r Row) error {
	w.buf = append(w.buf, r)
	if len(w.buf) >= w.opt.BatchSize {
		return w.Flush(ctx)
	}
	return nil
}

// Pending returns the number of buffered rows.
func (w *Writer) Pending() int { return len(w.buf) }

// Flush writes the buffered rows. It returns an error only when ctx ends
// before the rows are settled; rows not yet committed or dropped stay buffered
// for another Flush.
func (w *Writer) Flush(ctx context.Context) error {
	if len(w.buf) == 0 {
		return nil
	}
	start := time.Now()
	rows := w.buf

	err := w.commit(ctx, rows)
	if err == nil {
		w.done(len(rows), start)
		w.buf = w.buf[:0]
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	w.log.Warn("ingest: batch failed, retrying",
		"rows", len(rows), "first_line", rows[0].Line, "last_line", rows[len(rows)-1].Line, "err", err)

	w.stats.retries.Add(1)
	if err := w.sleep(ctx, w.opt.RetryDelay); err != nil {
		return err
	}
	if err = w.commit(ctx, rows); err == nil {
		w.done(len(rows), start)
		w.buf = w.buf[:0]
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	w.log.Warn("ingest: batch failed again, writing rows one by one", "rows", len(rows), "err", err)

	w.stats.isolated.Add(1)
	for i, r := range rows {
		t := time.Now()
		err := w.commit(ctx, rows[i:i+1])
		if err != nil && ctx.Err() != nil {
			w.buf = append(w.buf[:0], rows[i:]...)
			return ctx.Err()
		}
		if err != nil {
			w.stats.dropped.Add(1)
			if w.opt.OnDrop != nil {
				w.opt.OnDrop(r.Line, err)
			} else {
				w.log.Error("ingest: row dropped", "line", r.Line, "err", err)
			}
			continue
		}
		w.done(1, t)
	}
	w.buf = w.buf[:0]
	return nil
}

func (w *Writer) done(n int, start time.Time) {
	w.stats.rows.Add(int64(n))
	w.stats.batches.Add(1)
	if w.opt.OnFlush != nil {
		w.opt.OnFlush(n, time.Since(start))
	}
}

// Stats returns a snapshot of the running totals.
func (w *Writer) Stats() Stats {
	return Stats{
		Rows:       w.stats.rows.Load(),
		Batches:    w.stats.batches.Load(),
		Retries:    w.stats.retries.Load(),
		Isolated:   w.stats.isolated.Load(),
		Dropped:    w.stats.dropped.Load(),
		Texted:     w.stats.texted.Load(),
		Overflowed: w.stats.overflowed.Load(),
	}
}

// commit writes rows in one transaction: plan columns, apply DDL, insert,
// commit. The registry learns about new columns only after the commit.
func (w *Writer) commit(ctx context.Context, rows []Row) (err error) {
	tx, err := w.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				w.log.Warn("ingest: rollback failed", "err", rbErr)
			}
		}
	}()

	for _, r := range rows {
		for _, f := range r.Fields {
			if !f.Value.Null() {
				w.reg.Ensure(f.Name, schema.TypeOf(f.Value.Kind))
			}
		}
	}
	applied, err := w.reg.Apply(ctx, tx)
	if err != nil {
		return err
	}

	var texted, overflowed int64
	for _, r := range rows {
		b := w.build(r)
		if err := tx.Insert(ctx, b.cols, b.vals); err != nil {
			return fmt.Errorf("line %d: %w", r.Line, err)
		}
		texted += b.texted
		overflowed += b.overflowed
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	w.reg.Commit(applied)
	w.stats.texted.Add(texted)
	w.stats.overflowed.Add(overflowed)
	return nil
}

type built struct {
	cols []string
	vals []any

	texted, overflowed int64
}

// build lays out one row. Every non-null field was planned before the DDL
// ran, so Ensure here only reports the final placement.
func (w *Writer) build(r Row) built {
	b := built{
		cols: []string{storage.ColLine, storage.ColIngestedAt},
		vals: []any{r.Line, r.At.UTC().Format(time.RFC3339Nano)},
	}
	if r.Raw != "" {
		b.cols = append(b.cols, storage.ColRaw)
		b.vals = append(b.vals, r.Raw)
	}

	// Duplicate keys: the last occurrence wins.
	last := make(map[string]int, len(r.Fields))
	for i, f := range r.Fields {
		last[f.Name] = i
	}

	var overflow map[string]string
	for i, f := range r.Fields {
		if last[f.Name] != i || f.Value.Null() {
			continue
		}
		res := w.reg.Ensure(f.Name, schema.TypeOf(f.Value.Kind))
		switch res.Store {
		case schema.StoreNative:
			b.cols = append(b.cols, res.Column)
			b.vals = append(b.vals, nativeValue(f.Value, res.Type))
		case schema.StoreText:
			b.cols = append(b.cols, res.Column)
			b.vals = append(b.vals, f.Value.Text())
			b.texted++
		case schema.StoreOverflow:
			if overflow == nil {
				overflow = make(map[string]string)
			}
			overflow[f.Name] = f.Value.Text()
			b.overflowed++
		}
	}
	if overflow != nil {
		// A map of strings always marshals.
		data, _ := json.Marshal(overflow)
		b.cols = append(b.cols, storage.ColOverflow)
		b.vals = append(b.vals, string(data))
	}
	return b
}

// nativeValue converts v for a column of type t. Integers bound for a float
// column are converted so strict engines accept them.
func nativeValue(v flatten.Value, t ddl.Type) any {
	switch t {
	case ddl.TypeFloat:
		if v.Kind == flatten.KindInt {
			return float64(v.Int)
		}
		return v.Float
	case ddl.TypeInteger:
		return v.Int
	case ddl.TypeBoolean:
		return v.Bool
	default:
		return v.Str
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
