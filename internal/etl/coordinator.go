// Package etl drives one ingestion run: read lines, decode and flatten them,
// and hand the records to the batching writer.
//
// Concurrency model:
//
//	reader goroutine (blocking source reads)
//	     → bounded line channel (blocks when full; nothing is dropped)
//	     → coordinator loop: decode → flatten → writer (batch / timer flush)
//
// The coordinator loop is the only goroutine that touches the writer and the
// store. Readers of the store are separate processes.
package etl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"logparsely/internal/ingest"
	"logparsely/internal/metrics"
	jsonparser "logparsely/internal/parser/json"
	"logparsely/internal/schema"
	"logparsely/internal/storage"
)

// State is the coordinator's position in the read → decode → flatten → write
// cycle.
type State int32

const (
	StateIdle State = iota
	StateReading
	StateDecoding
	StateFlattening
	StateWriting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReading:
		return "reading"
	case StateDecoding:
		return "decoding"
	case StateFlattening:
		return "flattening"
	case StateWriting:
		return "writing"
	default:
		return "stopped"
	}
}

const (
	DefaultFlushInterval   = 250 * time.Millisecond
	DefaultChannelBuffer   = 1024
	DefaultShutdownTimeout = 5 * time.Second
)

// Config tunes a Coordinator. Zero values take the package defaults.
type Config struct {
	Job   string
	RunID string

	BatchSize       int
	FlushInterval   time.Duration
	ChannelBuffer   int
	MaxLineBytes    int
	MaxColumns      int
	RetryDelay      time.Duration
	ShutdownTimeout time.Duration

	// KeepUnparsable writes lines that fail to decode into the raw column
	// instead of skipping them.
	KeepUnparsable bool

	Logger *slog.Logger
}

// Coordinator runs the ingestion loop against one store.
type Coordinator struct {
	cfg    Config
	log    *slog.Logger
	repo   storage.Repository
	reg    *schema.Registry
	writer *ingest.Writer

	state atomic.Int32
	stats counters

	decodeAgg *errAgg
	dropAgg   *errAgg
	lineLog   *sometimes
	schemaLog *sometimes

	now func() time.Time
}

// New prepares a Coordinator: it ensures the table and loads the existing
// columns. Failures are *FatalError.
func New(ctx context.Context, repo storage.Repository, cfg Config) (*Coordinator, error) {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = DefaultChannelBuffer
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = ingest.DefaultRetryDelay
	}
	lg := cfg.Logger
	if lg == nil {
		lg = slog.Default()
	}

	c := &Coordinator{
		cfg:       cfg,
		log:       lg,
		repo:      repo,
		decodeAgg: newErrAgg(sampleSize),
		dropAgg:   newErrAgg(sampleSize),
		lineLog:   newSometimes(time.Second, 10),
		schemaLog: newSometimes(time.Second, 10),
		now:       time.Now,
	}

	if err := repo.EnsureTable(ctx); err != nil {
		return nil, Fatal("ensure table", err)
	}
	c.reg = schema.NewRegistry(repo.Dialect(), schema.Options{
		MaxColumns: cfg.MaxColumns,
		OnReject:   c.onReject,
	})
	if err := c.reg.Rehydrate(ctx, repo); err != nil {
		return nil, Fatal("load columns", err)
	}
	c.writer = ingest.NewWriter(repo, c.reg, ingest.Options{
		BatchSize:  cfg.BatchSize,
		RetryDelay: cfg.RetryDelay,
		Logger:     lg,
		OnDrop:     c.onDrop,
		OnFlush:    c.onFlush,
	})
	lg.Debug("etl: columns loaded", "columns", c.reg.Live())
	return c, nil
}

// State returns the current loop state.
func (c *Coordinator) State() State { return State(c.state.Load()) }

func (c *Coordinator) setState(s State) { c.state.Store(int32(s)) }

// Registry exposes the schema registry, mainly for inspection.
func (c *Coordinator) Registry() *schema.Registry { return c.reg }

// Run ingests src until it ends or ctx is canceled, then ingests the lines
// already read and flushes what is buffered. The work after cancellation gets
// its own ShutdownTimeout budget.
//
// Decode, schema and row write failures are counted and logged, never
// returned. Run returns an error when reading src fails; the summary is valid
// either way.
func (c *Coordinator) Run(ctx context.Context, src io.Reader) (Summary, error) {
	started := c.now()
	c.log.Info("etl: started",
		"batch", c.cfg.BatchSize, "flush_interval", c.cfg.FlushInterval, "buffer", c.cfg.ChannelBuffer)

	lines := make(chan jsonparser.Line, c.cfg.ChannelBuffer)
	readErr := make(chan error, 1)
	readCtx, stopRead := context.WithCancel(ctx)
	defer stopRead()

	// The reader may stay blocked in src.Read after Run returns; closing
	// the source unblocks it.
	go func() {
		err := jsonparser.StreamLines(readCtx, src, c.cfg.MaxLineBytes, lines)
		readErr <- err
		close(lines)
	}()

	timer := time.NewTimer(c.cfg.FlushInterval)
	timer.Stop()
	armed := false
	defer timer.Stop()

	var (
		runErr error
		queued <-chan jsonparser.Line
	)
loop:
	for {
		c.setState(StateReading)
		select {
		case <-ctx.Done():
			stopRead()
			queued = lines
			break loop

		case <-timer.C:
			armed = false
			c.flush(ctx)

		case l, ok := <-lines:
			if !ok {
				if err := <-readErr; err != nil && !errors.Is(err, context.Canceled) {
					runErr = fmt.Errorf("etl: read: %w", err)
					c.log.Error("etl: source read failed", "err", err)
				}
				break loop
			}
			wrote := c.handle(ctx, l)
			if wrote && !armed && c.writer.Pending() > 0 {
				timer.Reset(c.cfg.FlushInterval)
				armed = true
			}
			if armed && c.writer.Pending() == 0 {
				timer.Stop()
				armed = false
			}
		}
	}

	c.shutdown(ctx, queued)
	c.setState(StateStopped)

	s := c.summary(started, c.writer.Stats())
	logSummary(c.log, s)
	return s, runErr
}

// handle decodes one line and passes it to the writer. It reports whether a
// row was written or buffered.
func (c *Coordinator) handle(ctx context.Context, l jsonparser.Line) bool {
	c.stats.lines.Add(1)

	c.setState(StateDecoding)
	rec, err := jsonparser.Decode(l)
	if errors.Is(err, jsonparser.ErrBlank) {
		c.stats.blank.Add(1)
		return false
	}
	if err != nil {
		c.onDecodeError(&DecodeError{Line: l.No, Err: err})
		if !c.cfg.KeepUnparsable {
			return false
		}
		c.stats.keptRaw.Add(1)
		c.write(ctx, ingest.Row{Line: l.No, At: l.At, Raw: string(l.Bytes)})
		return true
	}

	// Decode flattened the record; the state marks that step for observers.
	c.setState(StateFlattening)
	c.stats.records.Add(1)
	c.write(ctx, ingest.Row{Line: rec.Line, At: rec.At, Fields: rec.Fields})
	return true
}

func (c *Coordinator) write(ctx context.Context, r ingest.Row) {
	c.setState(StateWriting)
	// Write fails only when ctx ends; the rows stay buffered for shutdown.
	_ = c.writer.Write(ctx, r)
}

func (c *Coordinator) flush(ctx context.Context) {
	c.setState(StateWriting)
	_ = c.writer.Flush(ctx)
}

// shutdown ingests the lines already queued by the reader, then flushes the
// buffered rows with a fresh deadline, so a canceled run still persists
// everything it read when the store allows it. queued is nil when the source
// ended on its own.
func (c *Coordinator) shutdown(ctx context.Context, queued <-chan jsonparser.Line) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ShutdownTimeout)
	defer cancel()

	drained := 0
	for queued != nil {
		select {
		case l, ok := <-queued:
			if !ok {
				queued = nil
				continue
			}
			c.handle(fctx, l)
			drained++
		default:
			queued = nil
		}
	}
	if drained > 0 {
		c.log.Debug("etl: drained queued lines", "lines", drained)
	}

	n := c.writer.Pending()
	if n == 0 {
		return
	}
	if err := c.writer.Flush(fctx); err != nil {
		lost := c.writer.Pending()
		c.stats.lost.Add(int64(lost))
		c.log.Error("etl: final flush failed, rows lost", "rows", lost, "err", err)
		metrics.RecordRow(c.cfg.Job, "lost", int64(lost))
		return
	}
	c.log.Debug("etl: final flush", "rows", n)
}

func (c *Coordinator) onDecodeError(e *DecodeError) {
	c.stats.decodeErrors.Add(1)
	c.decodeAgg.add(e.Error())
	metrics.RecordRow(c.cfg.Job, "decode_errors", 1)
	c.lineLog.log(c.log, slog.LevelWarn, "etl: skipping line", "line", e.Line, "err", e.Err)
}

func (c *Coordinator) onReject(e *schema.RejectedError) {
	se := &SchemaError{Path: e.Path, Err: e.Err}
	c.stats.rejected.Add(1)
	metrics.RecordRow(c.cfg.Job, "rejected_paths", 1)
	c.schemaLog.log(c.log, slog.LevelWarn, "etl: path moved to overflow", "path", se.Path, "err", se.Err)
}

func (c *Coordinator) onDrop(line int64, err error) {
	we := &WriteError{Line: line, Err: err}
	c.dropAgg.add(we.Error())
	metrics.RecordRow(c.cfg.Job, "dropped", 1)
	c.lineLog.log(c.log, slog.LevelError, "etl: row dropped", "line", line, "err", err)
}

func (c *Coordinator) onFlush(rows int, d time.Duration) {
	metrics.RecordBatches(c.cfg.Job, 1)
	metrics.RecordRow(c.cfg.Job, "inserted", int64(rows))
	metrics.RecordStep(c.cfg.Job, "flush", nil, d)
	metrics.RecordColumns(c.cfg.Job, c.reg.Live())
	c.log.Debug("etl: batch committed", "rows", rows, "took", d.Truncate(time.Microsecond))
}
