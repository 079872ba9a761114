package etl

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"logparsely/internal/storage"
	"logparsely/internal/storage/sqlite"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	repo   *sqlite.Repository
	reader *sql.DB
}

func newFixture(tb testing.TB) *fixture {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), "etl-logparsely.db")
	repo, closeFn, err := sqlite.NewRepository(context.Background(), sqlite.Config{Path: path, Table: "logs"})
	require.NoError(tb, err)
	tb.Cleanup(closeFn)

	// The reader is opened after the table exists.
	require.NoError(tb, repo.EnsureTable(context.Background()))
	reader, err := sql.Open("sqlite", sqlite.ReadOnlyDSN(path, time.Second))
	require.NoError(tb, err)
	tb.Cleanup(func() { reader.Close() })
	return &fixture{repo: repo, reader: reader}
}

func (f *fixture) coordinator(tb testing.TB, cfg Config) *Coordinator {
	tb.Helper()
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	c, err := New(context.Background(), f.repo, cfg)
	require.NoError(tb, err)
	return c
}

func (f *fixture) scalar(tb testing.TB, q string) int64 {
	tb.Helper()
	var n int64
	require.NoError(tb, f.reader.QueryRow(q).Scan(&n))
	return n
}

func (f *fixture) dynamicColumns(tb testing.TB) []string {
	tb.Helper()
	rows, err := f.reader.Query(`SELECT name FROM pragma_table_info('logs') ORDER BY cid`)
	require.NoError(tb, err)
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		require.NoError(tb, rows.Scan(&name))
		if !storage.IsInternal(name) {
			out = append(out, name)
		}
	}
	require.NoError(tb, rows.Err())
	return out
}

func TestRunThreeRecordScenario(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.coordinator(t, Config{})

	in := "{\"a\":{\"b\":1}}\n{\"a\":{\"b\":2.5}}\n{\"a\":{\"c\":\"x\"}}\n"
	s, err := c.Run(context.Background(), strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, StateStopped, c.State())

	require.Equal(t, int64(3), s.Lines)
	require.Equal(t, int64(3), s.Records)
	require.Equal(t, int64(3), s.Rows)
	require.Equal(t, 2, s.Columns)
	require.Equal(t, []string{"a.b", "a.c"}, f.dynamicColumns(t))

	rows, err := f.reader.Query(`SELECT "a.b", "a.c" FROM logs ORDER BY _lp_seq`)
	require.NoError(t, err)
	defer rows.Close()
	type pair struct {
		b sql.NullFloat64
		c sql.NullString
	}
	var got []pair
	for rows.Next() {
		var p pair
		require.NoError(t, rows.Scan(&p.b, &p.c))
		got = append(got, p)
	}
	require.Equal(t, []pair{
		{b: sql.NullFloat64{Float64: 1, Valid: true}},
		{b: sql.NullFloat64{Float64: 2.5, Valid: true}},
		{c: sql.NullString{String: "x", Valid: true}},
	}, got)
}

func TestRunSkipsMalformedLine(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.coordinator(t, Config{})

	s, err := c.Run(context.Background(), strings.NewReader("{\"x\":1}\n{\"a\":\n{\"x\":2}\n"))
	require.NoError(t, err)

	require.Equal(t, int64(2), f.scalar(t, `SELECT COUNT(*) FROM logs`))
	require.Equal(t, int64(1), s.DecodeErrors)
	require.Len(t, s.DecodeSamples, 1)
	require.Contains(t, s.DecodeSamples[0], "line 2")
	require.Equal(t, []string{"x"}, f.dynamicColumns(t))
	require.Equal(t, int64(3), f.scalar(t, `SELECT MAX(_lp_line) FROM logs`))
}

func TestRunEmptyArrayRecord(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.coordinator(t, Config{})

	s, err := c.Run(context.Background(), strings.NewReader(`{"tags":[]}`))
	require.NoError(t, err)
	require.Equal(t, int64(1), s.Rows)
	require.Empty(t, f.dynamicColumns(t))
	require.Equal(t, int64(1), f.scalar(t, `SELECT COUNT(*) FROM logs`))
}

func TestRunBlankLinesAndRaw(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.coordinator(t, Config{KeepUnparsable: true})

	s, err := c.Run(context.Background(), strings.NewReader("{\"k\":1}\n\n   \nnot json\n"))
	require.NoError(t, err)

	require.Equal(t, int64(4), s.Lines)
	require.Equal(t, int64(2), s.Blank)
	require.Equal(t, int64(1), s.DecodeErrors)
	require.Equal(t, int64(1), s.KeptRaw)
	require.Equal(t, int64(2), s.Rows)

	var raw string
	var line int64
	require.NoError(t, f.reader.QueryRow(`SELECT _lp_raw, _lp_line FROM logs WHERE _lp_raw IS NOT NULL`).Scan(&raw, &line))
	require.Equal(t, "not json", raw)
	require.Equal(t, int64(4), line)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(tb testing.TB, cond func() bool) {
	tb.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			tb.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunFlushesOnInterval(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.coordinator(t, Config{BatchSize: 1000, FlushInterval: 20 * time.Millisecond})

	pr, pw := io.Pipe()
	done := make(chan Summary, 1)
	go func() {
		s, _ := c.Run(context.Background(), pr)
		done <- s
	}()

	_, err := io.WriteString(pw, "{\"k\":1}\n")
	require.NoError(t, err)
	// The source stays open: only the timer can make the row visible.
	waitFor(t, func() bool { return f.scalar(t, `SELECT COUNT(*) FROM logs`) == 1 })

	require.NoError(t, pw.Close())
	s := <-done
	require.Equal(t, int64(1), s.Rows)
}

func TestRunCancelFlushesBufferedRows(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.coordinator(t, Config{BatchSize: 1000, FlushInterval: time.Hour})

	pr, pw := io.Pipe()
	defer pw.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Summary, 1)
	go func() {
		s, _ := c.Run(ctx, pr)
		done <- s
	}()

	_, err := io.WriteString(pw, "{\"k\":1}\n{\"k\":2}\n")
	require.NoError(t, err)
	waitFor(t, func() bool { return c.stats.records.Load() == 2 })
	require.Equal(t, int64(0), f.scalar(t, `SELECT COUNT(*) FROM logs`))

	cancel()
	s := <-done
	require.Equal(t, int64(2), s.Rows)
	require.Equal(t, int64(0), s.Lost)
	require.Equal(t, int64(2), f.scalar(t, `SELECT COUNT(*) FROM logs`))
}

// stallRepo blocks the first Begin until its context ends.
type stallRepo struct {
	*sqlite.Repository
	once  sync.Once
	began chan struct{}
}

func (r *stallRepo) Begin(ctx context.Context) (storage.Tx, error) {
	first := false
	r.once.Do(func() { first = true })
	if first {
		close(r.began)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return r.Repository.Begin(ctx)
}

// eofReader closes eof when the wrapped reader is exhausted.
type eofReader struct {
	r    io.Reader
	once sync.Once
	eof  chan struct{}
}

func (e *eofReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if errors.Is(err, io.EOF) {
		e.once.Do(func() { close(e.eof) })
	}
	return n, err
}

func TestRunCancelIngestsQueuedLines(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	repo := &stallRepo{Repository: f.repo, began: make(chan struct{})}
	c, err := New(context.Background(), repo, Config{
		BatchSize:     1,
		ChannelBuffer: 16,
		FlushInterval: time.Hour,
		Logger:        quietLogger(),
	})
	require.NoError(t, err)

	src := &eofReader{r: strings.NewReader("{\"k\":1}\n{\"k\":2}\n{\"k\":3}\n{\"k\":4}\n{\"k\":5}\n"), eof: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Summary, 1)
	go func() {
		s, _ := c.Run(ctx, src)
		done <- s
	}()

	// The first row is stuck in Begin and the other four wait in the queue.
	<-repo.began
	<-src.eof
	cancel()

	s := <-done
	require.Equal(t, int64(5), s.Lines)
	require.Equal(t, int64(5), s.Rows)
	require.Equal(t, int64(0), s.Lost)
	require.Equal(t, int64(5), f.scalar(t, `SELECT COUNT(*) FROM logs`))
}

// TestRunReaderSeesWholeBatches reads while ingesting. Every row adds a new
// column, so a consistent snapshot always shows as many dynamic columns as
// rows, and only whole batches.
func TestRunReaderSeesWholeBatches(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	const batch = 5
	c := f.coordinator(t, Config{BatchSize: batch, FlushInterval: time.Hour})

	var in strings.Builder
	for i := 0; i < 60; i++ {
		in.WriteString(`{"k` + string(rune('a'+i%26)) + string(rune('a'+i/26)) + `":1}` + "\n")
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	var readerErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			rows, cols, err := snapshot(f.reader)
			if err != nil {
				readerErr = err
				return
			}
			if rows%batch != 0 || cols != rows {
				readerErr = errors.New("inconsistent snapshot")
				return
			}
		}
	}()

	s, err := c.Run(context.Background(), strings.NewReader(in.String()))
	close(stop)
	wg.Wait()
	require.NoError(t, err)
	require.NoError(t, readerErr)
	require.Equal(t, int64(60), s.Rows)
}

// snapshot counts rows and dynamic columns inside one read transaction.
func snapshot(db *sql.DB) (rows, cols int64, err error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()
	if err := tx.QueryRow(`SELECT COUNT(*) FROM logs`).Scan(&rows); err != nil {
		return 0, 0, err
	}
	err = tx.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('logs') WHERE name NOT LIKE '\_lp\_%' ESCAPE '\'`).Scan(&cols)
	return rows, cols, err
}

type brokenRepo struct {
	storage.Repository
}

func (brokenRepo) EnsureTable(context.Context) error { return errors.New("disk full") }

func TestNewFailsFatally(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := New(context.Background(), brokenRepo{f.repo}, Config{Logger: quietLogger()})
	require.Error(t, err)
	require.True(t, IsFatal(err))
	require.ErrorContains(t, err, "disk full")
}

func TestRunRestartReusesColumns(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	c := f.coordinator(t, Config{})
	_, err := c.Run(context.Background(), strings.NewReader(`{"a":1}`))
	require.NoError(t, err)

	c = f.coordinator(t, Config{})
	require.Equal(t, 1, c.Registry().Live())
	s, err := c.Run(context.Background(), strings.NewReader(`{"a":2,"b":"x"}`))
	require.NoError(t, err)
	require.Equal(t, 2, s.Columns)
	require.Equal(t, []string{"a", "b"}, f.dynamicColumns(t))
	require.Equal(t, int64(2), f.scalar(t, `SELECT COUNT(*) FROM logs`))
}
