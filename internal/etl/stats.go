package etl

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"logparsely/internal/ingest"
)

// sampleSize is how many distinct messages each errAgg keeps verbatim.
const sampleSize = 5

// counters holds the coordinator's cross-goroutine statistics.
type counters struct {
	lines        atomic.Int64 // lines read from the source
	blank        atomic.Int64 // whitespace-only lines
	decodeErrors atomic.Int64 // lines that produced no record
	records      atomic.Int64 // decoded records handed to the writer
	keptRaw      atomic.Int64 // unparsable lines handed to the writer
	rejected     atomic.Int64 // paths that lost their column
	lost         atomic.Int64 // rows still buffered when shutdown gave up
}

// errAgg counts error messages and keeps the first few.
type errAgg struct {
	mu      sync.Mutex
	limit   int
	count   int
	first   []string
	buckets map[string]int
}

func newErrAgg(limit int) *errAgg {
	return &errAgg{limit: limit, buckets: make(map[string]int)}
}

func (a *errAgg) add(msg string) {
	a.mu.Lock()
	a.buckets[msg]++
	if a.count < a.limit {
		a.first = append(a.first, msg)
	}
	a.count++
	a.mu.Unlock()
}

func (a *errAgg) snapshot() (int, []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count, append([]string(nil), a.first...)
}

// sometimes logs through a token bucket and counts what it drops. The
// suppressed count is attached to the next message that gets through.
type sometimes struct {
	lim        *rate.Limiter
	suppressed atomic.Int64
	total      atomic.Int64
}

func newSometimes(every time.Duration, burst int) *sometimes {
	return &sometimes{lim: rate.NewLimiter(rate.Every(every), burst)}
}

func (s *sometimes) log(lg *slog.Logger, level slog.Level, msg string, args ...any) {
	if !s.lim.Allow() {
		s.suppressed.Add(1)
		s.total.Add(1)
		return
	}
	if n := s.suppressed.Swap(0); n > 0 {
		args = append(args, "suppressed", n)
	}
	lg.Log(context.Background(), level, msg, args...)
}

// Summary is the end-of-run report.
type Summary struct {
	RunID      string    `json:"run_id"`
	Job        string    `json:"job"`
	Storage    string    `json:"storage"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Lines        int64 `json:"lines"`
	Blank        int64 `json:"blank"`
	DecodeErrors int64 `json:"decode_errors"`
	Records      int64 `json:"records"`
	KeptRaw      int64 `json:"kept_raw"`

	Rows       int64 `json:"rows"`
	Batches    int64 `json:"batches"`
	Retries    int64 `json:"retries"`
	Isolated   int64 `json:"isolated"`
	Dropped    int64 `json:"dropped"`
	Lost       int64 `json:"lost"`
	Texted     int64 `json:"texted"`
	Overflowed int64 `json:"overflowed"`

	Columns        int   `json:"columns"`
	RejectedPaths  int64 `json:"rejected_paths"`
	SuppressedLogs int64 `json:"suppressed_logs"`

	DecodeSamples []string `json:"decode_samples,omitempty"`
	DropSamples   []string `json:"drop_samples,omitempty"`
}

func (c *Coordinator) summary(started time.Time, ws ingest.Stats) Summary {
	_, decodeSamples := c.decodeAgg.snapshot()
	_, dropSamples := c.dropAgg.snapshot()
	return Summary{
		RunID:      c.cfg.RunID,
		Job:        c.cfg.Job,
		Storage:    c.repo.Dialect().Name(),
		StartedAt:  started,
		FinishedAt: c.now(),

		Lines:        c.stats.lines.Load(),
		Blank:        c.stats.blank.Load(),
		DecodeErrors: c.stats.decodeErrors.Load(),
		Records:      c.stats.records.Load(),
		KeptRaw:      c.stats.keptRaw.Load(),

		Rows:       ws.Rows,
		Batches:    ws.Batches,
		Retries:    ws.Retries,
		Isolated:   ws.Isolated,
		Dropped:    ws.Dropped,
		Lost:       c.stats.lost.Load(),
		Texted:     ws.Texted,
		Overflowed: ws.Overflowed,

		Columns:        c.reg.Live(),
		RejectedPaths:  c.stats.rejected.Load(),
		SuppressedLogs: c.lineLog.total.Load() + c.schemaLog.total.Load(),

		DecodeSamples: decodeSamples,
		DropSamples:   dropSamples,
	}
}

// logSummary prints the final statistics and checks that every line is
// accounted for:
//
//	lines == blank + decode_errors + records
//	records + kept_raw == rows + dropped + lost
func logSummary(lg *slog.Logger, s Summary) {
	lg.Info("summary",
		"lines", s.Lines,
		"blank", s.Blank,
		"decode_errors", s.DecodeErrors,
		"records", s.Records,
		"kept_raw", s.KeptRaw,
		"rows", s.Rows,
		"batches", s.Batches,
		"retries", s.Retries,
		"dropped", s.Dropped,
		"lost", s.Lost,
		"texted", s.Texted,
		"overflowed", s.Overflowed,
		"columns", s.Columns,
		"rejected_paths", s.RejectedPaths,
		"elapsed", s.FinishedAt.Sub(s.StartedAt).Truncate(time.Millisecond),
	)
	for i, m := range s.DecodeSamples {
		lg.Info("decode error sample", "n", i+1, "err", m)
	}
	for i, m := range s.DropSamples {
		lg.Info("dropped row sample", "n", i+1, "err", m)
	}

	if s.Lines != s.Blank+s.DecodeErrors+s.Records {
		lg.Warn("line accounting mismatch", "lines", s.Lines, "accounted", s.Blank+s.DecodeErrors+s.Records)
	}
	if in, out := s.Records+s.KeptRaw, s.Rows+s.Dropped+s.Lost; in != out {
		lg.Warn("row accounting mismatch", "in", in, "out", out, "delta", in-out)
	}
}
