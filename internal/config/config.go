// Package config defines the JSON-serializable configuration model for
// logparsely, and how it is loaded.
//
// A value is assembled in layers, each overriding the previous one:
//
//  1. Default()
//  2. a config file (JSON with comments and trailing commas, see Load)
//  3. LOGPARSELY_* environment variables (ApplyEnv)
//  4. command-line flags, applied by cmd/logparsely
//
// Example (trimmed):
//
//	{
//	  // tail the API logs into a local database
//	  "job":     "api",
//	  "source":  { "kind": "command", "command": "kubectl logs -f deploy/api" },
//	  "storage": { "kind": "sqlite", "table": "logs" },
//	  "runtime": { "batch_size": 500, "flush_interval_ms": 250 },
//	}
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/hujson"
)

// Defaults used by Default and by Normalize for zero fields.
const (
	DefaultJob               = "logparsely"
	DefaultTable             = "logs"
	DefaultBatchSize         = 500
	DefaultFlushIntervalMS   = 250
	DefaultChannelBuffer     = 1024
	DefaultMaxLineBytes      = 4 << 20
	DefaultMaxColumns        = 1900
	DefaultRetryDelayMS      = 100
	DefaultShutdownTimeoutMS = 5000
	DefaultPushIntervalMS    = 10000
	DefaultDatadogAddr       = "127.0.0.1:8125"

	// LogsDir holds databases created without an explicit storage.path.
	LogsDir = "logs"
	// DBSuffix ends every generated database file name.
	DBSuffix = "-logparsely.db"
)

// Config is the top-level object decoded from a config file.
type Config struct {
	// Job labels metrics and the run summary.
	Job     string  `json:"job"`
	Source  Source  `json:"source"`
	Storage Storage `json:"storage"`
	Runtime Runtime `json:"runtime"`
	Metrics Metrics `json:"metrics"`
	Log     Log     `json:"log"`

	// SummaryPath, when set, receives the end-of-run summary as JSON.
	SummaryPath string `json:"summary_path"`
}

// Source selects where lines come from.
type Source struct {
	// Kind is "stdin", "file" or "command".
	Kind    string `json:"kind"`
	Path    string `json:"path"`
	Command string `json:"command"`
}

// Storage selects the database.
type Storage struct {
	// Kind is a registered storage kind: "sqlite" or "postgres".
	Kind string `json:"kind"`

	// Path is the SQLite database file. Empty means a fresh file under LogsDir.
	Path string `json:"path"`

	// DSN is the Postgres connection string.
	DSN   string `json:"dsn"`
	Table string `json:"table"`

	BusyTimeoutMS int `json:"busy_timeout_ms"`
}

// BusyTimeout returns BusyTimeoutMS as a duration; zero leaves the backend
// default.
func (s Storage) BusyTimeout() time.Duration { return ms(s.BusyTimeoutMS) }

// Runtime controls batching and buffering.
type Runtime struct {
	BatchSize         int  `json:"batch_size"`
	FlushIntervalMS   int  `json:"flush_interval_ms"`
	ChannelBuffer     int  `json:"channel_buffer"`
	MaxLineBytes      int  `json:"max_line_bytes"`
	MaxColumns        int  `json:"max_columns"`
	KeepUnparsable    bool `json:"keep_unparsable"`
	RetryDelayMS      int  `json:"retry_delay_ms"`
	ShutdownTimeoutMS int  `json:"shutdown_timeout_ms"`
}

// FlushInterval returns FlushIntervalMS as a duration.
func (r Runtime) FlushInterval() time.Duration { return ms(r.FlushIntervalMS) }

// RetryDelay returns RetryDelayMS as a duration.
func (r Runtime) RetryDelay() time.Duration { return ms(r.RetryDelayMS) }

// ShutdownTimeout returns ShutdownTimeoutMS as a duration.
func (r Runtime) ShutdownTimeout() time.Duration { return ms(r.ShutdownTimeoutMS) }

// Metrics selects an optional metrics backend.
type Metrics struct {
	// Backend is "", "none", "prometheus" or "datadog".
	Backend        string `json:"backend"`
	PushgatewayURL string `json:"pushgateway_url"`
	DatadogAddr    string `json:"datadog_addr"`
	PushIntervalMS int    `json:"push_interval_ms"`
}

// PushInterval returns PushIntervalMS as a duration.
func (m Metrics) PushInterval() time.Duration { return ms(m.PushIntervalMS) }

// Log configures the process logger.
type Log struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// Default returns the configuration used when nothing else is given: read
// stdin, write a SQLite table named "logs".
func Default() Config {
	return Config{
		Job:     DefaultJob,
		Source:  Source{Kind: "stdin"},
		Storage: Storage{Kind: "sqlite", Table: DefaultTable},
		Runtime: Runtime{
			BatchSize:         DefaultBatchSize,
			FlushIntervalMS:   DefaultFlushIntervalMS,
			ChannelBuffer:     DefaultChannelBuffer,
			MaxLineBytes:      DefaultMaxLineBytes,
			MaxColumns:        DefaultMaxColumns,
			RetryDelayMS:      DefaultRetryDelayMS,
			ShutdownTimeoutMS: DefaultShutdownTimeoutMS,
		},
		Metrics: Metrics{PushIntervalMS: DefaultPushIntervalMS},
		Log:     Log{Level: "info", Format: "text"},
	}
}

// Load reads a config file on top of Default. Comments and trailing commas
// are allowed; unknown fields are an error so typos do not pass silently.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes data on top of Default.
func Parse(data []byte) (Config, error) {
	c := Default()
	std, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("parse: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(std))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return Config{}, fmt.Errorf("decode: %w", err)
	}
	return c, nil
}

// ApplyEnv overrides c with any LOGPARSELY_* variables that are set.
// Malformed numbers are ignored.
func ApplyEnv(c *Config) {
	c.Job = getenv("LOGPARSELY_JOB", c.Job)
	c.Storage.Kind = getenv("LOGPARSELY_STORAGE_KIND", c.Storage.Kind)
	c.Storage.Path = getenv("LOGPARSELY_STORAGE_PATH", c.Storage.Path)
	c.Storage.DSN = getenv("LOGPARSELY_STORAGE_DSN", c.Storage.DSN)
	c.Storage.Table = getenv("LOGPARSELY_TABLE", c.Storage.Table)

	c.Runtime.BatchSize = getenvInt("LOGPARSELY_BATCH_SIZE", c.Runtime.BatchSize)
	c.Runtime.FlushIntervalMS = getenvInt("LOGPARSELY_FLUSH_INTERVAL_MS", c.Runtime.FlushIntervalMS)
	c.Runtime.ChannelBuffer = getenvInt("LOGPARSELY_CH_BUFFER", c.Runtime.ChannelBuffer)
	c.Runtime.MaxColumns = getenvInt("LOGPARSELY_MAX_COLUMNS", c.Runtime.MaxColumns)

	c.Metrics.Backend = getenv("LOGPARSELY_METRICS_BACKEND", c.Metrics.Backend)
	c.Metrics.PushgatewayURL = getenv("LOGPARSELY_PUSHGATEWAY_URL", c.Metrics.PushgatewayURL)
	c.Metrics.DatadogAddr = getenv("LOGPARSELY_DATADOG_ADDR", c.Metrics.DatadogAddr)

	c.Log.Level = getenv("LOGPARSELY_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getenv("LOGPARSELY_LOG_FORMAT", c.Log.Format)
}

// Normalize replaces zero or negative runtime values with their defaults,
// fills in the datadog address and picks a database file when storage.path
// is empty. It is idempotent.
func (c *Config) Normalize() {
	if c.Job == "" {
		c.Job = DefaultJob
	}
	if c.Storage.Table == "" {
		c.Storage.Table = DefaultTable
	}
	r := &c.Runtime
	r.BatchSize = pickInt(r.BatchSize, DefaultBatchSize)
	r.FlushIntervalMS = pickInt(r.FlushIntervalMS, DefaultFlushIntervalMS)
	r.ChannelBuffer = pickInt(r.ChannelBuffer, DefaultChannelBuffer)
	r.MaxLineBytes = pickInt(r.MaxLineBytes, DefaultMaxLineBytes)
	r.MaxColumns = pickInt(r.MaxColumns, DefaultMaxColumns)
	r.ShutdownTimeoutMS = pickInt(r.ShutdownTimeoutMS, DefaultShutdownTimeoutMS)
	if r.RetryDelayMS < 0 {
		r.RetryDelayMS = 0
	}
	c.Metrics.PushIntervalMS = pickInt(c.Metrics.PushIntervalMS, DefaultPushIntervalMS)
	if c.Metrics.Backend == "datadog" && c.Metrics.DatadogAddr == "" {
		c.Metrics.DatadogAddr = DefaultDatadogAddr
	}
	if c.Storage.Kind == "sqlite" && c.Storage.Path == "" {
		c.Storage.Path = NewDBPath()
	}
}

// NewDBPath returns a fresh database path under LogsDir.
func NewDBPath() string {
	return filepath.Join(LogsDir, uuid.NewString()+DBSuffix)
}

func getenv(k, def string) string {
	if s := os.Getenv(k); s != "" {
		return s
	}
	return def
}

// getenvInt reads an int from environment, returning def when unset/invalid.
func getenvInt(k string, def int) int {
	if s := os.Getenv(k); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

// pickInt chooses the first positive value 'a', otherwise returns 'b'.
func pickInt(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}
