package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalid is wrapped by Check when a Config has error-severity issues.
var ErrInvalid = errors.New("invalid configuration")

// sqliteColumnLimit is SQLite's default SQLITE_MAX_COLUMN. Five of them are
// taken by the internal _lp_* columns.
const (
	sqliteColumnLimit = 2000
	internalColumns   = 5
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be surfaced
	// to users but may not necessarily block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation/lint finding for a Config.
//
// Path is a dotted path into the config (e.g. "storage.kind",
// "runtime.batch_size"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// Validate performs static validation of c. It does not mutate c; callers
// usually Normalize first so that zero values are not reported.
func Validate(c Config) []Issue {
	var issues []Issue

	if strings.TrimSpace(c.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "job",
			Message:  "job is empty; metrics and summaries will be unlabeled",
		})
	}
	issues = append(issues, validateSource(c.Source)...)
	issues = append(issues, validateStorage(c.Storage)...)
	issues = append(issues, validateRuntime(c.Runtime, c.Storage.Kind)...)
	issues = append(issues, validateMetrics(c.Metrics)...)
	issues = append(issues, validateLog(c.Log)...)

	return issues
}

// Check runs Validate and folds the error-severity issues into one error
// wrapping ErrInvalid. Warnings are returned for the caller to log.
func Check(c Config) (warnings []Issue, err error) {
	var errs []string
	for _, iss := range Validate(c) {
		if iss.Severity == SeverityError {
			errs = append(errs, iss.Error())
			continue
		}
		warnings = append(warnings, iss)
	}
	if len(errs) > 0 {
		return warnings, fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return warnings, nil
}

func validateSource(s Source) []Issue {
	var issues []Issue

	switch s.Kind {
	case "stdin", "":
	case "file":
		if strings.TrimSpace(s.Path) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "source.path",
				Message:  "file source requires a non-empty path",
			})
		}
	case "command":
		if strings.TrimSpace(s.Command) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "source.command",
				Message:  "command source requires a non-empty command",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.kind",
			Message:  fmt.Sprintf("unknown source kind %q; want stdin, file or command", s.Kind),
		})
	}
	return issues
}

func validateStorage(s Storage) []Issue {
	var issues []Issue

	switch s.Kind {
	case "sqlite":
		if s.DSN != "" {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "storage.dsn",
				Message:  "dsn is ignored by the sqlite backend; use storage.path",
			})
		}
	case "postgres":
		if strings.TrimSpace(s.DSN) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "storage.dsn",
				Message:  "postgres storage requires a dsn",
			})
		}
	case "":
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  "storage.kind must not be empty",
		})
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  fmt.Sprintf("unknown storage kind %q; want sqlite or postgres", s.Kind),
		})
	}

	if strings.TrimSpace(s.Table) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.table",
			Message:  "storage.table must not be empty",
		})
	} else if strings.HasPrefix(s.Table, "_lp_") {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "storage.table",
			Message:  "table names starting with _lp_ are easy to confuse with internal columns",
		})
	}
	if s.BusyTimeoutMS < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.busy_timeout_ms",
			Message:  "busy_timeout_ms must be >= 0",
		})
	}
	return issues
}

func validateRuntime(r Runtime, storageKind string) []Issue {
	var issues []Issue

	positive := []struct {
		path string
		v    int
	}{
		{"runtime.batch_size", r.BatchSize},
		{"runtime.flush_interval_ms", r.FlushIntervalMS},
		{"runtime.channel_buffer", r.ChannelBuffer},
		{"runtime.max_line_bytes", r.MaxLineBytes},
		{"runtime.max_columns", r.MaxColumns},
		{"runtime.shutdown_timeout_ms", r.ShutdownTimeoutMS},
	}
	for _, p := range positive {
		if p.v <= 0 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     p.path,
				Message:  fmt.Sprintf("%s must be > 0", p.path[len("runtime."):]),
			})
		}
	}
	if r.RetryDelayMS < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.retry_delay_ms",
			Message:  "retry_delay_ms must be >= 0",
		})
	}

	if storageKind == "sqlite" && r.MaxColumns > sqliteColumnLimit-internalColumns {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.max_columns",
			Message: fmt.Sprintf("max_columns=%d exceeds the sqlite limit of %d dynamic columns",
				r.MaxColumns, sqliteColumnLimit-internalColumns),
		})
	}
	if r.BatchSize > 100000 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "runtime.batch_size",
			Message:  "very large batch_size; readers will see rows late and a failed batch retries row by row",
		})
	}
	if r.ChannelBuffer > 0 && r.BatchSize > 0 && r.ChannelBuffer < r.BatchSize/10 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "runtime.channel_buffer",
			Message:  "channel_buffer is much smaller than batch_size; the reader may stall during flushes",
		})
	}
	return issues
}

func validateMetrics(m Metrics) []Issue {
	var issues []Issue

	switch m.Backend {
	case "", "none":
	case "prometheus":
		if m.PushgatewayURL == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.pushgateway_url",
				Message:  "prometheus backend requires pushgateway_url",
			})
		} else if u, err := url.Parse(m.PushgatewayURL); err != nil || u.Scheme == "" || u.Host == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.pushgateway_url",
				Message:  fmt.Sprintf("pushgateway_url %q is not an absolute URL", m.PushgatewayURL),
			})
		}
	case "datadog":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "metrics.backend",
			Message:  fmt.Sprintf("unknown metrics backend %q; want none, prometheus or datadog", m.Backend),
		})
	}
	if m.PushIntervalMS < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "metrics.push_interval_ms",
			Message:  "push_interval_ms must be >= 0",
		})
	}
	return issues
}

func validateLog(l Log) []Issue {
	var issues []Issue

	switch strings.ToLower(l.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "log.level",
			Message:  fmt.Sprintf("unknown log level %q", l.Level),
		})
	}
	switch l.Format {
	case "", "text", "json":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "log.format",
			Message:  fmt.Sprintf("unknown log format %q; want text or json", l.Format),
		})
	}
	return issues
}
