// Package json decodes newline-delimited JSON input one line at a time.
//
// Each non-blank line must hold exactly one JSON value. Any value type is
// accepted; objects are the common case:
//
//	{"level":"info","msg":"started"}
//	{"level":"warn","req":{"id":7}}
//
// A line that is not valid JSON produces a *SyntaxError and no Record. Lines
// consisting only of whitespace produce ErrBlank.
package json

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"logparsely/internal/flatten"
)

// ErrBlank is returned by Decode for whitespace-only lines.
var ErrBlank = errors.New("json: blank line")

// Line is one raw input line as read from the source.
type Line struct {
	No    int64     // 1-based line number within the source
	Bytes []byte    // line content without the trailing newline
	At    time.Time // arrival time
	Err   error     // read-level problem (e.g. oversized line); Bytes may be truncated
}

// Record is one decoded line: its leaves in document order.
type Record struct {
	Line   int64
	At     time.Time
	Fields []flatten.Field
}

// SyntaxError reports a line that is not a single well-formed JSON value.
type SyntaxError struct {
	Line   int64
	Offset int64 // byte offset within the line, 0 when unknown
	Err    error
}

func (e *SyntaxError) Error() string {
	if e.Offset > 0 {
		return fmt.Sprintf("json: line %d: offset %d: %v", e.Line, e.Offset, e.Err)
	}
	return fmt.Sprintf("json: line %d: %v", e.Line, e.Err)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// Blank reports whether b contains only JSON whitespace.
func Blank(b []byte) bool {
	return len(bytes.TrimLeft(b, " \t\r\n")) == 0
}

// Decode validates l and flattens it into a Record.
func Decode(l Line) (Record, error) {
	if l.Err != nil {
		return Record{}, &SyntaxError{Line: l.No, Err: l.Err}
	}
	if Blank(l.Bytes) {
		return Record{}, ErrBlank
	}
	if !json.Valid(l.Bytes) {
		return Record{}, syntaxError(l)
	}
	fields, err := flatten.Collect(l.Bytes)
	if err != nil {
		return Record{}, &SyntaxError{Line: l.No, Err: err}
	}
	return Record{Line: l.No, At: l.At, Fields: fields}, nil
}

// syntaxError re-decodes an invalid line to recover the failure offset.
func syntaxError(l Line) error {
	var raw json.RawMessage
	err := json.Unmarshal(l.Bytes, &raw)
	var se *json.SyntaxError
	if errors.As(err, &se) {
		return &SyntaxError{Line: l.No, Offset: se.Offset, Err: errors.New(se.Error())}
	}
	if err == nil {
		err = errors.New("invalid JSON")
	}
	return &SyntaxError{Line: l.No, Err: err}
}
