package etl

import (
	"errors"
	"fmt"
)

// DecodeError reports an input line that produced no record. Ingestion
// continues past it.
type DecodeError struct {
	Line int64
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode line %d: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// SchemaError reports a path that could not get a column. Its values go to
// the overflow column; the batch goes on.
type SchemaError struct {
	Path string
	Err  error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema: path %q: %v", e.Path, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// WriteError reports a row that failed on its own after the batch retry.
type WriteError struct {
	Line int64
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write line %d: %v", e.Line, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// FatalError stops the run before or instead of ingesting: the store cannot
// be opened or written, or the configuration is invalid.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err as a *FatalError for op. A nil err stays nil.
func Fatal(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return err
	}
	return &FatalError{Op: op, Err: err}
}

// IsFatal reports whether err carries a *FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
