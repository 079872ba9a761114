// Package datasource defines where input lines come from.
//
// A Source is opened once per run. The returned reader yields raw bytes; line
// splitting happens downstream. Closing the reader releases the underlying
// file, pipe or child process and unblocks a pending Read where the platform
// allows it.
package datasource

import (
	"context"
	"fmt"
	"io"

	"logparsely/internal/datasource/command"
	"logparsely/internal/datasource/file"
	"logparsely/internal/datasource/stdio"
)

// Source kinds accepted by New.
const (
	KindStdin   = "stdin"
	KindFile    = "file"
	KindCommand = "command"
)

type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	// String describes the source for logs, e.g. "file:/var/log/app.ndjson".
	String() string
}

// Config selects and parameterizes a Source.
type Config struct {
	Kind    string
	Path    string // file
	Command string // command, run with sh -c
}

// New returns the Source described by c.
func New(c Config) (Source, error) {
	switch c.Kind {
	case "", KindStdin:
		return stdio.New(), nil
	case KindFile:
		if c.Path == "" {
			return nil, fmt.Errorf("source.kind=file requires source.path")
		}
		return file.NewLocal(c.Path), nil
	case KindCommand:
		if c.Command == "" {
			return nil, fmt.Errorf("source.kind=command requires source.command")
		}
		return command.New(c.Command, command.Options{}), nil
	default:
		return nil, fmt.Errorf("unsupported source.kind=%s", c.Kind)
	}
}
