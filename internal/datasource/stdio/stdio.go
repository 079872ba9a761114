// Package stdio reads input lines from the process's standard input.
package stdio

import (
	"context"
	"io"
	"os"
)

// Stdin is the standard-input source. The reader is os.Stdin itself, so
// closing it closes the process's stdin.
type Stdin struct {
	f *os.File
}

func New() *Stdin { return &Stdin{f: os.Stdin} }

// NewFile wraps f instead of os.Stdin.
func NewFile(f *os.File) *Stdin { return &Stdin{f: f} }

func (s *Stdin) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.f, nil
}

func (s *Stdin) String() string { return "stdin" }
