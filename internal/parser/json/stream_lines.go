package json

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// DefaultMaxLineBytes bounds a single input line.
const DefaultMaxLineBytes = 4 << 20

// ErrLineTooLong marks a line longer than the configured limit. The line is
// still delivered (truncated) so it can be counted and reported.
var ErrLineTooLong = errors.New("line exceeds max_line_bytes")

// StreamLines reads r line by line and sends each line into out, blocking
// while out is full. Line numbers start at 1 and count blank lines too.
//
// A final line without a trailing newline is delivered. Returns nil at EOF,
// ctx.Err() when canceled, or the read error. The caller closes out.
func StreamLines(ctx context.Context, r io.Reader, maxLineBytes int, out chan<- Line) error {
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}
	br := bufio.NewReaderSize(r, 64<<10)

	var no int64
	for {
		b, tooLong, err := readLine(br, maxLineBytes)
		if len(b) == 0 && !tooLong && errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read line %d: %w", no+1, err)
		}
		no++

		l := Line{No: no, Bytes: b, At: time.Now()}
		if tooLong {
			l.Err = fmt.Errorf("%w (%d)", ErrLineTooLong, maxLineBytes)
		}
		select {
		case out <- l:
		case <-ctx.Done():
			return ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
	}
}

// readLine returns the next line without its terminator. Content past limit is
// discarded and reported through tooLong. err is io.EOF when the input ended
// on this line.
func readLine(br *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	var buf []byte
	for {
		frag, e := br.ReadSlice('\n')
		content := bytes.TrimSuffix(frag, []byte{'\n'})
		if room := limit - len(buf); len(content) > room {
			content = content[:room]
			tooLong = true
		}
		buf = append(buf, content...)
		switch {
		case e == nil:
			return bytes.TrimSuffix(buf, []byte{'\r'}), tooLong, nil
		case errors.Is(e, bufio.ErrBufferFull):
			continue
		default:
			return bytes.TrimSuffix(buf, []byte{'\r'}), tooLong, e
		}
	}
}
