package json

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func drain(ch <-chan Line) []Line {
	var out []Line
	for l := range ch {
		out = append(out, l)
	}
	return out
}

func streamAll(t *testing.T, input string, maxLine int) []Line {
	t.Helper()
	ch := make(chan Line, 64)
	if err := StreamLines(context.Background(), strings.NewReader(input), maxLine, ch); err != nil {
		t.Fatalf("StreamLines: %v", err)
	}
	close(ch)
	return drain(ch)
}

func TestStreamLines(t *testing.T) {
	t.Parallel()

	lines := streamAll(t, "{\"a\":1}\n\n{\"a\":2}\r\n{\"a\":3}", 0)
	want := []string{`{"a":1}`, ``, `{"a":2}`, `{"a":3}`}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines; want %d", len(lines), len(want))
	}
	for i, l := range lines {
		if l.No != int64(i+1) {
			t.Errorf("line %d: No=%d", i, l.No)
		}
		if string(l.Bytes) != want[i] {
			t.Errorf("line %d: %q; want %q", i, l.Bytes, want[i])
		}
		if l.Err != nil {
			t.Errorf("line %d: unexpected Err %v", i, l.Err)
		}
	}
}

func TestStreamLinesEmptyInput(t *testing.T) {
	t.Parallel()

	if lines := streamAll(t, "", 0); len(lines) != 0 {
		t.Fatalf("got %d lines from empty input", len(lines))
	}
}

func TestStreamLinesTooLong(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 100)
	lines := streamAll(t, "12345678\n"+long+"\n{}\n", 8)
	if len(lines) != 3 {
		t.Fatalf("got %d lines; want 3", len(lines))
	}
	if lines[0].Err != nil {
		t.Fatalf("exactly-max line flagged: %v", lines[0].Err)
	}
	if !errors.Is(lines[1].Err, ErrLineTooLong) {
		t.Fatalf("line 2 Err=%v; want ErrLineTooLong", lines[1].Err)
	}
	if len(lines[1].Bytes) != 8 {
		t.Fatalf("truncated length %d; want 8", len(lines[1].Bytes))
	}
	if string(lines[2].Bytes) != "{}" || lines[2].No != 3 {
		t.Fatalf("line after oversized one = %+v", lines[2])
	}
}

// TestStreamLinesBlocksOnFullChannel checks the block policy: the reader waits
// for capacity instead of dropping lines, and returns on cancel.
func TestStreamLinesBlocksOnFullChannel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan Line, 1)
	done := make(chan error, 1)
	go func() { done <- StreamLines(ctx, strings.NewReader("1\n2\n3\n"), 0, ch) }()

	select {
	case err := <-done:
		t.Fatalf("StreamLines returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	if l := <-ch; l.No != 1 {
		t.Fatalf("first line No=%d", l.No)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v; want context.Canceled", err)
	}
}
