package command

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"
)

func TestCommandReadsStdout(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	src := New(`printf '{"a":1}\n{"a":2}\n'; echo oops >&2`, Options{Stderr: &stderr})
	rc, err := src.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := rc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if string(got) != "{\"a\":1}\n{\"a\":2}\n" {
		t.Fatalf("stdout = %q", got)
	}
	if !strings.Contains(stderr.String(), "oops") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestCommandExitStatus(t *testing.T) {
	t.Parallel()

	rc, err := New("echo x; exit 3", Options{Stderr: io.Discard}).Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := io.ReadAll(rc); err != nil {
		t.Fatalf("read: %v", err)
	}
	err = rc.Close()
	if err == nil || !strings.Contains(err.Error(), "exit status 3") {
		t.Fatalf("Close err = %v, want exit status 3", err)
	}
	// Close is idempotent.
	if again := rc.Close(); again != err {
		t.Fatalf("second Close = %v", again)
	}
}

func TestCommandCloseKillsRunningChild(t *testing.T) {
	t.Parallel()

	rc, err := New("echo first; sleep 60", Options{Stderr: io.Discard}).Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	buf := make([]byte, 6)
	if _, err := io.ReadFull(rc, buf); err != nil {
		t.Fatalf("read: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- rc.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close after kill = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Close did not return")
	}
}

func TestCommandCancelStopsChild(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	rc, err := New("sleep 60", Options{Stderr: io.Discard}).Open(ctx)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	cancel()

	// The killed child closes its end of the pipe.
	if _, err := io.ReadAll(rc); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := rc.Close(); err != nil {
		t.Fatalf("Close after cancel = %v", err)
	}
}

func TestCommandString(t *testing.T) {
	t.Parallel()

	if got := New("tail -f x", Options{}).String(); got != "command:tail -f x" {
		t.Fatalf("String() = %q", got)
	}
}
