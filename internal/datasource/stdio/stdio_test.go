package stdio

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestStdinOpen(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "in.ndjson")
	if err := os.WriteFile(p, []byte("{\"a\":1}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(p)
	if err != nil {
		t.Fatal(err)
	}

	rc, err := NewFile(f).Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "{\"a\":1}\n" {
		t.Fatalf("got %q", got)
	}
	if err := rc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestStdinOpenCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().Open(ctx); err != context.Canceled {
		t.Fatalf("err = %v", err)
	}
	if New().String() != "stdin" {
		t.Fatal("unexpected String()")
	}
}
