package json

import (
	"errors"
	"testing"
	"time"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	cases := []struct {
		name      string
		line      string
		wantN     int
		wantBlank bool
		wantErr   bool
	}{
		{name: "object", line: `{"a":{"b":1},"c":"x"}`, wantN: 2},
		{name: "root_scalar", line: `42`, wantN: 1},
		{name: "empty_array_no_fields", line: `{"tags":[]}`, wantN: 0},
		{name: "blank", line: "   \t", wantBlank: true},
		{name: "empty", line: "", wantBlank: true},
		{name: "truncated_object", line: `{"a":`, wantErr: true},
		{name: "trailing_garbage", line: `{"a":1} x`, wantErr: true},
		{name: "two_values", line: `{"a":1}{"b":2}`, wantErr: true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			rec, err := Decode(Line{No: 9, Bytes: []byte(c.line), At: at})
			switch {
			case c.wantBlank:
				if !errors.Is(err, ErrBlank) {
					t.Fatalf("err=%v; want ErrBlank", err)
				}
				return
			case c.wantErr:
				var se *SyntaxError
				if !errors.As(err, &se) {
					t.Fatalf("err=%v; want *SyntaxError", err)
				}
				if se.Line != 9 {
					t.Fatalf("SyntaxError.Line=%d; want 9", se.Line)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if rec.Line != 9 || !rec.At.Equal(at) {
				t.Fatalf("record metadata = (%d,%v)", rec.Line, rec.At)
			}
			if len(rec.Fields) != c.wantN {
				t.Fatalf("got %d fields; want %d", len(rec.Fields), c.wantN)
			}
		})
	}
}

func TestDecodeCarriesReadError(t *testing.T) {
	t.Parallel()

	_, err := Decode(Line{No: 3, Bytes: []byte(`{"a":`), Err: ErrLineTooLong})
	if !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("err=%v; want ErrLineTooLong", err)
	}
}

func TestSyntaxErrorOffset(t *testing.T) {
	t.Parallel()

	_, err := Decode(Line{No: 1, Bytes: []byte(`{"a":tru}`)})
	var se *SyntaxError
	if !errors.As(err, &se) {
		t.Fatalf("err=%v", err)
	}
	if se.Offset == 0 {
		t.Fatalf("expected a non-zero offset in %v", se)
	}
}
