// Package flatten turns one JSON document into the ordered sequence of its
// scalar leaves, each addressed by the path of object keys and array indices
// that leads to it.
//
// Traversal works directly on the raw bytes with buger/jsonparser, so object
// members are visited in document order and no intermediate map[string]any is
// built. The same document always yields the same sequence.
//
//	{"a":{"b":1},"tags":["x","y"]}
//
// yields
//
//	a.b     integer 1
//	tags.0  string  "x"
//	tags.1  string  "y"
//
// Empty objects and arrays yield nothing.
package flatten

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"strconv"

	"github.com/buger/jsonparser"
)

// Kind classifies a scalar leaf.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindInt:
		return "integer"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a decoded scalar leaf. Only the field matching Kind is meaningful.
type Value struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Float float64
	Str   string

	// Raw is the JSON number literal as it appeared in the input. It is kept
	// so a textual fallback reproduces the source digits exactly.
	Raw string
}

// Null reports whether v carries no value.
func (v Value) Null() bool { return v.Kind == KindNull }

// Interface returns v as nil, bool, int64, float64 or string.
func (v Value) Interface() any {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindString:
		return v.Str
	default:
		return nil
	}
}

// Text renders v in its most permissive representation, used when a value
// cannot be stored under its own type.
func (v Value) Text() string {
	switch v.Kind {
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindInt:
		if v.Raw != "" {
			return v.Raw
		}
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		if v.Raw != "" {
			return v.Raw
		}
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindString:
		return v.Str
	default:
		return ""
	}
}

// Segment is one step of a Path: an object key or an array index.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

// Key returns an object-key segment.
func Key(k string) Segment { return Segment{Key: k} }

// Index returns an array-index segment.
func Index(i int) Segment { return Segment{Index: i, IsIndex: true} }

// Path addresses a leaf from the document root. The empty path is the root
// itself, which only carries a leaf when the whole document is a scalar.
type Path []Segment

// Field is one flattened leaf.
type Field struct {
	// Name is Path serialized with Name(); it is the column name for the leaf.
	Name  string
	Path  Path
	Value Value
}

var errStop = errors.New("flatten: stop")

// Leaves returns the scalar leaves of doc in document order. doc must be a
// single well-formed JSON value; malformed input ends the sequence with an
// error. The sequence stops early when the consumer stops ranging.
func Leaves(doc []byte) iter.Seq2[Field, error] {
	return func(yield func(Field, error) bool) {
		value, typ, _, err := jsonparser.Get(doc)
		if err != nil {
			yield(Field{}, fmt.Errorf("flatten: %w", err))
			return
		}
		w := walker{yield: yield}
		if err := w.walk(value, typ, ""); err != nil && !errors.Is(err, errStop) {
			yield(Field{}, err)
		}
	}
}

// Collect drains Leaves(doc) into a slice.
func Collect(doc []byte) ([]Field, error) {
	var out []Field
	for f, err := range Leaves(doc) {
		if err != nil {
			return out, err
		}
		out = append(out, f)
	}
	return out, nil
}

type walker struct {
	yield func(Field, error) bool
	path  Path
}

func (w *walker) walk(value []byte, typ jsonparser.ValueType, name string) error {
	switch typ {
	case jsonparser.Object:
		return jsonparser.ObjectEach(value, func(key, v []byte, t jsonparser.ValueType, _ int) error {
			k := string(key)
			w.path = append(w.path, Key(k))
			err := w.walk(v, t, join(name, escapeKey(k)))
			w.path = w.path[:len(w.path)-1]
			return err
		})

	case jsonparser.Array:
		var (
			i     int
			inner error
		)
		_, err := jsonparser.ArrayEach(value, func(v []byte, t jsonparser.ValueType, _ int, err error) {
			if inner != nil {
				return
			}
			if err != nil {
				inner = err
				return
			}
			w.path = append(w.path, Index(i))
			inner = w.walk(v, t, join(name, strconv.Itoa(i)))
			w.path = w.path[:len(w.path)-1]
			i++
		})
		if inner != nil {
			return inner
		}
		if err != nil {
			return fmt.Errorf("flatten: %s: %w", displayName(name), err)
		}
		return nil

	default:
		val, err := scalar(value, typ)
		if err != nil {
			return fmt.Errorf("flatten: %s: %w", displayName(name), err)
		}
		if !w.yield(Field{Name: name, Path: slices.Clone(w.path), Value: val}, nil) {
			return errStop
		}
		return nil
	}
}

// scalar decodes a leaf. Numbers without a fraction or exponent are integers
// unless they overflow int64, in which case they are kept as floats.
func scalar(raw []byte, typ jsonparser.ValueType) (Value, error) {
	switch typ {
	case jsonparser.Null:
		return Value{Kind: KindNull}, nil

	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(raw)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindBool, Bool: b}, nil

	case jsonparser.String:
		s, err := jsonparser.ParseString(raw)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindString, Str: s}, nil

	case jsonparser.Number:
		s := string(raw)
		if isIntegerLiteral(s) {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return Value{Kind: KindInt, Int: n, Raw: s}, nil
			}
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, fmt.Errorf("number %q: %w", s, err)
		}
		return Value{Kind: KindFloat, Float: f, Raw: s}, nil

	default:
		return Value{}, fmt.Errorf("unexpected JSON token %s", typ)
	}
}

func isIntegerLiteral(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', 'e', 'E':
			return false
		}
	}
	return true
}

func displayName(name string) string {
	if name == "" {
		return "<root>"
	}
	return name
}
