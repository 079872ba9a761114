package flatten

import (
	"fmt"
	"strconv"
	"strings"
)

// Names join segments with '.'. Inside an object key '\' is written as `\\`
// and '.' as `\.`; an empty key is written as `\_`. Array indices are plain
// decimal numbers. Escaping never produces any other backslash sequence, so
// callers may use `\` followed by another character as an out-of-band marker.
//
// An object key "0" and array index 0 serialize identically: arrays
// degenerate into indexed paths on purpose.

const (
	escByte  = '\\'
	emptyKey = `\_`
)

var keyEscaper = strings.NewReplacer(`\`, `\\`, `.`, `\.`)

func escapeKey(k string) string {
	if k == "" {
		return emptyKey
	}
	if !strings.ContainsAny(k, `\.`) {
		return k
	}
	return keyEscaper.Replace(k)
}

func join(prefix, seg string) string {
	if prefix == "" {
		return seg
	}
	return prefix + "." + seg
}

// Name serializes p. The empty path serializes to "".
func (p Path) Name() string {
	var sb strings.Builder
	for i, s := range p {
		if i > 0 {
			sb.WriteByte('.')
		}
		if s.IsIndex {
			sb.WriteString(strconv.Itoa(s.Index))
		} else {
			sb.WriteString(escapeKey(s.Key))
		}
	}
	return sb.String()
}

func (p Path) String() string { return p.Name() }

// ParseName splits a serialized name back into its unescaped segments. Index
// segments come back as their decimal text. It rejects empty segments and
// backslash sequences that escaping does not produce.
func ParseName(name string) ([]string, error) {
	if name == "" {
		return nil, nil
	}
	var (
		segs   []string
		cur    strings.Builder
		tokens int  // raw tokens in the current segment
		marker bool // current segment is the empty-key marker
	)
	flush := func() error {
		switch {
		case marker:
			segs = append(segs, "")
		case tokens == 0:
			return fmt.Errorf("flatten: name %q: empty segment", name)
		default:
			segs = append(segs, cur.String())
		}
		cur.Reset()
		tokens, marker = 0, false
		return nil
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '.' {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		if marker {
			return nil, fmt.Errorf("flatten: name %q: empty-key marker inside a segment", name)
		}
		if c != escByte {
			cur.WriteByte(c)
			tokens++
			continue
		}
		if i+1 >= len(name) {
			return nil, fmt.Errorf("flatten: name %q: trailing escape", name)
		}
		i++
		switch next := name[i]; next {
		case '\\', '.':
			cur.WriteByte(next)
			tokens++
		case '_':
			if tokens > 0 {
				return nil, fmt.Errorf("flatten: name %q: empty-key marker inside a segment", name)
			}
			marker = true
		default:
			return nil, fmt.Errorf("flatten: name %q: invalid escape \\%c", name, next)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return segs, nil
}
