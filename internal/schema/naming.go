package schema

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/zeebo/xxh3"

	"logparsely/internal/storage"
)

// Physical column names are the logical path names with two additions that
// path escaping can never produce:
//
//	\!name         the name would shadow an engine or metadata column
//	name\#1a2b3c4d the name collides after case folding, or was cut to fit
//	               the identifier limit; the suffix is 32 bits of xxh3
//
// The root scalar (logical name "") lives in storage.ColValue.
const (
	reservedMark = `\!`
	hashMark     = `\#`
	hashLen      = len(hashMark) + 8
)

func hashSuffix(logical string, attempt int) string {
	var h uint64
	if attempt == 0 {
		h = xxh3.HashString(logical)
	} else {
		h = xxh3.HashStringSeed(logical, uint64(attempt))
	}
	return fmt.Sprintf("%s%08x", hashMark, uint32(h))
}

// baseName applies the root and reserved-name rules.
func baseName(d storage.Dialect, logical string) string {
	switch {
	case logical == "":
		return storage.ColValue
	case storage.HasInternalPrefix(d, logical), d.Reserved(logical):
		return reservedMark + logical
	default:
		return logical
	}
}

// fit appends suffix to base, cutting base so the result stays within limit
// bytes. A cut name always carries a suffix. limit <= 0 means unlimited.
func fit(base, suffix string, limit int, logical string) string {
	if limit <= 0 || len(base)+len(suffix) <= limit {
		return base + suffix
	}
	if suffix == "" {
		suffix = hashSuffix(logical, 0)
	}
	cut := limit - len(suffix)
	for cut > 0 && !utf8.RuneStart(base[cut]) {
		cut--
	}
	// Never leave half of an escape sequence behind.
	return strings.TrimRight(base[:cut], `\`) + suffix
}

// LogicalName recovers the logical path name from a physical column name
// produced by the Registry. Names with a cut prefix cannot be recovered this
// way; backends that cut names keep the logical name alongside the column.
func LogicalName(ident string) string {
	if ident == storage.ColValue {
		return ""
	}
	s := ident
	if strings.HasPrefix(s, reservedMark) {
		s = s[len(reservedMark):]
	}
	if n := len(s); n >= hashLen && s[n-hashLen:n-hashLen+len(hashMark)] == hashMark &&
		isHex(s[n-8:]) && oddBackslashRun(s, n-hashLen) {
		s = s[:n-hashLen]
	}
	return s
}

// oddBackslashRun reports whether the run of backslashes ending at s[i] has
// odd length, i.e. s[i] starts a marker rather than closing an escaped `\\`.
func oddBackslashRun(s string, i int) bool {
	n := 0
	for j := i; j >= 0 && s[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}
