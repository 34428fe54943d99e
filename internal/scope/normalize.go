package scope

import (
	"fmt"
	"strings"
	"unicode"
)

const schemeDelimiter = "://"

// Normalize canonicalizes an endpoint string for graph membership. It trims
// whitespace, drops the fragment, collapses repeated slashes after the scheme
// delimiter and removes one trailing slash unless only scheme://host remains.
// Normalize(Normalize(x)) == Normalize(x) for every x.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}

	scheme, rest, ok := strings.Cut(s, schemeDelimiter)
	if !ok {
		return s
	}
	s = scheme + schemeDelimiter + collapseSlashes(rest)

	for strings.HasSuffix(s, "/") && strings.Count(s, "/") > 2 {
		trimmed := strings.TrimRightFunc(s[:len(s)-1], unicode.IsSpace)
		if len(trimmed) == len(s)-1 {
			return trimmed
		}
		s = trimmed
	}
	return s
}

// Stringify coerces an arbitrary decoded value into an endpoint string.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func collapseSlashes(s string) string {
	if !strings.Contains(s, "//") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	prev := byte(0)
	for i := 0; i < len(s); i++ {
		if s[i] == '/' && prev == '/' {
			continue
		}
		b.WriteByte(s[i])
		prev = s[i]
	}
	return b.String()
}
