package model

import (
	"regexp"
	"strings"
	"unicode"
)

var unsafeLabelChars = regexp.MustCompile(`[\\/:"*?<>|]+`)

// sanitize strips characters that are illegal in graph labels and relation
// types, collapsing each run into a single underscore. An input that
// sanitizes to nothing falls back to "Entity".
func sanitize(s string) string {
	s = unsafeLabelChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_ \t\r\n")
	if s == "" {
		return "Entity"
	}
	return s
}

// SanitizeLabel produces a node label safe for interpolation into a graph
// statement. The first letter is upper-cased so labels read as PascalCase.
func SanitizeLabel(s string) string {
	s = sanitize(s)
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// SanitizeRelation produces a relationship type: sanitized and fully
// upper-cased.
func SanitizeRelation(s string) string {
	return strings.ToUpper(sanitize(s))
}
