package parser

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var whitespaceRun = regexp.MustCompile(`[ \t\r\f\v]+`)

// Clean normalizes extracted text: soft hyphens are dropped, horizontal
// whitespace runs collapse to a single space, runs of a repeated punctuation
// character collapse to one, and blank lines are removed.
func Clean(text string) string {
	text = strings.ReplaceAll(text, "­", "")
	text = whitespaceRun.ReplaceAllString(text, " ")
	text = collapseRepeats(text)

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// collapseRepeats reduces runs of the same punctuation or symbol rune to a
// single occurrence ("!!!!" -> "!", "————" -> "—"). Word characters are
// untouched.
func collapseRepeats(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var prev rune = -1
	for _, r := range s {
		if r == prev && (unicode.IsPunct(r) || unicode.IsSymbol(r)) {
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

var contentToken = regexp.MustCompile(`[\p{Han}a-zA-Z0-9]{2,}`)

const (
	minMeaningfulRunes  = 100
	minContentTokens    = 10
	maxPunctuationRatio = 0.3
)

// Meaningful gates extracted text before it enters the pipeline. Scanned-only
// PDFs, cover sheets, and decode garbage all fail at least one check.
func Meaningful(text string) bool {
	total := utf8.RuneCountInString(text)
	if total < minMeaningfulRunes {
		return false
	}
	if len(contentToken.FindAllString(text, minContentTokens)) < minContentTokens {
		return false
	}

	punct := 0
	for _, r := range text {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			punct++
		}
	}
	return float64(punct)/float64(total) <= maxPunctuationRatio
}
