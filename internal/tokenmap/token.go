package tokenmap

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// tokenExpr matches one placeholder: "[", an uppercase entity type made of
// underscore-separated words, "_", an ordinal without leading zeros, "]".
const tokenExpr = `\[([A-Z0-9]+(?:_[A-Z0-9]+)*)_(0|[1-9][0-9]*)\]`

var (
	tokenRe      = regexp.MustCompile(tokenExpr)
	tokenExactRe = regexp.MustCompile(`^` + tokenExpr + `$`)
)

// Format renders the placeholder for the given entity type and ordinal.
func Format(entityType string, ordinal int) string {
	return "[" + entityType + "_" + strconv.Itoa(ordinal) + "]"
}

// Parse splits a placeholder into its entity type and ordinal.
// It reports false when s is not exactly one well-formed placeholder.
func Parse(s string) (entityType string, ordinal int, ok bool) {
	m := tokenExactRe.FindStringSubmatch(s)
	if m == nil {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], n, true
}

// Scan returns the [start, end) byte ranges of every token-shaped substring
// in text, left to right. Whether a range names a known entry is up to the
// caller.
func Scan(text string) [][]int {
	return tokenRe.FindAllStringIndex(text, -1)
}

var upper = cases.Upper(language.Und)

// NormalizeEntityType turns a free-form label ("employee id", "Employee-ID")
// into the uppercase-with-underscores form used inside tokens ("EMPLOYEE_ID").
// Characters outside A-Z and 0-9 collapse into single underscores. It reports
// false when nothing usable remains.
func NormalizeEntityType(label string) (string, bool) {
	s := upper.String(strings.TrimSpace(label))

	var b strings.Builder
	b.Grow(len(s))
	pendingSep := false
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	if b.Len() == 0 {
		return "", false
	}
	return b.String(), true
}
