package detector

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"redactflow/internal/logger"
	"redactflow/internal/redact"
)

// pattern pairs a compiled regex with the entity type it reports.
type pattern struct {
	re         *regexp.Regexp
	entityType string
	score      float64
	valid      func(string) bool // optional post-match check
}

// Regex detects structured identifiers with regular expressions.
type Regex struct {
	patterns []pattern
}

// NewRegex compiles the built-in patterns. A pattern that fails to compile is
// logged and skipped.
func NewRegex(log *logger.Logger) *Regex {
	specs := []struct {
		expr       string
		entityType string
		score      float64
		valid      func(string) bool
	}{
		{`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`, "EMAIL_ADDRESS", 1.0, nil},
		{`\bhttps?://[^\s<>"'\]\[]+[^\s<>"'\]\[.,;:!?)]`, "URL", 0.6, nil},
		{`(\+?1?[\-.\s]?)?\(?([0-9]{3})\)?[\-.\s]?([0-9]{3})[\-.\s]?([0-9]{4})\b`, "PHONE_NUMBER", 0.75, nil},
		{`\b\d{3}-\d{2}-\d{4}\b`, "US_SSN", 0.85, nil},
		{`\b\d{9}\b`, "US_BANK_ACCOUNT_NUMBER", 0.99, nil},
		{`\b(?:\d{4}[\-\s]?){3}\d{4}\b`, "CREDIT_CARD", 1.0, luhn},
		{`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`, "IP_ADDRESS", 0.95, validIPv4},
		{`\b[A-Z]{2}[0-9]{2}(?:\s?[A-Z0-9]{4}){2,7}(?:\s?[A-Z0-9]{1,4})?\b`, "IBAN", 1.0, nil},
		{`\b(?:bc1|[13])[a-km-zA-HJ-NP-Z1-9]{25,39}\b`, "CRYPTO", 0.5, nil},
		{`(?i)\b\d+\s+[A-Za-z]+(?:\s+[A-Za-z]+)*\s+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct)\b`, "LOCATION", 0.7, nil},
	}

	r := &Regex{}
	for _, s := range specs {
		re, err := regexp.Compile(s.expr)
		if err != nil {
			log.Warnf("regex_compile", "could not compile pattern %q: %v", s.expr, err)
			continue
		}
		r.patterns = append(r.patterns, pattern{re: re, entityType: s.entityType, score: s.score, valid: s.valid})
	}
	return r
}

// EntityTypes lists the types this detector can report.
func (r *Regex) EntityTypes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range r.patterns {
		if !seen[p.entityType] {
			seen[p.entityType] = true
			out = append(out, p.entityType)
		}
	}
	return out
}

// Detect implements Detector. Spans of different patterns may overlap.
func (r *Regex) Detect(ctx context.Context, text string) ([]redact.Span, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var spans []redact.Span
	for _, p := range r.patterns {
		for _, m := range p.re.FindAllStringIndex(text, -1) {
			start, end := trimSpace(text, m[0], m[1])
			if start >= end {
				continue
			}
			if p.valid != nil && !p.valid(text[start:end]) {
				continue
			}
			spans = append(spans, redact.Span{Start: start, End: end, EntityType: p.entityType, Score: p.score})
		}
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })
	return spans, nil
}

// trimSpace narrows [start, end) so it neither starts nor ends with white space.
func trimSpace(text string, start, end int) (int, int) {
	for start < end {
		r, n := utf8.DecodeRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		start += n
	}
	for end > start {
		r, n := utf8.DecodeLastRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		end -= n
	}
	return start, end
}

// luhn reports whether the digits of s pass the Luhn checksum.
func luhn(s string) bool {
	sum, n := 0, 0
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c < '0' || c > '9' {
			continue
		}
		d := int(c - '0')
		if n%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		n++
	}
	return n >= 12 && sum%10 == 0
}

func validIPv4(s string) bool {
	for _, part := range strings.Split(s, ".") {
		n, err := strconv.Atoi(part)
		if err != nil || n > 255 || (len(part) > 1 && part[0] == '0') {
			return false
		}
	}
	return true
}
