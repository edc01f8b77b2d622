package redact

import (
	"sort"
	"unicode/utf8"

	"redactflow/internal/tokenmap"
)

// Result is the outcome of Sanitize.
type Result struct {
	Text        string
	Map         *tokenmap.TokenMap
	Occurrences []tokenmap.Occurrence
}

// Sanitize replaces the accepted candidate spans of original with tokens and
// returns the tokenized text, a fresh map and the occurrences in sanitized
// text coordinates, left to right.
//
// Every span is validated before anything is built; the first malformed one
// aborts the call with an *InvalidSpanError. Overlaps are resolved by
// ResolveOverlaps. Identical substrings share one token.
func Sanitize(original string, spans []Span) (*Result, error) {
	normalized := make([]Span, len(spans))
	for i, sp := range spans {
		if err := validateSpan(original, i, sp); err != nil {
			return nil, err
		}
		typ, ok := tokenmap.NormalizeEntityType(sp.EntityType)
		if !ok {
			return nil, &InvalidSpanError{Index: i, Span: sp, Reason: "empty entity type"}
		}
		sp.EntityType = typ
		sp.Score = clampScore(sp.Score)
		normalized[i] = sp
	}

	m := tokenmap.New()
	accepted := ResolveOverlaps(normalized)
	edits := make([]edit, 0, len(accepted))
	for _, sp := range accepted {
		tok, _ := m.Reserve(sp.EntityType, original[sp.Start:sp.End], sp.Score)
		entry, _ := m.Get(tok)
		edits = append(edits, edit{start: sp.Start, end: sp.End, repl: tok, occ: occurrenceOf(entry)})
	}

	text, occs := applyEdits(original, nil, edits)
	return &Result{Text: text, Map: m, Occurrences: occs}, nil
}

// ResolveOverlaps picks a non-overlapping subset of spans: sorted by start
// ascending then end descending, a span is kept only if it starts at or after
// the end of the last kept one. Earlier and then longer spans win; among
// identical ranges the first in input order wins.
func ResolveOverlaps(spans []Span) []Span {
	sorted := append([]Span(nil), spans...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End > sorted[j].End
	})

	out := make([]Span, 0, len(sorted))
	cursor := 0
	for _, sp := range sorted {
		if sp.Start < cursor {
			continue
		}
		out = append(out, sp)
		cursor = sp.End
	}
	return out
}

func validateSpan(text string, i int, sp Span) error {
	switch {
	case sp.Start < 0 || sp.End < 0:
		return &InvalidSpanError{Index: i, Span: sp, Reason: "negative offset"}
	case sp.Start >= sp.End:
		return &InvalidSpanError{Index: i, Span: sp, Reason: "start must be before end"}
	case sp.End > len(text):
		return &InvalidSpanError{Index: i, Span: sp, Reason: "end beyond text"}
	case !runeBoundary(text, sp.Start) || !runeBoundary(text, sp.End):
		return &InvalidSpanError{Index: i, Span: sp, Reason: "offset splits a UTF-8 sequence"}
	}
	return nil
}

func runeBoundary(s string, i int) bool {
	return i == 0 || i == len(s) || utf8.RuneStart(s[i])
}

func clampScore(s float64) float64 {
	switch {
	case s < 0 || s != s:
		return 0
	case s > 1:
		return 1
	}
	return s
}
