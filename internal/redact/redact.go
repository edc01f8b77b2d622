// Package redact implements the reversible text transformations: replacing
// sensitive spans with tokens (Sanitize, ManualTokenize), putting single
// occurrences back (Revert) and restoring tokens in arbitrary text
// (Detokenize).
//
// All offsets are byte offsets into Go strings and always refer to the text
// the function was given. Every operation computes its complete result before
// touching the token map, so an error leaves the map exactly as it was.
package redact

import (
	"sort"
	"strings"

	"redactflow/internal/tokenmap"
)

// Span is a candidate sensitive range of the original text, as produced by a
// detector.
type Span struct {
	Start      int     `json:"start"`
	End        int     `json:"end"`
	EntityType string  `json:"entity_type"`
	Score      float64 `json:"score"`
}

// edit replaces text[start:end] with repl. When occ is non-nil the
// replacement is a new token occurrence.
type edit struct {
	start, end int
	repl       string
	occ        *tokenmap.Occurrence
}

// applyEdits rewrites text and returns the new text with every occurrence
// (kept ones and those created by edits) in new-text coordinates, sorted by
// start. Edits must not overlap each other or any kept occurrence.
func applyEdits(text string, kept []tokenmap.Occurrence, edits []edit) (string, []tokenmap.Occurrence) {
	sort.Slice(edits, func(i, j int) bool { return edits[i].start < edits[j].start })
	kept = sortedOccurrences(kept)

	var b strings.Builder
	b.Grow(len(text))
	out := make([]tokenmap.Occurrence, 0, len(kept)+len(edits))

	cursor, delta, k := 0, 0, 0
	for _, e := range edits {
		for ; k < len(kept) && kept[k].Start < e.start; k++ {
			out = append(out, shifted(kept[k], delta))
		}
		b.WriteString(text[cursor:e.start])
		at := e.start + delta
		b.WriteString(e.repl)
		if e.occ != nil {
			o := *e.occ
			o.Start, o.End = at, at+len(e.repl)
			out = append(out, o)
		}
		delta += len(e.repl) - (e.end - e.start)
		cursor = e.end
	}
	for ; k < len(kept); k++ {
		out = append(out, shifted(kept[k], delta))
	}
	b.WriteString(text[cursor:])
	return b.String(), out
}

func shifted(o tokenmap.Occurrence, delta int) tokenmap.Occurrence {
	o.Start += delta
	o.End += delta
	return o
}

func sortedOccurrences(occs []tokenmap.Occurrence) []tokenmap.Occurrence {
	out := append([]tokenmap.Occurrence(nil), occs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// occurrenceOf builds the display copy of entry for a new occurrence.
func occurrenceOf(e tokenmap.Entry) *tokenmap.Occurrence {
	return &tokenmap.Occurrence{
		Token:         e.Token,
		OriginalValue: e.OriginalValue,
		EntityType:    e.EntityType,
		Score:         e.Score,
	}
}
