// Package partition splits a text into display segments given the token
// occurrences in it and an optional selection range.
//
// Segments tile the text: in order, with no gaps and no overlaps, so joining
// their Text fields gives back the input exactly.
package partition

import (
	"sort"

	"redactflow/internal/tokenmap"
)

// Selection is a [Start, End) byte range the user currently has highlighted.
type Selection struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Segment is one contiguous run of the partitioned text.
type Segment struct {
	Text        string               `json:"text"`
	IsToken     bool                 `json:"is_token"`
	IsSelection bool                 `json:"is_selection"`
	TokenInfo   *tokenmap.Occurrence `json:"token_info,omitempty"`

	Start int `json:"-"`
	End   int `json:"-"`
}

// Split partitions text at every occurrence and selection boundary.
//
// A segment is a token segment when some occurrence fully contains it; the
// first such occurrence in input order is attached as TokenInfo. It is a
// selection segment when sel fully contains it. Boundaries outside the text
// are clamped, so Split never loses or duplicates bytes.
func Split(text string, occs []tokenmap.Occurrence, sel *Selection) []Segment {
	if text == "" {
		return nil
	}

	points := make([]int, 0, 2*len(occs)+4)
	points = append(points, 0, len(text))
	for _, o := range occs {
		points = append(points, clamp(o.Start, len(text)), clamp(o.End, len(text)))
	}
	if sel != nil {
		points = append(points, clamp(sel.Start, len(text)), clamp(sel.End, len(text)))
	}
	sort.Ints(points)

	segments := make([]Segment, 0, len(points))
	for i := 0; i+1 < len(points); i++ {
		a, b := points[i], points[i+1]
		if a == b {
			continue
		}
		seg := Segment{Text: text[a:b], Start: a, End: b}
		for j := range occs {
			if occs[j].Start <= a && b <= occs[j].End {
				seg.IsToken = true
				o := occs[j]
				seg.TokenInfo = &o
				break
			}
		}
		if sel != nil && sel.Start <= a && b <= sel.End {
			seg.IsSelection = true
		}
		segments = append(segments, seg)
	}
	return segments
}

// Untokenized returns the segments of text not covered by any occurrence.
func Untokenized(text string, occs []tokenmap.Occurrence) []Segment {
	var out []Segment
	for _, seg := range Split(text, occs, nil) {
		if !seg.IsToken {
			out = append(out, seg)
		}
	}
	return out
}

func clamp(v, n int) int {
	if v < 0 {
		return 0
	}
	if v > n {
		return n
	}
	return v
}
