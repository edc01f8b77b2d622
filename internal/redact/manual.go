package redact

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"redactflow/internal/partition"
	"redactflow/internal/tokenmap"
)

// ManualScore is the confidence recorded for user-selected tokens.
const ManualScore = 1.0

// ManualRequest is a user selection to tokenize. Start and End locate the
// selected instance of Literal in the current sanitized text.
type ManualRequest struct {
	Literal    string
	EntityType string
	Start      int
	End        int
	// WholeWord skips matches glued to a letter or digit on either side.
	// The selected instance itself is always tokenized.
	WholeWord bool
}

// ManualResult is the outcome of ManualTokenize.
type ManualResult struct {
	Text        string
	Occurrences []tokenmap.Occurrence
	Token       string
	// Additional counts the matches tokenized besides the selected one.
	Additional int
}

// ManualTokenize tokenizes the selected instance of req.Literal and every
// other instance found in the untokenized parts of text, all with the same
// token. Text covered by occs is never searched.
//
// The map is only touched after every check has passed.
func ManualTokenize(text string, m *tokenmap.TokenMap, occs []tokenmap.Occurrence, req ManualRequest) (*ManualResult, error) {
	if strings.TrimSpace(req.Literal) == "" {
		return nil, ErrEmptySelection
	}
	typ, ok := tokenmap.NormalizeEntityType(req.EntityType)
	if !ok {
		return nil, ErrInvalidEntityType
	}

	if req.Start < 0 || req.End > len(text) || req.Start >= req.End ||
		!runeBoundary(text, req.Start) || !runeBoundary(text, req.End) ||
		text[req.Start:req.End] != req.Literal {
		return nil, &NoMatchError{Literal: req.Literal, Start: req.Start, End: req.End}
	}
	for _, o := range occs {
		if o.Start < req.End && req.Start < o.End {
			return nil, &SelectionOverlapError{Token: o.Token, Start: req.Start, End: req.End}
		}
	}

	matches := findMatches(text, occs, req)

	tok, created := m.Reserve(typ, req.Literal, ManualScore)
	if !created {
		if entry, _ := m.Get(tok); !entry.Active {
			if err := m.Activate(tok); err != nil {
				return nil, err
			}
		}
	}
	entry, _ := m.Get(tok)

	edits := make([]edit, 0, len(matches))
	for _, r := range matches {
		edits = append(edits, edit{start: r[0], end: r[1], repl: tok, occ: occurrenceOf(entry)})
	}
	newText, newOccs := applyEdits(text, occs, edits)

	return &ManualResult{
		Text:        newText,
		Occurrences: newOccs,
		Token:       tok,
		Additional:  len(matches) - 1,
	}, nil
}

// findMatches returns the [start, end) ranges to tokenize, sorted, always
// including the requested one. The requested range is fenced off like a token
// so the left-to-right scan can neither consume it nor overlap it.
func findMatches(text string, occs []tokenmap.Occurrence, req ManualRequest) [][2]int {
	fenced := make([]tokenmap.Occurrence, 0, len(occs)+1)
	fenced = append(fenced, occs...)
	fenced = append(fenced, tokenmap.Occurrence{Start: req.Start, End: req.End})

	matches := [][2]int{{req.Start, req.End}}
	for _, seg := range partition.Untokenized(text, fenced) {
		from := 0
		for {
			i := strings.Index(seg.Text[from:], req.Literal)
			if i < 0 {
				break
			}
			start := seg.Start + from + i
			end := start + len(req.Literal)
			from += i + len(req.Literal)
			if req.WholeWord && !wholeWord(text, start, end) {
				continue
			}
			matches = append(matches, [2]int{start, end})
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i][0] < matches[j][0] })
	return matches
}

func wholeWord(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
