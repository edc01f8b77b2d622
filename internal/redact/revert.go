package redact

import (
	"strings"

	"redactflow/internal/tokenmap"
)

// RevertResult is the outcome of Revert.
type RevertResult struct {
	Text        string
	Occurrences []tokenmap.Occurrence
	// Remaining is the number of occurrences of the token left in Text.
	Remaining int
	// Deactivated reports whether the map entry was marked inactive.
	Deactivated bool
}

// Revert restores the first occurrence of token in text to its original
// value. Other occurrences of the same token are left alone.
func Revert(text string, m *tokenmap.TokenMap, occs []tokenmap.Occurrence, token string) (*RevertResult, error) {
	return RevertAt(text, m, occs, token, -1)
}

// RevertAt restores the occurrence of token starting at byte offset at, or the
// first one when at is negative. Occurrences after it are shifted by the
// length difference. When no instance of the token is left in the text the
// entry is deactivated; the entry itself is kept.
func RevertAt(text string, m *tokenmap.TokenMap, occs []tokenmap.Occurrence, token string, at int) (*RevertResult, error) {
	entry, ok := m.Get(token)
	if !ok {
		return nil, &TokenNotFoundError{Token: token}
	}

	sorted := sortedOccurrences(occs)
	target := -1
	for i, o := range sorted {
		if o.Token == token && (at < 0 || o.Start == at) && inText(text, o) {
			target = i
			break
		}
	}

	var start int
	kept := sorted
	if target >= 0 {
		start = sorted[target].Start
		kept = append(append([]tokenmap.Occurrence(nil), sorted[:target]...), sorted[target+1:]...)
	} else {
		// The token may appear in the text without being tracked, e.g. after
		// the caller edited the text by hand.
		start = untrackedIndex(text, sorted, token, at)
		if start < 0 {
			return nil, &OccurrenceNotPresentError{Token: token, At: at}
		}
	}

	newText, newOccs := applyEdits(text, kept, []edit{{start: start, end: start + len(token), repl: entry.OriginalValue}})

	remaining := 0
	for _, o := range newOccs {
		if o.Token == token {
			remaining++
		}
	}
	deactivate := remaining == 0 && !strings.Contains(newText, token)
	if deactivate {
		if err := m.Deactivate(token); err != nil {
			return nil, err
		}
	}

	return &RevertResult{
		Text:        newText,
		Occurrences: newOccs,
		Remaining:   remaining,
		Deactivated: deactivate,
	}, nil
}

func inText(text string, o tokenmap.Occurrence) bool {
	return o.Start >= 0 && o.End <= len(text) && o.Start < o.End && text[o.Start:o.End] == o.Token
}

// untrackedIndex finds token in text outside every tracked occurrence.
func untrackedIndex(text string, occs []tokenmap.Occurrence, token string, at int) int {
	free := func(i int) bool {
		for _, o := range occs {
			if o.Start < i+len(token) && i < o.End {
				return false
			}
		}
		return true
	}

	if at >= 0 {
		if at+len(token) <= len(text) && text[at:at+len(token)] == token && free(at) {
			return at
		}
		return -1
	}

	from := 0
	for {
		i := strings.Index(text[from:], token)
		if i < 0 {
			return -1
		}
		if free(from + i) {
			return from + i
		}
		from += i + 1
	}
}
