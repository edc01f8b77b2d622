package redact

import (
	"strings"

	"redactflow/internal/tokenmap"
)

// DetokenizeStats counts what Detokenize did.
type DetokenizeStats struct {
	Restored int `json:"restored"`
	Unknown  int `json:"unknown"`
}

// Detokenize replaces every token in text that m knows about, active or not,
// with its original value. Token-shaped strings m does not know are copied
// through unchanged. A nil map restores nothing.
func Detokenize(text string, m *tokenmap.TokenMap) string {
	out, _ := DetokenizeWithStats(text, m)
	return out
}

// DetokenizeWithStats is Detokenize that also reports how many tokens were
// restored and how many were left in place.
func DetokenizeWithStats(text string, m *tokenmap.TokenMap) (string, DetokenizeStats) {
	var stats DetokenizeStats
	found := tokenmap.Scan(text)
	if len(found) == 0 {
		return text, stats
	}

	var b strings.Builder
	b.Grow(len(text))
	cursor := 0
	for _, r := range found {
		entry, ok := m.Get(text[r[0]:r[1]])
		if !ok {
			stats.Unknown++
			continue
		}
		b.WriteString(text[cursor:r[0]])
		b.WriteString(entry.OriginalValue)
		cursor = r[1]
		stats.Restored++
	}
	b.WriteString(text[cursor:])
	return b.String(), stats
}
