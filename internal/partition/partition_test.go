package partition

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redactflow/internal/tokenmap"
)

func join(segs []Segment) string {
	var b strings.Builder
	for _, s := range segs {
		b.WriteString(s.Text)
	}
	return b.String()
}

func occ(tok string, start, end int) tokenmap.Occurrence {
	return tokenmap.Occurrence{Token: tok, Start: start, End: end}
}

func TestSplit_TokensAndPlainText(t *testing.T) {
	text := "Contact [PERSON_0] at [PHONE_NUMBER_0]."
	occs := []tokenmap.Occurrence{
		occ("[PERSON_0]", 8, 18),
		occ("[PHONE_NUMBER_0]", 22, 38),
	}

	segs := Split(text, occs, nil)
	require.Len(t, segs, 5)

	assert.Equal(t, "Contact ", segs[0].Text)
	assert.False(t, segs[0].IsToken)
	assert.Equal(t, "[PERSON_0]", segs[1].Text)
	assert.True(t, segs[1].IsToken)
	require.NotNil(t, segs[1].TokenInfo)
	assert.Equal(t, "[PERSON_0]", segs[1].TokenInfo.Token)
	assert.Equal(t, " at ", segs[2].Text)
	assert.Equal(t, "[PHONE_NUMBER_0]", segs[3].Text)
	assert.True(t, segs[3].IsToken)
	assert.Equal(t, ".", segs[4].Text)
	assert.Nil(t, segs[4].TokenInfo)

	assert.Equal(t, text, join(segs))
}

func TestSplit_SelectionCrossingToken(t *testing.T) {
	text := "abc [P_0] def"
	occs := []tokenmap.Occurrence{occ("[P_0]", 4, 9)}
	sel := &Selection{Start: 2, End: 6}

	segs := Split(text, occs, sel)

	var got []string
	for _, s := range segs {
		got = append(got, s.Text)
	}
	assert.Equal(t, []string{"ab", "c ", "[P", "_0]", " def"}, got)

	assert.False(t, segs[0].IsSelection)
	assert.True(t, segs[1].IsSelection)
	assert.False(t, segs[1].IsToken)
	assert.True(t, segs[2].IsSelection)
	assert.True(t, segs[2].IsToken)
	assert.False(t, segs[3].IsSelection)
	assert.True(t, segs[3].IsToken)
	assert.Equal(t, text, join(segs))
}

func TestSplit_AdjacentTokens(t *testing.T) {
	text := "[A_0][B_0]"
	segs := Split(text, []tokenmap.Occurrence{occ("[A_0]", 0, 5), occ("[B_0]", 5, 10)}, nil)
	require.Len(t, segs, 2)
	assert.Equal(t, "[A_0]", segs[0].TokenInfo.Token)
	assert.Equal(t, "[B_0]", segs[1].TokenInfo.Token)
}

func TestSplit_FirstContainingOccurrenceWins(t *testing.T) {
	text := "0123456789"
	occs := []tokenmap.Occurrence{occ("[A_0]", 2, 8), occ("[B_0]", 0, 10)}
	segs := Split(text, occs, nil)

	for _, s := range segs {
		require.True(t, s.IsToken)
		if s.Start >= 2 && s.End <= 8 {
			assert.Equal(t, "[A_0]", s.TokenInfo.Token)
		} else {
			assert.Equal(t, "[B_0]", s.TokenInfo.Token)
		}
	}
	assert.Equal(t, text, join(segs))
}

func TestSplit_EmptyAndDegenerate(t *testing.T) {
	assert.Nil(t, Split("", []tokenmap.Occurrence{occ("[A_0]", 0, 3)}, nil))

	segs := Split("hello", nil, &Selection{Start: 3, End: 3})
	require.Len(t, segs, 2)
	assert.False(t, segs[0].IsSelection)
	assert.False(t, segs[1].IsSelection)

	segs = Split("hello", []tokenmap.Occurrence{occ("[A_0]", -4, 99)}, nil)
	require.Len(t, segs, 1)
	assert.True(t, segs[0].IsToken)
	assert.Equal(t, "hello", segs[0].Text)
}

func TestUntokenized(t *testing.T) {
	text := "a [X_0] b [Y_0]"
	segs := Untokenized(text, []tokenmap.Occurrence{occ("[X_0]", 2, 7), occ("[Y_0]", 10, 15)})

	var got []string
	for _, s := range segs {
		got = append(got, s.Text)
	}
	assert.Equal(t, []string{"a ", " b "}, got)
	assert.Equal(t, 7, segs[1].Start)
}

// Joining the segments must reproduce the text for arbitrary span sets,
// including overlapping, nested, empty and out-of-range ones.
func TestSplit_LosslessProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("ab [_]0é漢 ")

	for i := 0; i < 500; i++ {
		n := rng.Intn(40)
		var b strings.Builder
		for j := 0; j < n; j++ {
			b.WriteRune(alphabet[rng.Intn(len(alphabet))])
		}
		text := b.String()

		var occs []tokenmap.Occurrence
		for k := rng.Intn(6); k > 0; k-- {
			s := rng.Intn(len(text)+4) - 2
			e := s + rng.Intn(10) - 2
			occs = append(occs, occ("[T_0]", s, e))
		}
		var sel *Selection
		if rng.Intn(2) == 0 {
			s := rng.Intn(len(text) + 1)
			sel = &Selection{Start: s, End: s + rng.Intn(len(text)+1-s)}
		}

		segs := Split(text, occs, sel)
		require.Equal(t, text, join(segs), "iteration %d", i)

		prev := 0
		for _, s := range segs {
			require.Equal(t, prev, s.Start)
			require.Less(t, s.Start, s.End)
			prev = s.End
		}
		if text != "" {
			require.Equal(t, len(text), prev)
		}
	}
}
