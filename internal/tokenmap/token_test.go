package tokenmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatParse(t *testing.T) {
	cases := []struct {
		typ string
		n   int
		tok string
	}{
		{"PERSON", 0, "[PERSON_0]"},
		{"PHONE_NUMBER", 12, "[PHONE_NUMBER_12]"},
		{"UK_NHS", 3, "[UK_NHS_3]"},
		{"ITEM_2", 0, "[ITEM_2_0]"},
	}
	for _, c := range cases {
		assert.Equal(t, c.tok, Format(c.typ, c.n))

		typ, n, ok := Parse(c.tok)
		assert.True(t, ok, c.tok)
		assert.Equal(t, c.typ, typ)
		assert.Equal(t, c.n, n)
	}
}

func TestParse_Rejects(t *testing.T) {
	for _, s := range []string{
		"", "PERSON_0", "[PERSON]", "[person_0]", "[PERSON_01]", "[PERSON_-1]",
		"[_0]", "[PERSON__0]", " [PERSON_0]", "[PERSON_0] ", "[PERSON_0][PERSON_1]",
	} {
		_, _, ok := Parse(s)
		assert.False(t, ok, "%q", s)
	}
}

func TestScan(t *testing.T) {
	text := "Hi [PERSON_0], call [PHONE_NUMBER_0]; not [lower_1] or [X_01]."
	got := Scan(text)

	var found []string
	for _, r := range got {
		found = append(found, text[r[0]:r[1]])
	}
	assert.Equal(t, []string{"[PERSON_0]", "[PHONE_NUMBER_0]"}, found)
}

func TestScan_NestedBrackets(t *testing.T) {
	text := "[[PERSON_0]]"
	got := Scan(text)
	if assert.Len(t, got, 1) {
		assert.Equal(t, []int{1, 11}, got[0])
	}
}

func TestNormalizeEntityType(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"PERSON", "PERSON", true},
		{"employee id", "EMPLOYEE_ID", true},
		{"  Employee-ID  ", "EMPLOYEE_ID", true},
		{"project__code 7", "PROJECT_CODE_7", true},
		{"_leading", "LEADING", true},
		{"straße", "STRASSE", true},
		{"   ", "", false},
		{"---", "", false},
	}
	for _, c := range cases {
		got, ok := NormalizeEntityType(c.in)
		assert.Equal(t, c.ok, ok, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}
