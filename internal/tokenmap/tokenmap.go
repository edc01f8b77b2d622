// Package tokenmap owns the association between placeholder tokens and the
// original values they stand for, for a single document session.
//
// Tokens have the shape [ENTITY_TYPE_n] where n is a zero-based counter per
// entity type. Counters only move forward: once a token has been handed out it
// is never reused for a different value, and a value that was tokenized before
// (even if it has since been reverted everywhere) gets its old token back.
//
// Entries are never removed. Reverting the last visible occurrence of a token
// only marks the entry inactive, so the map can still restore that token when
// it shows up in text produced elsewhere (e.g. an LLM response).
//
// A TokenMap is not safe for concurrent use; callers serialize access per
// session.
package tokenmap

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned when an operation names a token the map does not hold.
var ErrNotFound = errors.New("token not found")

// ErrValueConflict is returned by Update when the new original value is
// already represented by a different token.
var ErrValueConflict = errors.New("value already mapped to another token")

// Entry is one token and what it stands for.
type Entry struct {
	Token         string  `json:"token"`
	OriginalValue string  `json:"original_value"`
	EntityType    string  `json:"entity_type"`
	Score         float64 `json:"score"`
	Active        bool    `json:"active"`
}

// Occurrence is one appearance of a token at a concrete [Start, End) byte
// range of a specific sanitized text. The entity type, original value and
// score are copies of the entry's fields for display.
type Occurrence struct {
	Token         string  `json:"token"`
	OriginalValue string  `json:"original_value"`
	EntityType    string  `json:"entity_type"`
	Start         int     `json:"start"`
	End           int     `json:"end"`
	Score         float64 `json:"score"`
}

// TokenMap is the bidirectional token <-> original value record.
type TokenMap struct {
	entries  map[string]*Entry // token -> entry
	order    []string          // tokens in insertion order
	byValue  map[string]string // original value -> token
	counters map[string]int    // entity type -> next ordinal
}

// New returns an empty map.
func New() *TokenMap {
	return &TokenMap{
		entries:  make(map[string]*Entry),
		byValue:  make(map[string]string),
		counters: make(map[string]int),
	}
}

// Reserve returns the token for originalValue, allocating one when the value
// has never been seen. An existing entry is returned unchanged (its score and
// entity type are kept, and an inactive entry stays inactive; see Activate).
// created reports whether a new entry was inserted.
//
// entityType must already be normalized (see NormalizeEntityType).
func (m *TokenMap) Reserve(entityType, originalValue string, score float64) (token string, created bool) {
	if tok, ok := m.byValue[originalValue]; ok {
		return tok, false
	}

	n := m.counters[entityType]
	tok := Format(entityType, n)
	if _, dup := m.entries[tok]; dup {
		// Ordinals are monotonic per type, so this means the map was corrupted.
		panic(fmt.Sprintf("tokenmap: token %s allocated twice", tok))
	}
	m.counters[entityType] = n + 1

	m.entries[tok] = &Entry{
		Token:         tok,
		OriginalValue: originalValue,
		EntityType:    entityType,
		Score:         score,
		Active:        true,
	}
	m.order = append(m.order, tok)
	m.byValue[originalValue] = tok
	return tok, true
}

// Get returns a copy of the entry for token.
func (m *TokenMap) Get(token string) (Entry, bool) {
	if m == nil {
		return Entry{}, false
	}
	e, ok := m.entries[token]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Lookup returns the token currently standing for originalValue.
func (m *TokenMap) Lookup(originalValue string) (string, bool) {
	tok, ok := m.byValue[originalValue]
	return tok, ok
}

// Deactivate marks token as no longer present in the sanitized text.
func (m *TokenMap) Deactivate(token string) error {
	e, ok := m.entries[token]
	if !ok {
		return fmt.Errorf("deactivate %s: %w", token, ErrNotFound)
	}
	e.Active = false
	return nil
}

// Activate marks token as present in the sanitized text again.
func (m *TokenMap) Activate(token string) error {
	e, ok := m.entries[token]
	if !ok {
		return fmt.Errorf("activate %s: %w", token, ErrNotFound)
	}
	e.Active = true
	return nil
}

// Update describes a correction to one entry.
type Update struct {
	Token         string
	OriginalValue string
	EntityType    string
}

// UpdateAll applies the corrections in order. Either every update is applied
// or, on the first error, none is. The token strings themselves never change.
func (m *TokenMap) UpdateAll(updates []Update) error {
	next := m.Clone()
	for _, u := range updates {
		e, ok := next.entries[u.Token]
		if !ok {
			return fmt.Errorf("update %s: %w", u.Token, ErrNotFound)
		}
		if u.OriginalValue != e.OriginalValue {
			if other, taken := next.byValue[u.OriginalValue]; taken && other != u.Token {
				return fmt.Errorf("update %s: %w (%s)", u.Token, ErrValueConflict, other)
			}
			delete(next.byValue, e.OriginalValue)
			next.byValue[u.OriginalValue] = u.Token
			e.OriginalValue = u.OriginalValue
		}
		e.EntityType = u.EntityType
	}
	*m = *next
	return nil
}

// Entries returns copies of all entries in insertion order.
func (m *TokenMap) Entries() []Entry {
	if m == nil {
		return nil
	}
	out := make([]Entry, 0, len(m.order))
	for _, tok := range m.order {
		out = append(out, *m.entries[tok])
	}
	return out
}

// Len returns the number of entries, active or not.
func (m *TokenMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.order)
}

// ActiveCount returns the number of active entries.
func (m *TokenMap) ActiveCount() int {
	n := 0
	for _, e := range m.entries {
		if e.Active {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (m *TokenMap) Clone() *TokenMap {
	c := &TokenMap{
		entries:  make(map[string]*Entry, len(m.entries)),
		order:    append([]string(nil), m.order...),
		byValue:  make(map[string]string, len(m.byValue)),
		counters: make(map[string]int, len(m.counters)),
	}
	for tok, e := range m.entries {
		cp := *e
		c.entries[tok] = &cp
	}
	for v, tok := range m.byValue {
		c.byValue[v] = tok
	}
	for t, n := range m.counters {
		c.counters[t] = n
	}
	return c
}

// Snapshot is the serialized form of a map.
type Snapshot struct {
	Entries  []Entry        `json:"entries"`
	Counters map[string]int `json:"counters"`
}

// Snapshot returns the persistable state of the map.
func (m *TokenMap) Snapshot() Snapshot {
	counters := make(map[string]int, len(m.counters))
	for t, n := range m.counters {
		counters[t] = n
	}
	return Snapshot{Entries: m.Entries(), Counters: counters}
}

// FromSnapshot rebuilds a map. Counters are raised as needed so that they stay
// ahead of every ordinal already in use.
func FromSnapshot(s Snapshot) (*TokenMap, error) {
	m := New()
	for t, n := range s.Counters {
		m.counters[t] = n
	}
	for _, e := range s.Entries {
		typ, n, ok := Parse(e.Token)
		if !ok {
			return nil, fmt.Errorf("restore: malformed token %q", e.Token)
		}
		if _, dup := m.entries[e.Token]; dup {
			return nil, fmt.Errorf("restore: duplicate token %s", e.Token)
		}
		if _, dup := m.byValue[e.OriginalValue]; dup {
			return nil, fmt.Errorf("restore: value of %s mapped twice", e.Token)
		}
		cp := e
		m.entries[e.Token] = &cp
		m.order = append(m.order, e.Token)
		m.byValue[e.OriginalValue] = e.Token
		if m.counters[typ] <= n {
			m.counters[typ] = n + 1
		}
	}
	return m, nil
}

// MarshalJSON encodes the map as its Snapshot.
func (m *TokenMap) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Snapshot())
}

// UnmarshalJSON decodes a Snapshot produced by MarshalJSON.
func (m *TokenMap) UnmarshalJSON(data []byte) error {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	restored, err := FromSnapshot(s)
	if err != nil {
		return err
	}
	*m = *restored
	return nil
}
