package redact

import (
	"errors"
	"fmt"
)

// ErrEmptySelection is returned when a manual tokenization request names an
// empty or whitespace-only literal.
var ErrEmptySelection = errors.New("selection is empty")

// ErrInvalidEntityType is returned when an entity label normalizes to nothing.
var ErrInvalidEntityType = errors.New("entity type is empty after normalization")

// InvalidSpanError reports a malformed candidate span. Sanitize aborts on the
// first one; no map is created.
type InvalidSpanError struct {
	Index  int
	Span   Span
	Reason string
}

func (e *InvalidSpanError) Error() string {
	return fmt.Sprintf("invalid span %d [%d,%d) %s: %s", e.Index, e.Span.Start, e.Span.End, e.Span.EntityType, e.Reason)
}

// NoMatchError reports that the requested literal could not be found at the
// requested range of the current sanitized text.
type NoMatchError struct {
	Literal    string
	Start, End int
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no untokenized match for %q at [%d,%d)", e.Literal, e.Start, e.End)
}

// SelectionOverlapError reports a manual selection that overlaps a token
// already present in the text.
type SelectionOverlapError struct {
	Token      string
	Start, End int
}

func (e *SelectionOverlapError) Error() string {
	return fmt.Sprintf("selection [%d,%d) overlaps existing token %s; revert it first", e.Start, e.End, e.Token)
}

// TokenNotFoundError reports a token the map has no entry for.
type TokenNotFoundError struct {
	Token string
}

func (e *TokenNotFoundError) Error() string {
	return fmt.Sprintf("token %s not found in map", e.Token)
}

// OccurrenceNotPresentError reports a known token that does not appear in the
// current sanitized text (or not at the requested offset).
type OccurrenceNotPresentError struct {
	Token string
	At    int // -1 when any occurrence was acceptable
}

func (e *OccurrenceNotPresentError) Error() string {
	if e.At < 0 {
		return fmt.Sprintf("token %s does not occur in the sanitized text", e.Token)
	}
	return fmt.Sprintf("token %s does not occur at offset %d", e.Token, e.At)
}

// ValueConflictError reports an entry update whose new value is already
// represented by another token.
type ValueConflictError struct {
	Token string
	Value string
}

func (e *ValueConflictError) Error() string {
	return fmt.Sprintf("cannot update %s: value already has its own token", e.Token)
}
