package api

import (
	"unicode/utf16"

	"redactflow/internal/config"
	"redactflow/internal/service"
	"redactflow/internal/tokenmap"
)

// offsetIndex translates between the API's offset unit and the byte offsets
// used internally, for one text. In byte mode both directions are identity.
type offsetIndex struct {
	utf16  bool
	toByte []int // code unit -> byte; -1 between the halves of a surrogate pair
	toUnit []int // byte -> code unit; -1 inside a multi-byte character
}

func newOffsetIndex(text, unit string) *offsetIndex {
	ix := &offsetIndex{utf16: unit == config.OffsetUTF16}
	if !ix.utf16 {
		return ix
	}

	ix.toUnit = make([]int, len(text)+1)
	for i := range ix.toUnit {
		ix.toUnit[i] = -1
	}
	ix.toByte = make([]int, 0, len(text)+1)

	u := 0
	for b, r := range text {
		ix.toUnit[b] = u
		ix.toByte = append(ix.toByte, b)
		if utf16.RuneLen(r) == 2 {
			ix.toByte = append(ix.toByte, -1)
			u += 2
		} else {
			u++
		}
	}
	ix.toUnit[len(text)] = u
	ix.toByte = append(ix.toByte, len(text))
	return ix
}

// bytes converts an API offset to a byte offset. It returns -1 when off is
// outside the text or splits a character, which every operation rejects.
func (ix *offsetIndex) bytes(off int) int {
	if !ix.utf16 {
		return off
	}
	if off < 0 || off >= len(ix.toByte) {
		return -1
	}
	return ix.toByte[off]
}

// units converts a byte offset on a character boundary to an API offset.
func (ix *offsetIndex) units(b int) int {
	if !ix.utf16 || b < 0 || b >= len(ix.toUnit) {
		return b
	}
	return ix.toUnit[b]
}

func (ix *offsetIndex) occurrences(occs []tokenmap.Occurrence) []tokenmap.Occurrence {
	out := make([]tokenmap.Occurrence, len(occs))
	for i, o := range occs {
		o.Start, o.End = ix.units(o.Start), ix.units(o.End)
		out[i] = o
	}
	return out
}

// offsets returns the request-to-byte conversion handed to the service, which
// applies it to the session text under the session lock. The index is built
// once per distinct text.
func (s *Server) offsets() service.OffsetFunc {
	if s.cfg.OffsetUnit != config.OffsetUTF16 {
		return nil
	}
	var (
		last string
		ix   *offsetIndex
	)
	return func(text string, off int) int {
		if ix == nil || text != last {
			last, ix = text, newOffsetIndex(text, config.OffsetUTF16)
		}
		return ix.bytes(off)
	}
}
