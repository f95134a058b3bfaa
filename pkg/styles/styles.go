// Package styles converts inline emphasis markers in outbound text into the
// plain text plus textStyle spans signal-cli expects.
package styles

import (
	"fmt"
	"unicode/utf16"
)

// Span describes one styled region of the stripped text. Start and Length
// count UTF-16 code units, which is what the receiving client renders
// against; a rune count would misplace spans after astral-plane emoji.
type Span struct {
	Start  int
	Length int
	Style  string
}

// String serializes a span in the wire format "start:length:STYLE".
func (s Span) String() string {
	return fmt.Sprintf("%d:%d:%s", s.Start, s.Length, s.Style)
}

type markerKind struct {
	marker []uint16
	style  string
}

// Kinds are processed in a fixed order: the bold marker is a strict superset
// of the italic marker character, so bold must be consumed before italic or
// **x** would parse as nested italics.
var kinds = []markerKind{
	{utf16.Encode([]rune("`")), "MONOSPACE"},
	{utf16.Encode([]rune("**")), "BOLD"},
	{utf16.Encode([]rune("*")), "ITALIC"},
}

// Transform strips all style markers from text and returns the plain text
// together with the serialized spans describing where each style applies.
// Text without markers is returned unchanged with no spans.
func Transform(text string) (string, []string) {
	units := utf16.Encode([]rune(text))
	var spans []Span

	for _, k := range kinds {
		for {
			start, end, ok := findMarked(units, k.marker)
			if !ok {
				break
			}
			mlen := len(k.marker)
			contentLen := end - start - 2*mlen

			// The opening and closing markers disappear at different
			// positions; each shifts the spans recorded so far
			// independently.
			for i := range spans {
				shiftForRemoval(&spans[i], start, mlen)
			}
			rightPos := end - 2*mlen
			for i := range spans {
				shiftForRemoval(&spans[i], rightPos, mlen)
			}

			spans = append(spans, Span{Start: start, Length: contentLen, Style: k.style})

			stripped := make([]uint16, 0, len(units)-2*mlen)
			stripped = append(stripped, units[:start]...)
			stripped = append(stripped, units[start+mlen:end-mlen]...)
			stripped = append(stripped, units[end:]...)
			units = stripped
		}
	}

	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = s.String()
	}
	return string(utf16.Decode(units)), out
}

// findMarked locates the leftmost, shortest region delimited by marker on
// both sides. Returns the region bounds including both markers.
func findMarked(units, marker []uint16) (start, end int, ok bool) {
	mlen := len(marker)
	for i := 0; i+2*mlen <= len(units); i++ {
		if !hasMarkerAt(units, marker, i) {
			continue
		}
		for j := i + mlen; j+mlen <= len(units); j++ {
			if hasMarkerAt(units, marker, j) {
				return i, j + mlen, true
			}
		}
	}
	return 0, 0, false
}

func hasMarkerAt(units, marker []uint16, pos int) bool {
	for i, u := range marker {
		if units[pos+i] != u {
			return false
		}
	}
	return true
}

func shiftForRemoval(s *Span, removalPos, mlen int) {
	switch {
	case removalPos < s.Start:
		s.Start -= mlen
	case removalPos < s.Start+s.Length:
		s.Length -= mlen
	}
}
