// Package matrix implements the two-attribute variation grid: canonical cell
// keys, selection rules, grid construction with sticky user intent, and the
// create/delete diff against existing variations.
package matrix

import (
	"errors"
	"strings"
)

// Key format: attr:term|attr:term
//
// Attribute names and term slugs are escaped so that the encoding stays
// injective even if a name contains one of the delimiters:
//
//	\  → \\
//	:  → \:
//	|  → \|
//
// Keys built from plain slugs are identical to the unescaped form.

const (
	pairSep    = '|'
	valueSep   = ':'
	escapeRune = '\\'
)

// ErrMalformedKey is returned by ParseKey for strings that are not a valid
// encoding.
var ErrMalformedKey = errors.New("malformed key")

// Pair is one attribute:term segment of a key.
type Pair struct {
	Attribute string
	Term      string
}

// CellKey identifies one grid cell.
type CellKey string

// NewCellKey builds the key for a cell in fixed (first, second) order.
func NewCellKey(firstAttr, firstSlug, secondAttr, secondSlug string) CellKey {
	return CellKey(EncodePairs([]Pair{
		{Attribute: firstAttr, Term: firstSlug},
		{Attribute: secondAttr, Term: secondSlug},
	}))
}

// EncodePairs joins pairs in the given order.
func EncodePairs(pairs []Pair) string {
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(pairSep)
		}
		writeEscaped(&b, p.Attribute)
		b.WriteByte(valueSep)
		writeEscaped(&b, p.Term)
	}
	return b.String()
}

func writeEscaped(b *strings.Builder, s string) {
	for _, r := range s {
		if r == escapeRune || r == valueSep || r == pairSep {
			b.WriteRune(escapeRune)
		}
		b.WriteRune(r)
	}
}

// ParseKey decodes a key produced by EncodePairs.
func ParseKey(s string) ([]Pair, error) {
	if s == "" {
		return nil, nil
	}

	var (
		pairs   []Pair
		current strings.Builder
		attr    string
		haveSep bool
		escaped bool
	)

	flush := func() error {
		if !haveSep {
			return ErrMalformedKey
		}
		pairs = append(pairs, Pair{Attribute: attr, Term: current.String()})
		current.Reset()
		attr = ""
		haveSep = false
		return nil
	}

	for _, r := range s {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case r == escapeRune:
			escaped = true
		case r == valueSep:
			if haveSep {
				return nil, ErrMalformedKey
			}
			attr = current.String()
			current.Reset()
			haveSep = true
		case r == pairSep:
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			current.WriteRune(r)
		}
	}
	if escaped {
		return nil, ErrMalformedKey
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return pairs, nil
}
