// Package wtf8 converts between UTF-16 code unit sequences and Go strings
// without losing lone surrogates.
//
// Well-formed code points are encoded as UTF-8. A surrogate code unit that is
// not part of a pair is encoded with the generalized three byte form
// (WTF-8), so every UTF-16 sequence has exactly one Go representation and
// converting it back yields the original code units.
package wtf8

import (
	"errors"
	"fmt"
	"unicode/utf16"
	"unicode/utf8"
)

// ErrInvalid is returned by [ToUTF16] for byte sequences that are neither
// UTF-8 nor WTF-8.
var ErrInvalid = errors.New("wtf8: invalid byte sequence")

const (
	surrHighMin = 0xD800
	surrHighMax = 0xDBFF
	surrLowMin  = 0xDC00
	surrLowMax  = 0xDFFF
)

// FromUTF16 encodes code units as a Go string. Lone surrogates survive as
// three byte WTF-8 sequences.
func FromUTF16(units []uint16) string {
	b := make([]byte, 0, len(units))
	for i := 0; i < len(units); i++ {
		u := rune(units[i])
		switch {
		case u < surrHighMin || u > surrLowMax:
			b = utf8.AppendRune(b, u)
		case u <= surrHighMax && i+1 < len(units) && isLow(rune(units[i+1])):
			b = utf8.AppendRune(b, utf16.DecodeRune(u, rune(units[i+1])))
			i++
		default:
			b = appendSurrogate(b, u)
		}
	}
	return string(b)
}

// ToUTF16 decodes a UTF-8 or WTF-8 string into code units. Bytes that are not
// part of either encoding, and surrogate pairs spelled as two separate WTF-8
// sequences, are rejected so that the conversion never rewrites its input.
func ToUTF16(s string) ([]uint16, error) {
	units := make([]uint16, 0, len(s))
	prevHigh := false
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r != utf8.RuneError || size > 1 {
			units = utf16.AppendRune(units, r)
			prevHigh = false
			i += size
			continue
		}
		u, ok := surrogateAt(s, i)
		if !ok {
			return nil, fmt.Errorf("%w at offset %d", ErrInvalid, i)
		}
		if prevHigh && isLow(u) {
			return nil, fmt.Errorf("%w: encoded surrogate pair at offset %d", ErrInvalid, i)
		}
		units = append(units, uint16(u))
		prevHigh = u <= surrHighMax
		i += 3
	}
	return units, nil
}

// Valid reports whether [ToUTF16] would accept s.
func Valid(s string) bool {
	if utf8.ValidString(s) {
		return true
	}
	_, err := ToUTF16(s)
	return err == nil
}

// HasSurrogates reports whether s contains any WTF-8 surrogate sequence,
// meaning it cannot be handed to APIs that expect well-formed UTF-8.
func HasSurrogates(s string) bool {
	for i := 0; i+2 < len(s); i++ {
		if _, ok := surrogateAt(s, i); ok {
			return true
		}
	}
	return false
}

func isLow(u rune) bool { return u >= surrLowMin && u <= surrLowMax }

func appendSurrogate(b []byte, u rune) []byte {
	return append(b,
		0xE0|byte(u>>12),
		0x80|byte(u>>6)&0x3F,
		0x80|byte(u)&0x3F,
	)
}

// surrogateAt decodes the WTF-8 sequence ED [A0-BF] [80-BF] at s[i:].
func surrogateAt(s string, i int) (rune, bool) {
	if i+2 >= len(s) || s[i] != 0xED {
		return 0, false
	}
	b1, b2 := s[i+1], s[i+2]
	if b1 < 0xA0 || b1 > 0xBF || b2 < 0x80 || b2 > 0xBF {
		return 0, false
	}
	return 0xD000 | rune(b1&0x3F)<<6 | rune(b2&0x3F), true
}
