// Package match decides whether e-mail content satisfies a profile's criteria.
//
// Text is compared on a folded projection: mojibake is repaired first, then
// accents are stripped and case is folded, so "Proximos" matches "Próximos"
// and "PrÃ³ximos" alike.
package match

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxRepairPasses bounds repeated repair of text encoded more than once.
const maxRepairPasses = 3

const (
	latin1Min = 0x80
	latin1Max = 0xFF
)

// NormalizedText keeps the forms of one piece of text.
type NormalizedText struct {
	// Original is the input as received.
	Original string
	// Repaired is the input with mojibake undone, accents intact, for display.
	Repaired string
	// Folded is the accent-stripped, case-folded, whitespace-collapsed form used for comparison.
	Folded string
}

// Normalize repairs and folds s.
func Normalize(s string) NormalizedText {
	repaired := RepairMojibake(s)

	return NormalizedText{
		Original: s,
		Repaired: repaired,
		Folded:   Fold(repaired),
	}
}

// RepairMojibake undoes UTF-8 text that was decoded as Latin-1 or
// Windows-1252, such as "PrÃ³ximos" for "Próximos". Runs of non-ASCII runes
// are mapped back to their single-byte values and every valid multi-byte
// UTF-8 sequence found in those bytes is decoded. Runes that do not take part
// in a valid sequence are kept as they are.
func RepairMojibake(s string) string {
	for range maxRepairPasses {
		next, changed := repairPass(s)
		if !changed {
			break
		}

		s = next
	}

	return s
}

func repairPass(s string) (string, bool) {
	if isASCII(s) || !utf8.ValidString(s) {
		return s, false
	}

	src := []rune(s)

	var (
		b       strings.Builder
		changed bool
	)

	b.Grow(len(s))

	for i := 0; i < len(src); {
		if src[i] < utf8.RuneSelf {
			b.WriteRune(src[i])
			i++

			continue
		}

		raw := make([]byte, 0, len(src)-i)

		j := i
		for ; j < len(src); j++ {
			c, ok := legacyByte(src[j])
			if !ok {
				break
			}

			raw = append(raw, c)
		}

		if j == i {
			b.WriteRune(src[i])
			i++

			continue
		}

		for k := 0; k < len(raw); {
			r, size := utf8.DecodeRune(raw[k:])
			if r != utf8.RuneError && size > 1 {
				b.WriteRune(r)
				k += size
				changed = true

				continue
			}

			b.WriteRune(src[i+k])
			k++
		}

		i = j
	}

	return b.String(), changed
}

// legacyByte maps a rune to the byte a single-byte decoder would have read.
func legacyByte(r rune) (byte, bool) {
	if r >= latin1Min && r <= latin1Max {
		return byte(r), true
	}

	c, ok := charmap.Windows1252.EncodeRune(r)
	if !ok || c < latin1Min {
		return 0, false
	}

	return c, true
}

// Fold strips combining marks, folds case and collapses whitespace.
// A new transformer and caser are built per call; neither is safe for
// concurrent use.
func Fold(s string) string {
	stripped, _, err := transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		stripped = s
	}

	folded := cases.Fold().String(stripped)

	return strings.Join(strings.Fields(folded), " ")
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}

	return true
}
