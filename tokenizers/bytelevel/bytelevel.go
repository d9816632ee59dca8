// Package bytelevel implements the reversible byte-to-unicode mapping used by GPT-2 style byte-level BPE.
//
// Every byte value 0..255 is assigned a printable unicode character, so any byte sequence can be written as
// ordinary text (e.g. in a vocab.json file) and mapped back exactly. Printable ASCII and printable Latin-1
// bytes map to themselves; the remaining 68 byte values are assigned, in ascending byte order, to the code
// points 256, 257, ... The space byte, for instance, becomes 'Ġ' (U+0120) and the newline 'Ċ' (U+010A).
//
// The table is the canonical one: vocabularies and merge files trained elsewhere depend on it bit-for-bit.
package bytelevel

import (
	"strings"
	"unicode/utf8"

	"github.com/gomlx/gpt2bpe/tokenizers/api"
	"github.com/pkg/errors"
)

// NumBytes is the number of entries in the mapping.
const NumBytes = 256

var (
	byteToRune [NumBytes]rune

	// runeToByte is indexed by rune; -1 marks runes outside the image.
	runeToByte []int16
)

func init() {
	n := 0
	maxRune := rune(0)
	for b := 0; b < NumBytes; b++ {
		if isPrintableByte(byte(b)) {
			byteToRune[b] = rune(b)
		} else {
			byteToRune[b] = rune(NumBytes + n)
			n++
		}
		maxRune = max(maxRune, byteToRune[b])
	}

	runeToByte = make([]int16, maxRune+1)
	for i := range runeToByte {
		runeToByte[i] = -1
	}
	for b, r := range byteToRune {
		runeToByte[r] = int16(b)
	}
}

// isPrintableByte reports whether b maps to itself: '!'..'~', '¡'..'¬' and '®'..'ÿ'.
func isPrintableByte(b byte) bool {
	return (b >= '!' && b <= '~') || (b >= 0xA1 && b <= 0xAC) || (b >= 0xAE)
}

// ByteToRune returns the character assigned to byte b.
func ByteToRune(b byte) rune {
	return byteToRune[b]
}

// RuneToByte returns the byte that r stands for, and false if r is not in the image of the mapping.
func RuneToByte(r rune) (byte, bool) {
	if r < 0 || int(r) >= len(runeToByte) {
		return 0, false
	}
	b := runeToByte[r]
	if b < 0 {
		return 0, false
	}
	return byte(b), true
}

// IsMapped reports whether every rune of s is in the image of the mapping, that is, whether s could
// have been produced by Encode.
func IsMapped(s string) bool {
	for _, r := range s {
		if _, ok := RuneToByte(r); !ok {
			return false
		}
	}
	return true
}

// Encode maps each byte of raw to its character. The result has exactly len(raw) runes.
func Encode(raw []byte) string {
	var sb strings.Builder
	sb.Grow(2 * len(raw))
	for _, b := range raw {
		sb.WriteRune(byteToRune[b])
	}
	return sb.String()
}

// EncodeString is like Encode, for the UTF-8 bytes of s.
func EncodeString(s string) string {
	var sb strings.Builder
	sb.Grow(2 * len(s))
	for i := 0; i < len(s); i++ {
		sb.WriteRune(byteToRune[s[i]])
	}
	return sb.String()
}

// TryDecode is the inverse of Encode. It returns an error if s contains a character that Encode never
// produces.
func TryDecode(s string) ([]byte, error) {
	out := make([]byte, 0, utf8.RuneCountInString(s))
	for i, r := range s {
		b, ok := RuneToByte(r)
		if !ok {
			return nil, errors.Errorf("character %q (U+%04X) at byte %d is not a byte-level symbol", r, r, i)
		}
		out = append(out, b)
	}
	return out, nil
}

// Decode is the inverse of Encode.
//
// It panics if s contains a character outside the mapping: such a string did not come from Encode,
// which is a misuse of the package and not an input error.
func Decode(s string) []byte {
	out, err := TryDecode(s)
	if err != nil {
		panic(api.Wrapf(api.ErrContractViolation, err, "bytelevel.Decode"))
	}
	return out
}

// Alphabet returns the 256 single-character strings of the mapping, ordered by the byte they stand for.
// A well-formed byte-level vocabulary contains all of them.
func Alphabet() []string {
	alphabet := make([]string, NumBytes)
	for b, r := range byteToRune {
		alphabet[b] = string(r)
	}
	return alphabet
}
