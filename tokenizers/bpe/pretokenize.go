package bpe

import (
	"unicode/utf8"

	"github.com/dlclark/regexp2"
	"github.com/pkg/errors"
)

// SplitPattern is the GPT-2 pre-tokenization pattern: contractions, runs of letters, runs of digits and runs of
// other symbols (each optionally preceded by one space), and whitespace. The `\s+(?!\S)` alternative leaves
// the last space of a whitespace run to prefix the following word.
//
// It must match the pattern the vocabulary was trained with byte-for-byte, which is why it uses regexp2:
// Go's regexp package has no lookahead.
const SplitPattern = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`

var splitRegexp = regexp2.MustCompile(SplitPattern, regexp2.None)

// chunk is a pre-tokenized piece of the input text: text[start:end].
type chunk struct {
	text       string
	start, end int
}

// preTokenize splits text into chunks using the GPT-2 pattern. Chunks cover text without gaps or overlaps.
//
// regexp2 works on runes, so offsets are translated back to byte offsets of the original string. Invalid
// UTF-8 bytes become single-byte runes and are kept verbatim in the chunks.
func preTokenize(text string) ([]chunk, error) {
	if text == "" {
		return nil, nil
	}

	runes := make([]rune, 0, len(text))
	byteOffsets := make([]int, 0, len(text)+1)
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		runes = append(runes, r)
		byteOffsets = append(byteOffsets, i)
		i += size
	}
	byteOffsets = append(byteOffsets, len(text))

	chunks := make([]chunk, 0, len(runes)/4+1)
	emit := func(runeStart, runeEnd int) {
		start, end := byteOffsets[runeStart], byteOffsets[runeEnd]
		chunks = append(chunks, chunk{text: text[start:end], start: start, end: end})
	}

	offset := 0
	m, err := splitRegexp.FindRunesMatch(runes)
	for ; m != nil && err == nil; m, err = splitRegexp.FindNextMatch(m) {
		if m.Index > offset {
			emit(offset, m.Index)
		}
		emit(m.Index, m.Index+m.Length)
		offset = m.Index + m.Length
	}
	if err != nil {
		return nil, errors.Wrap(err, "pre-tokenization failed")
	}
	if offset < len(runes) {
		emit(offset, len(runes))
	}
	return chunks, nil
}
