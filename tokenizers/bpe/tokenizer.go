// Package bpe implements byte-level Byte-Pair Encoding (BPE) tokenization, as used by GPT-2 and RoBERTa.
//
// A Tokenizer is built from a Vocabulary (token <-> id) and a MergeTable (ordered merge rules). Encoding splits
// the text into chunks with the GPT-2 pre-tokenization pattern, maps each chunk's bytes to byte-level symbols
// (see package bytelevel), merges adjacent symbols by rule priority and maps the resulting subwords to ids.
// Decoding reverses each step.
//
// Tokenizers are safe for concurrent use: the tables are immutable, and the chunk cache is synchronized.
package bpe

import (
	"context"
	"runtime"
	"strings"
	"unicode/utf8"

	"github.com/gomlx/gpt2bpe/tokenizers/api"
	"github.com/gomlx/gpt2bpe/tokenizers/bytelevel"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"
	"k8s.io/klog/v2"
)

// Options configure a Tokenizer. The zero value is the GPT-2 behavior.
type Options struct {
	// CacheSize is the number of chunks whose merge results are memoized (LRU).
	// 0 selects DefaultCacheSize, and a negative value disables the cache.
	CacheSize int

	// AddPrefixSpace prepends a space to texts that don't start with one, so the first word is
	// tokenized like any other word of a sentence.
	AddPrefixSpace bool

	// Normalization is an optional unicode normalization applied before tokenization: "NFC", "NFD", "NFKC"
	// or "NFKD". Empty means none. When set, Decode returns the normalized text and the spans of
	// EncodeWithSpans refer to the normalized text.
	Normalization string

	// Workers is the maximum number of texts EncodeBatch encodes in parallel.
	// 0 selects runtime.GOMAXPROCS(0).
	Workers int
}

// Tokenizer is a byte-level BPE tokenizer.
type Tokenizer struct {
	vocab   *Vocabulary
	merges  *MergeTable
	cache   *chunkCache
	options Options
	norm    *norm.Form
}

// New creates a Tokenizer from a vocabulary and a merge table.
func New(vocab *Vocabulary, merges *MergeTable, options Options) (*Tokenizer, error) {
	if vocab == nil || merges == nil {
		return nil, api.Errorf(api.ErrConfig, "both a vocabulary and a merge table are required")
	}
	form, err := parseNormalization(options.Normalization)
	if err != nil {
		return nil, err
	}
	cache, err := newChunkCache(options.CacheSize)
	if err != nil {
		return nil, api.Wrapf(api.ErrConfig, err, "invalid cache size")
	}
	if options.Workers <= 0 {
		options.Workers = runtime.GOMAXPROCS(0)
	}
	t := &Tokenizer{
		vocab:   vocab,
		merges:  merges,
		cache:   cache,
		options: options,
		norm:    form,
	}
	if missing := t.missingAlphabet(); len(missing) > 0 {
		klog.Warningf("vocabulary lacks %d of the %d byte-level symbols (e.g. %q): texts containing those bytes may fail to encode",
			len(missing), bytelevel.NumBytes, missing[0])
	}
	return t, nil
}

// NewFromMappings creates a Tokenizer from an in-memory vocabulary (token -> id) and merge rules
// ("left right", in priority order).
func NewFromMappings(vocab map[string]int, merges []string, options Options) (*Tokenizer, error) {
	v, err := NewVocabulary(vocab)
	if err != nil {
		return nil, err
	}
	m, err := NewMergeTable(merges)
	if err != nil {
		return nil, err
	}
	return New(v, m, options)
}

// NewFromFiles creates a Tokenizer from a vocabulary file (vocab.json) and a merges file (merges.txt).
func NewFromFiles(vocabPath, mergesPath string, options Options) (*Tokenizer, error) {
	v, err := LoadVocabulary(vocabPath)
	if err != nil {
		return nil, err
	}
	m, err := LoadMergeTable(mergesPath)
	if err != nil {
		return nil, err
	}
	return New(v, m, options)
}

func parseNormalization(name string) (*norm.Form, error) {
	var form norm.Form
	switch strings.ToUpper(name) {
	case "":
		return nil, nil
	case "NFC":
		form = norm.NFC
	case "NFD":
		form = norm.NFD
	case "NFKC":
		form = norm.NFKC
	case "NFKD":
		form = norm.NFKD
	default:
		return nil, api.Errorf(api.ErrConfig, "unknown normalization %q, valid values are NFC, NFD, NFKC and NFKD", name)
	}
	return &form, nil
}

// missingAlphabet returns the single-byte symbols absent from the vocabulary.
func (t *Tokenizer) missingAlphabet() []string {
	var missing []string
	for _, symbol := range bytelevel.Alphabet() {
		if !t.vocab.Contains(symbol) {
			missing = append(missing, symbol)
		}
	}
	return missing
}

// Vocabulary returns the tokenizer's vocabulary.
func (t *Tokenizer) Vocabulary() *Vocabulary { return t.vocab }

// Merges returns the tokenizer's merge table.
func (t *Tokenizer) Merges() *MergeTable { return t.merges }

// Options returns the options the tokenizer was created with, with defaults filled in.
func (t *Tokenizer) Options() Options { return t.options }

// VocabularySize returns the number of tokens in the vocabulary.
func (t *Tokenizer) VocabularySize() int { return t.vocab.Size() }

// TokenToID returns the id of a token (in byte-level symbols, e.g. "Ġsun"), and false if it is unknown.
func (t *Tokenizer) TokenToID(token string) (int, bool) { return t.vocab.TokenToID(token) }

// IDToToken returns the token of id, or an api.ErrLookup error if id is out of range.
func (t *Tokenizer) IDToToken(id int) (string, error) { return t.vocab.IDToToken(id) }

// CacheLen returns the number of chunks currently memoized.
func (t *Tokenizer) CacheLen() int { return t.cache.len() }

// PurgeCache drops all memoized chunks.
func (t *Tokenizer) PurgeCache() { t.cache.purge() }

// prepare applies the prefix space and the normalization to text.
func (t *Tokenizer) prepare(text string) (prepared string, prefixed bool) {
	if t.norm != nil {
		text = t.norm.String(text)
	}
	if t.options.AddPrefixSpace && text != "" && text[0] != ' ' {
		return " " + text, true
	}
	return text, false
}

// encodeChunk runs the BPE engine on one pre-tokenized chunk, using the cache.
func (t *Tokenizer) encodeChunk(text string) (*word, error) {
	if w, found := t.cache.get(text); found {
		return w, nil
	}
	pieces, _ := mergeSymbols(initialSymbols(bytelevel.EncodeString(text)), t.merges)
	w := &word{pieces: pieces, ids: make([]int, len(pieces))}
	for i, piece := range pieces {
		id, found := t.vocab.TokenToID(piece)
		if !found {
			return nil, api.Errorf(api.ErrTokenNotFound, "subword %q of chunk %q", piece, text)
		}
		w.ids[i] = id
	}
	t.cache.add(text, w)
	return w, nil
}

// encode is the common implementation of Encode, Tokenize and EncodeWithSpans.
// For each word it calls fn with the chunk it came from.
func (t *Tokenizer) encode(text string, fn func(c chunk, w *word)) error {
	chunks, err := preTokenize(text)
	if err != nil {
		return err
	}
	for _, c := range chunks {
		w, err := t.encodeChunk(c.text)
		if err != nil {
			return err
		}
		fn(c, w)
	}
	return nil
}

// Encode converts text to a flat sequence of token ids.
//
// It returns an api.ErrTokenNotFound error if a subword has no id, which can't happen with a well-formed
// vocabulary: those contain every single byte-level symbol.
func (t *Tokenizer) Encode(text string) ([]int, error) {
	text, _ = t.prepare(text)
	ids := make([]int, 0, len(text)/3+1)
	err := t.encode(text, func(_ chunk, w *word) {
		ids = append(ids, w.ids...)
	})
	if err != nil {
		return nil, err
	}
	if klog.V(3).Enabled() {
		klog.Infof("encoded %d bytes into %d tokens", len(text), len(ids))
	}
	return ids, nil
}

// Tokenize converts text to its subwords, in byte-level symbols (e.g. ["Ġafter", "noon"] for " afternoon").
func (t *Tokenizer) Tokenize(text string) ([]string, error) {
	text, _ = t.prepare(text)
	var pieces []string
	err := t.encode(text, func(_ chunk, w *word) {
		pieces = append(pieces, w.pieces...)
	})
	if err != nil {
		return nil, err
	}
	return pieces, nil
}

// EncodeWithSpans is like Encode, and also returns the byte span of each token in text.
//
// Byte-level tokens always cover whole bytes, so spans are exact; a token may cover only part of a
// multi-byte character, though. The prefix space added by Options.AddPrefixSpace belongs to no span:
// the first token's span starts at 0.
func (t *Tokenizer) EncodeWithSpans(text string) (api.EncodingResult, error) {
	prepared, prefixed := t.prepare(text)
	shift := 0
	if prefixed {
		shift = 1
	}
	var result api.EncodingResult
	err := t.encode(prepared, func(c chunk, w *word) {
		pos := c.start
		for i, piece := range w.pieces {
			end := pos + utf8.RuneCountInString(piece)
			result.IDs = append(result.IDs, w.ids[i])
			result.Spans = append(result.Spans, api.TokenSpan{Start: max(pos-shift, 0), End: end - shift})
			pos = end
		}
	})
	if err != nil {
		return api.EncodingResult{}, err
	}
	return result, nil
}

// EncodeBatch encodes each text independently, returning one sequence of ids per text, in order.
func (t *Tokenizer) EncodeBatch(texts []string) ([][]int, error) {
	return t.EncodeBatchContext(context.Background(), texts)
}

// EncodeBatchContext is like EncodeBatch, encoding up to Options.Workers texts in parallel.
// It stops at the first error, or when ctx is cancelled.
func (t *Tokenizer) EncodeBatchContext(ctx context.Context, texts []string) ([][]int, error) {
	results := make([][]int, len(texts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(t.options.Workers)
	for i, text := range texts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ids, err := t.Encode(text)
			if err != nil {
				return errors.WithMessagef(err, "batch element #%d", i)
			}
			results[i] = ids
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// DecodeBytes converts token ids to the raw bytes they stand for, without checking they form valid UTF-8.
// This is what streaming consumers need: a multi-byte character may be split across tokens.
//
// Literal added tokens (see Vocabulary.IsLiteral) contribute their own text.
func (t *Tokenizer) DecodeBytes(ids []int) ([]byte, error) {
	var (
		out     []byte
		pending strings.Builder
	)
	for _, id := range ids {
		token, err := t.vocab.IDToToken(id)
		if err != nil {
			return nil, err
		}
		// Non-literal tokens are verified to be byte-level symbols at load time, so Decode can't panic.
		if !t.vocab.IsLiteral(id) {
			pending.WriteString(token)
			continue
		}
		out = append(out, bytelevel.Decode(pending.String())...)
		pending.Reset()
		out = append(out, token...)
	}
	return append(out, bytelevel.Decode(pending.String())...), nil
}

// Decode converts token ids back to text.
//
// It returns an api.ErrLookup error for ids out of the vocabulary range, and an api.ErrDecode error if the
// bytes are not valid UTF-8, which only happens for sequences not produced by Encode (e.g. truncated ones).
func (t *Tokenizer) Decode(ids []int) (string, error) {
	raw, err := t.DecodeBytes(ids)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", api.Errorf(api.ErrDecode, "decoding %d token ids", len(ids))
	}
	return string(raw), nil
}

// DecodeBatch decodes each sequence of ids.
func (t *Tokenizer) DecodeBatch(batch [][]int) ([]string, error) {
	texts := make([]string, len(batch))
	for i, ids := range batch {
		text, err := t.Decode(ids)
		if err != nil {
			return nil, errors.WithMessagef(err, "batch element #%d", i)
		}
		texts[i] = text
	}
	return texts, nil
}
