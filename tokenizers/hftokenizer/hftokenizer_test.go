package hftokenizer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gpt2bpe/tokenizers/api"
	"github.com/gomlx/gpt2bpe/tokenizers/bpe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test tokenizer.json content for a GPT-2 style BPE model, with merges in the "left right" format.
var testBPETokenizerJSON = []byte(`{
  "version": "1.0",
  "truncation": null,
  "padding": null,
  "added_tokens": [
    {"id": 0, "content": "<|endoftext|>", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true}
  ],
  "normalizer": null,
  "pre_tokenizer": {
    "type": "ByteLevel",
    "add_prefix_space": false,
    "trim_offsets": true,
    "use_regex": true
  },
  "post_processor": null,
  "decoder": {
    "type": "ByteLevel"
  },
  "model": {
    "type": "BPE",
    "dropout": null,
    "unk_token": null,
    "continuing_subword_prefix": "",
    "end_of_word_suffix": "",
    "fuse_unk": false,
    "byte_fallback": false,
    "vocab": {
      "reful": 1,
      "gent": 2,
      "Ġafter": 3,
      "noon": 4,
      "Ġsun": 5
    },
    "merges": ["Ġ a", "Ġ s", "r e", "f u", "g e", "n t", "e r", "n o", "o n", "i g", "h t", "Ġs u",
      "Ġa f", "ge nt", "no on", "re fu", "Ġsu n", "Ġaf t", "refu l", "Ġaft er"]
  }
}`)

// Same model, with merges as pairs and a prefix space added by a pre-tokenizer sequence.
var testPairsTokenizerJSON = []byte(`{
  "version": "1.0",
  "added_tokens": [
    {"id": 0, "content": "<|endoftext|>", "special": true}
  ],
  "normalizer": {"type": "Sequence", "normalizers": [{"type": "NFKC"}]},
  "pre_tokenizer": {
    "type": "Sequence",
    "pretokenizers": [
      {"type": "ByteLevel", "add_prefix_space": true}
    ]
  },
  "model": {
    "type": "BPE",
    "vocab": {"<|endoftext|>": 0, "reful": 1, "gent": 2, "Ġafter": 3, "noon": 4, "Ġsun": 5},
    "merges": [["Ġ", "a"], ["Ġ", "s"], ["r", "e"], ["f", "u"], ["g", "e"], ["n", "t"], ["e", "r"], ["n", "o"],
      ["o", "n"], ["i", "g"], ["h", "t"], ["Ġs", "u"], ["Ġa", "f"], ["ge", "nt"], ["no", "on"], ["re", "fu"],
      ["Ġsu", "n"], ["Ġaf", "t"], ["refu", "l"], ["Ġaft", "er"]]
  }
}`)

func TestParse(t *testing.T) {
	tj, err := Parse(testBPETokenizerJSON)
	require.NoError(t, err)
	assert.True(t, tj.IsByteLevel())
	assert.Len(t, tj.Model.Merges, 20)
	assert.Equal(t, bpe.MergeRule{Left: "Ġaft", Right: "er"}, tj.Model.Merges[19])

	vocab, err := tj.Vocabulary()
	require.NoError(t, err)
	assert.Equal(t, 6, vocab.Size())
	id, found := vocab.TokenToID("<|endoftext|>")
	require.True(t, found)
	assert.Equal(t, 0, id)

	options := tj.Options(bpe.Options{})
	assert.False(t, options.AddPrefixSpace)
	assert.Empty(t, options.Normalization)

	tok, err := tj.NewTokenizer(bpe.Options{})
	require.NoError(t, err)
	got, err := tok.EncodeBatch([]string{" afternoon sun", "refulgent sun"})
	require.NoError(t, err)
	assert.Equal(t, [][]int{{3, 4, 5}, {1, 2, 5}}, got)
}

func TestParse_MergePairs(t *testing.T) {
	tj, err := Parse(testPairsTokenizerJSON)
	require.NoError(t, err)
	assert.Equal(t, bpe.MergeRule{Left: "Ġ", Right: "a"}, tj.Model.Merges[0])

	options := tj.Options(bpe.Options{CacheSize: 10})
	assert.True(t, options.AddPrefixSpace)
	assert.Equal(t, "NFKC", options.Normalization)
	assert.Equal(t, 10, options.CacheSize)

	// An explicit normalization wins over the file's.
	assert.Equal(t, "NFC", tj.Options(bpe.Options{Normalization: "NFC"}).Normalization)

	tok, err := tj.NewTokenizer(bpe.Options{})
	require.NoError(t, err)
	ids, err := tok.Encode("afternoon sun")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 5}, ids)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", `{"model": `},
		{"wordpiece", `{"model": {"type": "WordPiece", "vocab": {"a": 0}}}`},
		{"continuing subword prefix", `{"model": {"type": "BPE", "continuing_subword_prefix": "##", "vocab": {"a": 0}, "merges": []}}`},
		{"byte fallback", `{"model": {"type": "BPE", "byte_fallback": true, "vocab": {"a": 0}, "merges": []}}`},
		{"merge with 3 fields", `{"model": {"type": "BPE", "vocab": {"a": 0}, "merges": ["a b c"]}}`},
		{"merge triple", `{"model": {"type": "BPE", "vocab": {"a": 0}, "merges": [["a", "b", "c"]]}}`},
		{"merge number", `{"model": {"type": "BPE", "vocab": {"a": 0}, "merges": [1]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, api.ErrConfig)
		})
	}
}

func TestVocabulary_AddedTokens(t *testing.T) {
	tj, err := Parse([]byte(`{
  "added_tokens": [{"id": 2, "content": "<|endoftext|>", "special": true}],
  "pre_tokenizer": {"type": "ByteLevel"},
  "model": {"type": "BPE", "vocab": {"a": 0, "b": 1}, "merges": ["a b"]}
}`))
	require.NoError(t, err)
	vocab, err := tj.Vocabulary()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "<|endoftext|>"}, vocab.Tokens())

	tj, err = Parse([]byte(`{
  "added_tokens": [{"id": 1, "content": "a", "special": true}],
  "pre_tokenizer": {"type": "ByteLevel"},
  "model": {"type": "BPE", "vocab": {"a": 0, "b": 1}, "merges": []}
}`))
	require.NoError(t, err)
	_, err = tj.Vocabulary()
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrConfig)
}

func TestVocabulary_LiteralAddedTokens(t *testing.T) {
	tj, err := Parse([]byte(`{
  "added_tokens": [
    {"id": 0, "content": "<|endoftext|>", "special": true},
    {"id": 6, "content": "<｜begin▁of▁sentence｜>", "special": true}
  ],
  "pre_tokenizer": {"type": "ByteLevel"},
  "model": {"type": "BPE", "vocab": {"reful": 1, "gent": 2, "Ġafter": 3, "noon": 4, "Ġsun": 5},
    "merges": ["Ġ a", "Ġ s", "r e", "f u", "g e", "n t", "e r", "n o", "o n", "i g", "h t", "Ġs u",
      "Ġa f", "ge nt", "no on", "re fu", "Ġsu n", "Ġaf t", "refu l", "Ġaft er"]}
}`))
	require.NoError(t, err)
	tok, err := tj.NewTokenizer(bpe.Options{})
	require.NoError(t, err)
	assert.True(t, tok.Vocabulary().IsLiteral(6))

	text, err := tok.Decode([]int{6, 1, 2, 5, 0})
	require.NoError(t, err)
	assert.Equal(t, "<｜begin▁of▁sentence｜>refulgent sun<|endoftext|>", text)
}

func TestNewFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokenizer.json")
	require.NoError(t, os.WriteFile(path, testBPETokenizerJSON, 0o644))

	tok, err := NewFromFile(path, bpe.Options{})
	require.NoError(t, err)
	ids, err := tok.Encode(" afternoon sun")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 5}, ids)
	text, err := tok.Decode(ids)
	require.NoError(t, err)
	assert.Equal(t, " afternoon sun", text)

	_, err = NewFromFile(filepath.Join(dir, "missing.json"), bpe.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrConfig)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
