// Package hftokenizer loads byte-level BPE tokenizers from HuggingFace's tokenizer.json format.
//
// This format is used by the HuggingFace Tokenizers library (the "fast" tokenizers). Only the "BPE" model
// with byte-level symbols (GPT-2, RoBERTa, GPT-J, ...) is supported: the vocabulary and merges are read from the
// model section, added tokens are merged into the vocabulary, and the ByteLevel pre-tokenizer and unicode
// normalizer settings are translated to bpe.Options.
package hftokenizer

import (
	"encoding/json"

	"github.com/gomlx/gpt2bpe/internal/files"
	"github.com/gomlx/gpt2bpe/tokenizers/api"
	"github.com/gomlx/gpt2bpe/tokenizers/bpe"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// TokenizerJSON represents the parts of HuggingFace's tokenizer.json file used here.
type TokenizerJSON struct {
	Version      string        `json:"version"`
	AddedTokens  []AddedToken  `json:"added_tokens"`
	Normalizer   *Normalizer   `json:"normalizer"`
	PreTokenizer *PreTokenizer `json:"pre_tokenizer"`
	Decoder      *Decoder      `json:"decoder"`
	Model        Model         `json:"model"`
}

// AddedToken represents a token added to the vocabulary after training, usually a special token.
type AddedToken struct {
	ID      int    `json:"id"`
	Content string `json:"content"`
	Special bool   `json:"special"`
}

// Normalizer represents the normalizer configuration.
type Normalizer struct {
	Type        string       `json:"type"`
	Normalizers []Normalizer `json:"normalizers"`
}

// PreTokenizer represents the pre-tokenizer configuration.
type PreTokenizer struct {
	Type           string         `json:"type"`
	AddPrefixSpace bool           `json:"add_prefix_space"`
	PreTokenizers  []PreTokenizer `json:"pretokenizers"`
}

// Decoder represents the decoder configuration.
type Decoder struct {
	Type string `json:"type"`
}

// Model represents the tokenizer model section.
type Model struct {
	Type                    string         `json:"type"`
	Vocab                   map[string]int `json:"vocab"`
	Merges                  Merges         `json:"merges"`
	ContinuingSubwordPrefix string         `json:"continuing_subword_prefix"`
	EndOfWordSuffix         string         `json:"end_of_word_suffix"`
	ByteFallback            bool           `json:"byte_fallback"`
	Dropout                 *float64       `json:"dropout"`
}

// Merges are the merge rules of a BPE model, in priority order.
//
// Older files store each rule as a single "left right" string, newer ones (tokenizers >= 0.20) as a
// ["left", "right"] pair, which allows spaces inside symbols. Both are accepted.
type Merges []bpe.MergeRule

// UnmarshalJSON implements json.Unmarshaler.
func (m *Merges) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "merges must be a list")
	}
	rules := make(Merges, 0, len(raw))
	for i, item := range raw {
		var pair []string
		if err := json.Unmarshal(item, &pair); err == nil {
			if len(pair) != 2 {
				return errors.Errorf("merge #%d must be a pair, got %d elements", i, len(pair))
			}
			rules = append(rules, bpe.MergeRule{Left: pair[0], Right: pair[1]})
			continue
		}
		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			return errors.Errorf("merge #%d must be a string or a pair of strings, got %s", i, item)
		}
		rule, err := bpe.ParseMergeRule(s)
		if err != nil {
			return errors.WithMessagef(err, "merge #%d", i)
		}
		rules = append(rules, rule)
	}
	*m = rules
	return nil
}

// Load reads and parses a tokenizer.json file.
func Load(filePath string) (*TokenizerJSON, error) {
	content, err := files.ReadFile(filePath)
	if err != nil {
		return nil, api.Wrapf(api.ErrConfig, err, "failed to read tokenizer.json file")
	}
	tj, err := Parse(content)
	if err != nil {
		return nil, errors.WithMessagef(err, "file %q", filePath)
	}
	return tj, nil
}

// Parse parses the contents of a tokenizer.json file and checks it holds a byte-level BPE model.
func Parse(content []byte) (*TokenizerJSON, error) {
	var tj TokenizerJSON
	if err := json.Unmarshal(content, &tj); err != nil {
		return nil, api.Wrapf(api.ErrConfig, err, "failed to parse tokenizer.json")
	}
	if tj.Model.Type != "BPE" {
		return nil, api.Errorf(api.ErrConfig, "tokenizer.json model type is %q, only \"BPE\" is supported", tj.Model.Type)
	}
	if tj.Model.ContinuingSubwordPrefix != "" || tj.Model.EndOfWordSuffix != "" || tj.Model.ByteFallback {
		return nil, api.Errorf(api.ErrConfig,
			"tokenizer.json BPE model uses subword prefixes/suffixes or byte fallback, it is not a byte-level BPE")
	}
	if tj.Model.Dropout != nil && *tj.Model.Dropout > 0 {
		klog.Warningf("tokenizer.json BPE dropout %g is ignored: encoding is deterministic", *tj.Model.Dropout)
	}
	if !tj.IsByteLevel() {
		klog.Warningf("tokenizer.json has no ByteLevel pre-tokenizer, the GPT-2 pre-tokenization will be used anyway")
	}
	return &tj, nil
}

// IsByteLevel returns whether the pre-tokenizer is (or contains) a ByteLevel pre-tokenizer.
func (tj *TokenizerJSON) IsByteLevel() bool {
	return findByteLevel(tj.PreTokenizer) != nil
}

func findByteLevel(pt *PreTokenizer) *PreTokenizer {
	if pt == nil {
		return nil
	}
	if pt.Type == "ByteLevel" {
		return pt
	}
	for i := range pt.PreTokenizers {
		if found := findByteLevel(&pt.PreTokenizers[i]); found != nil {
			return found
		}
	}
	return nil
}

// Vocabulary returns the model vocabulary with the added tokens. Added tokens may hold characters outside
// the byte-level alphabet (e.g. full-width special tokens): they decode to their own text.
func (tj *TokenizerJSON) Vocabulary() (*bpe.Vocabulary, error) {
	mapping := make(map[string]int, len(tj.Model.Vocab)+len(tj.AddedTokens))
	addedContents := make([]string, 0, len(tj.AddedTokens))
	for token, id := range tj.Model.Vocab {
		mapping[token] = id
	}
	for _, added := range tj.AddedTokens {
		if id, found := mapping[added.Content]; found && id != added.ID {
			return nil, api.Errorf(api.ErrConfig, "added token %q has id %d, but the model vocabulary gives it id %d",
				added.Content, added.ID, id)
		}
		mapping[added.Content] = added.ID
		addedContents = append(addedContents, added.Content)
	}
	return bpe.NewVocabularyWithAddedTokens(mapping, addedContents)
}

// MergeTable returns the model merge rules.
func (tj *TokenizerJSON) MergeTable() (*bpe.MergeTable, error) {
	return bpe.NewMergeTableFromRules(tj.Model.Merges)
}

// Options returns base with the settings of the file applied: AddPrefixSpace is set if the ByteLevel
// pre-tokenizer sets it, and Normalization is taken from a unicode normalizer if base has none.
// Other normalizers are not supported and are ignored with a warning.
func (tj *TokenizerJSON) Options(base bpe.Options) bpe.Options {
	if byteLevel := findByteLevel(tj.PreTokenizer); byteLevel != nil && byteLevel.AddPrefixSpace {
		base.AddPrefixSpace = true
	}
	if base.Normalization == "" {
		base.Normalization = unicodeNormalization(tj.Normalizer)
	}
	return base
}

func unicodeNormalization(n *Normalizer) string {
	if n == nil {
		return ""
	}
	switch n.Type {
	case "NFC", "NFD", "NFKC", "NFKD":
		return n.Type
	case "Sequence":
		var form string
		for i := range n.Normalizers {
			if f := unicodeNormalization(&n.Normalizers[i]); f != "" {
				form = f
			}
		}
		return form
	default:
		klog.Warningf("tokenizer.json normalizer %q is not supported and will be ignored", n.Type)
		return ""
	}
}

// NewFromFile creates a bpe.Tokenizer from a tokenizer.json file. The file settings are applied to options,
// see TokenizerJSON.Options.
func NewFromFile(filePath string, options bpe.Options) (*bpe.Tokenizer, error) {
	tj, err := Load(filePath)
	if err != nil {
		return nil, err
	}
	return tj.NewTokenizer(options)
}

// NewTokenizer creates a bpe.Tokenizer from the parsed file.
func (tj *TokenizerJSON) NewTokenizer(options bpe.Options) (*bpe.Tokenizer, error) {
	vocab, err := tj.Vocabulary()
	if err != nil {
		return nil, err
	}
	merges, err := tj.MergeTable()
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("tokenizer.json: %d tokens (%d added), %d merges", vocab.Size(), len(tj.AddedTokens), merges.Len())
	return bpe.New(vocab, merges, tj.Options(options))
}
