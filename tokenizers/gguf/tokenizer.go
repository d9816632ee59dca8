package gguf

import (
	"github.com/gomlx/gpt2bpe/tokenizers/api"
	"github.com/gomlx/gpt2bpe/tokenizers/bpe"
	"k8s.io/klog/v2"
)

// Tokenizer metadata keys, as written by llama.cpp's convert scripts.
const (
	KeyTokenizerModel  = "tokenizer.ggml.model"
	KeyTokenizerPre    = "tokenizer.ggml.pre"
	KeyTokens          = "tokenizer.ggml.tokens"
	KeyMerges          = "tokenizer.ggml.merges"
	KeyEOSTokenID      = "tokenizer.ggml.eos_token_id"
	KeyAddSpacePrefix  = "tokenizer.ggml.add_space_prefix"
	byteLevelBPEModel  = "gpt2"
	defaultPreTokenize = "default"
)

// TokenizerMetadata is the byte-level BPE tokenizer stored in a GGUF file.
type TokenizerMetadata struct {
	// Pre is the pre-tokenizer name ("default" or "gpt-2" for the GPT-2 pattern).
	Pre string

	// Tokens are the vocabulary tokens, indexed by id.
	Tokens []string

	// Merges are the merge rules, "left right", in priority order.
	Merges []string

	// EOSTokenID is the end-of-sequence token id, or -1 if not set.
	EOSTokenID int

	// AddSpacePrefix is whether a space is prepended to the text.
	AddSpacePrefix bool
}

// Tokenizer extracts the tokenizer from the metadata. It returns an api.ErrConfig error if there is none, or
// if it is not a byte-level BPE ("gpt2") tokenizer.
func (md *Metadata) Tokenizer() (*TokenizerMetadata, error) {
	model, found := md.Get(KeyTokenizerModel)
	if !found {
		return nil, api.Errorf(api.ErrConfig, "GGUF metadata has no %q key, it holds no tokenizer", KeyTokenizerModel)
	}
	if model.String() != byteLevelBPEModel {
		return nil, api.Errorf(api.ErrConfig, "GGUF tokenizer model is %q, only %q (byte-level BPE) is supported",
			model.String(), byteLevelBPEModel)
	}
	tm := &TokenizerMetadata{Pre: defaultPreTokenize, EOSTokenID: -1}
	if v, found := md.Get(KeyTokenizerPre); found {
		tm.Pre = v.String()
	}
	if tm.Pre != defaultPreTokenize && tm.Pre != "gpt-2" {
		klog.Warningf("GGUF pre-tokenizer %q is not supported, the GPT-2 pre-tokenization will be used", tm.Pre)
	}

	v, _ := md.Get(KeyTokens)
	if tm.Tokens = v.Strings(); len(tm.Tokens) == 0 {
		return nil, api.Errorf(api.ErrConfig, "GGUF key %q is missing or not a list of strings", KeyTokens)
	}
	v, found = md.Get(KeyMerges)
	if tm.Merges = v.Strings(); found && tm.Merges == nil {
		return nil, api.Errorf(api.ErrConfig, "GGUF key %q is not a list of strings", KeyMerges)
	}
	if v, found := md.Get(KeyEOSTokenID); found {
		id, ok := v.Int()
		if !ok || id < 0 || id >= int64(len(tm.Tokens)) {
			return nil, api.Errorf(api.ErrConfig, "GGUF key %q has invalid value %v", KeyEOSTokenID, v.Raw())
		}
		tm.EOSTokenID = int(id)
	}
	if v, found := md.Get(KeyAddSpacePrefix); found {
		tm.AddSpacePrefix = v.Bool()
	}
	return tm, nil
}

// Vocabulary returns the vocabulary: each token's id is its index.
func (tm *TokenizerMetadata) Vocabulary() (*bpe.Vocabulary, error) {
	return bpe.NewVocabularyFromTokens(tm.Tokens)
}

// MergeTable returns the merge rules.
func (tm *TokenizerMetadata) MergeTable() (*bpe.MergeTable, error) {
	return bpe.NewMergeTable(tm.Merges)
}

// NewTokenizer creates a bpe.Tokenizer. AddSpacePrefix from the file is applied to options.
func (tm *TokenizerMetadata) NewTokenizer(options bpe.Options) (*bpe.Tokenizer, error) {
	vocab, err := tm.Vocabulary()
	if err != nil {
		return nil, err
	}
	merges, err := tm.MergeTable()
	if err != nil {
		return nil, err
	}
	options.AddPrefixSpace = options.AddPrefixSpace || tm.AddSpacePrefix
	klog.V(1).Infof("GGUF tokenizer: %d tokens, %d merges", vocab.Size(), merges.Len())
	return bpe.New(vocab, merges, options)
}

// NewFromFile creates a bpe.Tokenizer from the tokenizer stored in a GGUF file.
func NewFromFile(path string, options bpe.Options) (*bpe.Tokenizer, error) {
	tm, err := ReadTokenizerFile(path)
	if err != nil {
		return nil, err
	}
	return tm.NewTokenizer(options)
}

// ReadTokenizerFile reads the metadata of a GGUF file and extracts its tokenizer.
func ReadTokenizerFile(path string) (*TokenizerMetadata, error) {
	md, err := ReadMetadataFile(path)
	if err != nil {
		return nil, err
	}
	return md.Tokenizer()
}
