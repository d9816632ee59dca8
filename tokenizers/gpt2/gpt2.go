// Package gpt2 implements the GPT-2 tokenizer: a byte-level BPE tokenizer whose vocabulary has the
// "<|endoftext|>" special token.
//
// It can be created from vocab.json/merges.txt files, a HuggingFace tokenizer.json, a GGUF model file, or a
// named preset resolved by a hub.Registry:
//
//	tok, err := gpt2.NewFromFiles("vocab.json", "merges.txt", bpe.Options{})
//	ids, err := tok.Encode("The quick brown fox.")
//	text, err := tok.Decode(ids)
package gpt2

import (
	"context"

	"github.com/gomlx/gpt2bpe/hub"
	"github.com/gomlx/gpt2bpe/tokenizers/api"
	"github.com/gomlx/gpt2bpe/tokenizers/bpe"
	"github.com/gomlx/gpt2bpe/tokenizers/gguf"
	"github.com/gomlx/gpt2bpe/tokenizers/hftokenizer"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// EndToken is the end-of-text special token, used by GPT-2 both to separate documents and as padding.
const EndToken = "<|endoftext|>"

// Tokenizer is a GPT-2 tokenizer. All the bpe.Tokenizer methods are available.
type Tokenizer struct {
	*bpe.Tokenizer
	endTokenID int
}

// Compile time assert that Tokenizer implements the api interfaces.
var (
	_ api.Tokenizer          = (*Tokenizer)(nil)
	_ api.BatchTokenizer     = (*Tokenizer)(nil)
	_ api.TokenizerWithSpans = (*Tokenizer)(nil)
)

// Wrap creates a GPT-2 Tokenizer from a byte-level BPE tokenizer. It fails with api.ErrConfig if the
// vocabulary has no EndToken.
func Wrap(tok *bpe.Tokenizer) (*Tokenizer, error) {
	id, found := tok.TokenToID(EndToken)
	if !found {
		return nil, api.Errorf(api.ErrConfig, "the vocabulary (%d tokens) has no %q token", tok.VocabularySize(), EndToken)
	}
	return &Tokenizer{Tokenizer: tok, endTokenID: id}, nil
}

func wrapOrError(tok *bpe.Tokenizer, err error) (*Tokenizer, error) {
	if err != nil {
		return nil, err
	}
	return Wrap(tok)
}

// New creates a GPT-2 Tokenizer from a vocabulary and a merge table.
func New(vocab *bpe.Vocabulary, merges *bpe.MergeTable, options bpe.Options) (*Tokenizer, error) {
	return wrapOrError(bpe.New(vocab, merges, options))
}

// NewFromMappings creates a GPT-2 Tokenizer from an in-memory vocabulary (token -> id) and merge rules
// ("left right", in priority order).
func NewFromMappings(vocab map[string]int, merges []string, options bpe.Options) (*Tokenizer, error) {
	return wrapOrError(bpe.NewFromMappings(vocab, merges, options))
}

// NewFromFiles creates a GPT-2 Tokenizer from a vocab.json and a merges.txt file.
func NewFromFiles(vocabPath, mergesPath string, options bpe.Options) (*Tokenizer, error) {
	return wrapOrError(bpe.NewFromFiles(vocabPath, mergesPath, options))
}

// NewFromHFTokenizer creates a GPT-2 Tokenizer from a HuggingFace tokenizer.json file.
func NewFromHFTokenizer(path string, options bpe.Options) (*Tokenizer, error) {
	return wrapOrError(hftokenizer.NewFromFile(path, options))
}

// NewFromGGUF creates a GPT-2 Tokenizer from the tokenizer stored in a GGUF model file.
func NewFromGGUF(path string, options bpe.Options) (*Tokenizer, error) {
	return wrapOrError(gguf.NewFromFile(path, options))
}

// EndTokenID returns the id of EndToken.
func (t *Tokenizer) EndTokenID() int { return t.endTokenID }

// SpecialTokenID implements api.Tokenizer. GPT-2 has a single special token: the beginning, end and unknown
// tokens all resolve to EndToken. Other special tokens return an api.ErrLookup error.
func (t *Tokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	switch token {
	case api.TokBeginningOfSentence, api.TokEndOfSentence, api.TokUnknown:
		return t.endTokenID, nil
	default:
		return 0, api.Errorf(api.ErrLookup, "GPT-2 has no %s token", token)
	}
}

// FromPreset creates the GPT-2 Tokenizer of a named preset (e.g. "gpt2_base_en"), resolved by registry.
//
// If the preset has a configuration with add_prefix_space set, options.AddPrefixSpace is set too. A nil
// registry returns an api.ErrNotImplemented error, and an unknown name an api.ErrLookup error.
func FromPreset(ctx context.Context, registry hub.Registry, name string, options bpe.Options) (*Tokenizer, error) {
	if registry == nil {
		return nil, api.Errorf(api.ErrNotImplemented, "FromPreset(%q) requires a preset registry", name)
	}
	preset, err := registry.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	if preset.Config != nil {
		if preset.Config.AddPrefixSpace {
			options.AddPrefixSpace = true
		}
		if eos := string(preset.Config.EosToken); eos != "" && eos != EndToken {
			klog.Warningf("preset %q declares end-of-sequence token %q, %q will be used", name, eos, EndToken)
		}
	}
	tok, err := NewFromFiles(preset.VocabularyFile, preset.MergesFile, options)
	if err != nil {
		return nil, errors.WithMessagef(err, "preset %q", name)
	}
	return tok, nil
}

// Presets returns the names of the presets available in registry. A nil registry returns an
// api.ErrNotImplemented error.
func Presets(registry hub.Registry) ([]string, error) {
	if registry == nil {
		return nil, api.Errorf(api.ErrNotImplemented, "listing presets requires a preset registry")
	}
	return registry.Presets(), nil
}
