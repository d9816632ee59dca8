package bpe

import (
	"encoding/json"

	"github.com/gomlx/gpt2bpe/internal/files"
	"github.com/gomlx/gpt2bpe/tokenizers/api"
	"github.com/gomlx/gpt2bpe/tokenizers/bytelevel"
	"k8s.io/klog/v2"
)

// Vocabulary is a bidirectional mapping between subword tokens and integer ids.
//
// Ids are unique and dense over [0, Size()): every id has exactly one token. This is verified once, when the
// vocabulary is created, and a Vocabulary is immutable afterwards, so it is safe for concurrent use.
//
// Tokens are made of byte-level symbols, except literal tokens: added tokens (e.g. special tokens of a
// tokenizer.json) holding other characters. BPE never produces literal tokens, and they decode to their own
// text.
type Vocabulary struct {
	tokenToID map[string]int
	idToToken []string
	literal   map[int]bool
}

// NewVocabulary creates a Vocabulary from a token->id mapping. The mapping is copied.
//
// It returns an error (api.ErrConfig) if the mapping is empty, if ids are negative, duplicated or not dense,
// or if a token contains characters that are not byte-level symbols (see package bytelevel).
func NewVocabulary(tokenToID map[string]int) (*Vocabulary, error) {
	return newVocabulary(tokenToID, nil)
}

// NewVocabularyWithAddedTokens is like NewVocabulary, but the tokens listed in added, which must be in
// tokenToID, may contain characters that are not byte-level symbols. Those become literal tokens.
func NewVocabularyWithAddedTokens(tokenToID map[string]int, added []string) (*Vocabulary, error) {
	addedSet := make(map[string]bool, len(added))
	for _, token := range added {
		if _, found := tokenToID[token]; !found {
			return nil, api.Errorf(api.ErrConfig, "added token %q is not in the vocabulary", token)
		}
		addedSet[token] = true
	}
	return newVocabulary(tokenToID, addedSet)
}

func newVocabulary(tokenToID map[string]int, added map[string]bool) (*Vocabulary, error) {
	if len(tokenToID) == 0 {
		return nil, api.Errorf(api.ErrConfig, "vocabulary is empty")
	}
	size := len(tokenToID)
	v := &Vocabulary{
		tokenToID: make(map[string]int, size),
		idToToken: make([]string, size),
	}
	assigned := make([]bool, size)
	for token, id := range tokenToID {
		if id < 0 || id >= size {
			return nil, api.Errorf(api.ErrConfig, "vocabulary ids must be dense in [0, %d), token %q has id %d", size, token, id)
		}
		if assigned[id] {
			return nil, api.Errorf(api.ErrConfig, "vocabulary id %d is assigned to both %q and %q", id, v.idToToken[id], token)
		}
		if token == "" {
			return nil, api.Errorf(api.ErrConfig, "vocabulary has an empty token (id %d)", id)
		}
		if !bytelevel.IsMapped(token) {
			if !added[token] {
				return nil, api.Errorf(api.ErrConfig, "vocabulary token %q (id %d) contains characters that are not byte-level symbols", token, id)
			}
			if v.literal == nil {
				v.literal = make(map[int]bool)
			}
			v.literal[id] = true
		}
		assigned[id] = true
		v.idToToken[id] = token
		v.tokenToID[token] = id
	}
	return v, nil
}

// NewVocabularyFromTokens creates a Vocabulary where the id of each token is its index in tokens.
// Duplicated tokens are an error (api.ErrConfig).
func NewVocabularyFromTokens(tokens []string) (*Vocabulary, error) {
	tokenToID := make(map[string]int, len(tokens))
	for id, token := range tokens {
		if prev, found := tokenToID[token]; found {
			return nil, api.Errorf(api.ErrConfig, "vocabulary token %q appears with ids %d and %d", token, prev, id)
		}
		tokenToID[token] = id
	}
	return NewVocabulary(tokenToID)
}

// ParseVocabulary parses the contents of a vocabulary file: a JSON object mapping tokens to ids.
func ParseVocabulary(content []byte) (*Vocabulary, error) {
	var tokenToID map[string]int
	if err := json.Unmarshal(content, &tokenToID); err != nil {
		return nil, api.Wrapf(api.ErrConfig, err, "failed to parse vocabulary, expected a JSON object of token to id")
	}
	return NewVocabulary(tokenToID)
}

// LoadVocabulary reads a vocabulary file (usually named vocab.json).
func LoadVocabulary(filePath string) (*Vocabulary, error) {
	content, err := files.ReadFile(filePath)
	if err != nil {
		return nil, api.Wrapf(api.ErrConfig, err, "failed to read vocabulary file %q", filePath)
	}
	v, err := ParseVocabulary(content)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("loaded vocabulary with %d tokens from %q", v.Size(), filePath)
	return v, nil
}

// TokenToID returns the id of token, and false if it is not in the vocabulary.
func (v *Vocabulary) TokenToID(token string) (int, bool) {
	id, ok := v.tokenToID[token]
	return id, ok
}

// IDToToken returns the token for id, or an api.ErrLookup error if id is out of range.
func (v *Vocabulary) IDToToken(id int) (string, error) {
	if id < 0 || id >= len(v.idToToken) {
		return "", api.Errorf(api.ErrLookup, "token id %d out of vocabulary range [0, %d)", id, len(v.idToToken))
	}
	return v.idToToken[id], nil
}

// IsLiteral returns whether the token of id is a literal added token, decoded as its own text instead of
// as byte-level symbols.
func (v *Vocabulary) IsLiteral(id int) bool {
	return v.literal[id]
}

// Contains returns whether token is in the vocabulary.
func (v *Vocabulary) Contains(token string) bool {
	_, ok := v.tokenToID[token]
	return ok
}

// Size returns the number of tokens.
func (v *Vocabulary) Size() int {
	return len(v.idToToken)
}

// Tokens returns all tokens ordered by id.
func (v *Vocabulary) Tokens() []string {
	tokens := make([]string, len(v.idToToken))
	copy(tokens, v.idToToken)
	return tokens
}

// Mapping returns a copy of the token->id mapping.
func (v *Vocabulary) Mapping() map[string]int {
	mapping := make(map[string]int, len(v.tokenToID))
	for token, id := range v.tokenToID {
		mapping[token] = id
	}
	return mapping
}
