package bpe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gpt2bpe/tokenizers/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVocabulary(t *testing.T) {
	v, err := NewVocabulary(map[string]int{"<|endoftext|>": 0, "Ġafter": 1, "noon": 2, "Ġsun": 3})
	require.NoError(t, err)
	assert.Equal(t, 4, v.Size())

	id, ok := v.TokenToID("noon")
	assert.True(t, ok)
	assert.Equal(t, 2, id)
	_, ok = v.TokenToID("moon")
	assert.False(t, ok)

	token, err := v.IDToToken(3)
	require.NoError(t, err)
	assert.Equal(t, "Ġsun", token)

	assert.True(t, v.Contains("<|endoftext|>"))
	assert.False(t, v.Contains(" sun"))
	assert.Equal(t, []string{"<|endoftext|>", "Ġafter", "noon", "Ġsun"}, v.Tokens())
	assert.Equal(t, map[string]int{"<|endoftext|>": 0, "Ġafter": 1, "noon": 2, "Ġsun": 3}, v.Mapping())

	for _, badID := range []int{-1, 4, 1000} {
		_, err = v.IDToToken(badID)
		require.Error(t, err)
		assert.ErrorIs(t, err, api.ErrLookup)
	}
}

func TestNewVocabulary_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		vocab   map[string]int
		message string
	}{
		{"empty", map[string]int{}, "empty"},
		{"negative id", map[string]int{"a": -1, "b": 0}, "dense"},
		{"not dense", map[string]int{"a": 0, "b": 2}, "dense"},
		{"duplicated id", map[string]int{"a": 0, "b": 0}, "assigned to both"},
		{"empty token", map[string]int{"": 0, "a": 1}, "empty token"},
		{"not byte-level", map[string]int{"a": 0, " sun": 1}, "byte-level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewVocabulary(tt.vocab)
			require.Error(t, err)
			assert.ErrorIs(t, err, api.ErrConfig)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestNewVocabularyWithAddedTokens(t *testing.T) {
	const fullWidthEnd = "<｜end▁of▁sentence｜>"
	mapping := map[string]int{"<|endoftext|>": 0, "noon": 1, fullWidthEnd: 2}

	_, err := NewVocabulary(mapping)
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrConfig)

	v, err := NewVocabularyWithAddedTokens(mapping, []string{"<|endoftext|>", fullWidthEnd})
	require.NoError(t, err)
	assert.Equal(t, 3, v.Size())
	assert.True(t, v.IsLiteral(2))
	assert.False(t, v.IsLiteral(0), "byte-level added tokens are not literal")
	assert.False(t, v.IsLiteral(1))

	// Only added tokens may be outside the byte-level alphabet.
	_, err = NewVocabularyWithAddedTokens(map[string]int{"a": 0, " sun": 1, fullWidthEnd: 2}, []string{fullWidthEnd})
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrConfig)

	_, err = NewVocabularyWithAddedTokens(map[string]int{"a": 0}, []string{fullWidthEnd})
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrConfig)
}

func TestNewVocabularyFromTokens(t *testing.T) {
	v, err := NewVocabularyFromTokens([]string{"<|endoftext|>", "a", "b"})
	require.NoError(t, err)
	id, _ := v.TokenToID("b")
	assert.Equal(t, 2, id)

	_, err = NewVocabularyFromTokens([]string{"a", "b", "a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrConfig)
}

func TestLoadVocabulary(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "vocab.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"<|endoftext|>": 0, "reful": 1, "gent": 2}`), 0o644))
	v, err := LoadVocabulary(path)
	require.NoError(t, err)
	assert.Equal(t, 3, v.Size())

	_, err = LoadVocabulary(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrConfig)
	assert.ErrorIs(t, err, os.ErrNotExist)

	badPath := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(badPath, []byte(`["not", "a", "mapping"]`), 0o644))
	_, err = LoadVocabulary(badPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrConfig)
}
