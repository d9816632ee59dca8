package bpe

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/gpt2bpe/tokenizers/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMergeTable(t *testing.T) {
	m, err := NewMergeTable([]string{"Ġ a", "e r", "Ġa f", "e r"})
	require.NoError(t, err)
	assert.Equal(t, 4, m.Len())

	rank, ok := m.RankOf("Ġ", "a")
	assert.True(t, ok)
	assert.Equal(t, 0, rank)

	// Duplicates keep their first rank.
	rank, ok = m.RankOf("e", "r")
	assert.True(t, ok)
	assert.Equal(t, 1, rank)

	_, ok = m.RankOf("r", "e")
	assert.False(t, ok, "rules are ordered pairs")

	assert.Equal(t, []MergeRule{{"Ġ", "a"}, {"e", "r"}, {"Ġa", "f"}, {"e", "r"}}, m.Rules())
	assert.Equal(t, "Ġa f", m.Rules()[2].String())
}

func TestNewMergeTable_Malformed(t *testing.T) {
	for _, rule := range []string{"", "a", "a b c"} {
		_, err := NewMergeTable([]string{"x y", rule})
		require.Errorf(t, err, "rule %q", rule)
		assert.ErrorIs(t, err, api.ErrConfig)
	}

	_, err := NewMergeTableFromRules([]MergeRule{{"a", ""}})
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrConfig)
}

func TestParseMergeTable(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []MergeRule
	}{
		{
			name:    "GPT-2 version header",
			content: "#version: 0.2\nĠ t\nĠ a\nh e\n",
			want:    []MergeRule{{"Ġ", "t"}, {"Ġ", "a"}, {"h", "e"}},
		},
		{
			name:    "non conforming header",
			content: "merges for my model v1\nĠ t\n",
			want:    []MergeRule{{"Ġ", "t"}},
		},
		{
			name:    "no header",
			content: "Ġ t\nĠ a",
			want:    []MergeRule{{"Ġ", "t"}, {"Ġ", "a"}},
		},
		{
			name:    "windows line endings and empty lines",
			content: "#version: 0.2\r\nĠ t\r\n\r\nĠ a\r\n\n",
			want:    []MergeRule{{"Ġ", "t"}, {"Ġ", "a"}},
		},
		{
			name:    "empty lines before the header",
			content: "\n\r\n#version: 0.2\nĠ t\n",
			want:    []MergeRule{{"Ġ", "t"}},
		},
		{
			name:    "byte order mark",
			content: "\ufeff#version: 0.2\nĠ t\n",
			want:    []MergeRule{{"Ġ", "t"}},
		},
		{
			name:    "tabs separate fields too",
			content: "Ġ\tt\n",
			want:    []MergeRule{{"Ġ", "t"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseMergeTable(strings.NewReader(tt.content))
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Rules())
		})
	}
}

func TestParseMergeTable_MalformedLine(t *testing.T) {
	_, err := ParseMergeTable(strings.NewReader("#version: 0.2\nĠ t\nthree fields here\nh e\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrConfig)
	assert.Contains(t, err.Error(), "line 3")

	// Only the first non-empty line may be a header.
	_, err = ParseMergeTable(strings.NewReader("\n#version: 0.2\n#second header line\nĠ t\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrConfig)
	assert.Contains(t, err.Error(), "line 3")
}

func TestLoadMergeTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "merges.txt")
	require.NoError(t, os.WriteFile(path, []byte("#version: 0.2\nĠ a\nĠ s\n"), 0o644))

	m, err := LoadMergeTable(path)
	require.NoError(t, err)
	rank, ok := m.RankOf("Ġ", "s")
	assert.True(t, ok)
	assert.Equal(t, 1, rank)

	_, err = LoadMergeTable(filepath.Join(dir, "missing.txt"))
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrConfig)
}
