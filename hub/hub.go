// Package hub resolves named tokenizer presets to local vocabulary and merges files.
//
// A Registry maps preset names (e.g. "gpt2_base_en") to a Preset. Two implementations are provided:
// MapRegistry, an in-memory table, and Cache, a directory of installed presets shared between processes.
// Nothing here uses the network: presets are installed into a Cache from local files.
package hub

import (
	"context"
	"os"
	"path/filepath"

	"github.com/gomlx/gpt2bpe/internal/files"
	"github.com/gomlx/gpt2bpe/tokenizers/api"
	"github.com/pkg/errors"
)

// Files of an installed preset, relative to its directory.
const (
	VocabularyFileName = "vocab.json"
	MergesFileName     = "merges.txt"
	ConfigFileName     = "tokenizer_config.json"
)

// DefaultDirCreationPerm is used when creating new cache subdirectories.
var DefaultDirCreationPerm = os.FileMode(0755)

// CacheDirEnvVar overrides the default cache directory.
const CacheDirEnvVar = "GPT2BPE_CACHE"

// Preset is a resolved preset: the files needed to build its tokenizer.
type Preset struct {
	Name string

	// VocabularyFile is the path to the vocab.json file (token -> id).
	VocabularyFile string

	// MergesFile is the path to the merges.txt file.
	MergesFile string

	// ConfigFile is the optional path to a tokenizer_config.json file. Empty if there is none.
	ConfigFile string

	// Config is the parsed ConfigFile, or nil.
	Config *api.Config
}

// Registry maps preset names to their files.
type Registry interface {
	// Presets returns the names of the available presets, sorted.
	Presets() []string

	// Resolve returns the preset with the given name, or an error wrapping api.ErrLookup if there is none.
	Resolve(ctx context.Context, name string) (*Preset, error)
}

// DefaultCacheDir returns the directory used by NewCache when none is given: $GPT2BPE_CACHE if set, otherwise
// "gpt2bpe" under the user's cache directory (e.g. ~/.cache/gpt2bpe on Linux).
func DefaultCacheDir() (string, error) {
	if dir := os.Getenv(CacheDirEnvVar); dir != "" {
		return dir, nil
	}
	userCache, err := os.UserCacheDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to find the user cache directory, set $"+CacheDirEnvVar)
	}
	return filepath.Join(userCache, "gpt2bpe"), nil
}

// loadConfig parses the preset's ConfigFile, if any.
func (p *Preset) loadConfig() error {
	if p.ConfigFile == "" {
		return nil
	}
	content, err := files.ReadFile(p.ConfigFile)
	if err != nil {
		return api.Wrapf(api.ErrConfig, err, "failed to read config of preset %q", p.Name)
	}
	p.Config, err = api.ParseConfig(content)
	if err != nil {
		return errors.WithMessagef(err, "preset %q", p.Name)
	}
	return nil
}
