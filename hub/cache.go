package hub

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gomlx/gpt2bpe/internal/files"
	"github.com/gomlx/gpt2bpe/tokenizers/api"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Cache is a Registry backed by a directory with one subdirectory per installed preset:
//
//	<dir>/<name>/vocab.json
//	<dir>/<name>/merges.txt
//	<dir>/<name>/tokenizer_config.json  (optional)
//
// It can be shared by several processes: Install uses file locks, and files appear atomically.
type Cache struct {
	dir string
}

var _ Registry = (*Cache)(nil)

// NewCache returns a Cache rooted at dir, creating the directory if needed.
// If dir is empty, DefaultCacheDir is used.
func NewCache(dir string) (*Cache, error) {
	if dir == "" {
		var err error
		dir, err = DefaultCacheDir()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, DefaultDirCreationPerm); err != nil {
		return nil, errors.Wrapf(err, "failed to create cache directory %q", dir)
	}
	return &Cache{dir: dir}, nil
}

// Dir returns the root directory of the cache.
func (c *Cache) Dir() string { return c.dir }

func validatePresetName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return api.Errorf(api.ErrConfig, "invalid preset name %q", name)
	}
	return nil
}

// preset returns the Preset of name, as laid out in the cache, without checking it exists.
func (c *Cache) preset(name string) *Preset {
	presetDir := filepath.Join(c.dir, name)
	p := &Preset{
		Name:           name,
		VocabularyFile: filepath.Join(presetDir, VocabularyFileName),
		MergesFile:     filepath.Join(presetDir, MergesFileName),
	}
	if configPath := filepath.Join(presetDir, ConfigFileName); files.Exists(configPath) {
		p.ConfigFile = configPath
	}
	return p
}

func (p *Preset) installed() bool {
	return files.Exists(p.VocabularyFile) && files.Exists(p.MergesFile)
}

// Presets implements Registry: it lists the subdirectories holding both a vocabulary and a merges file.
func (c *Cache) Presets() []string {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		klog.Errorf("failed to list presets in %q: %v", c.dir, err)
		return nil
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if c.preset(entry.Name()).installed() {
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)
	return names
}

// Resolve implements Registry.
func (c *Cache) Resolve(ctx context.Context, name string) (*Preset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validatePresetName(name); err != nil {
		return nil, err
	}
	p := c.preset(name)
	if !p.installed() {
		return nil, unknownPreset(name, c.Presets())
	}
	if err := p.loadConfig(); err != nil {
		return nil, err
	}
	return p, nil
}

// Install copies the files of source into the cache under the given name, and returns the installed Preset.
//
// Files already installed are kept unless force is true. source.ConfigFile is optional: with force, an
// installed config file is removed if source has none. The config file is parsed before anything is copied,
// and a failed first install leaves no preset directory behind.
func (c *Cache) Install(ctx context.Context, name string, source Preset, force bool) (preset *Preset, err error) {
	if err := validatePresetName(name); err != nil {
		return nil, err
	}
	if source.VocabularyFile == "" || source.MergesFile == "" {
		return nil, api.Errorf(api.ErrConfig, "installing preset %q requires both a vocabulary and a merges file", name)
	}
	presetDir := filepath.Join(c.dir, name)
	targets := []struct{ src, dst string }{
		{source.VocabularyFile, filepath.Join(presetDir, VocabularyFileName)},
		{source.MergesFile, filepath.Join(presetDir, MergesFileName)},
	}
	configPath := filepath.Join(presetDir, ConfigFileName)
	if source.ConfigFile != "" {
		targets = append(targets, struct{ src, dst string }{source.ConfigFile, configPath})
	}
	for _, target := range targets {
		if !files.Exists(target.src) {
			return nil, api.Wrapf(api.ErrConfig, os.ErrNotExist, "source file %q of preset %q", target.src, name)
		}
	}
	source.Name = name
	source.Config = nil
	if err := source.loadConfig(); err != nil {
		return nil, err
	}

	if !files.Exists(presetDir) {
		defer func() {
			if err == nil {
				return
			}
			if rmErr := c.Remove(name); rmErr != nil {
				klog.Errorf("failed to clean up after failed install: %v", rmErr)
			}
		}()
	}
	if source.ConfigFile == "" && force && files.Exists(configPath) {
		if err := os.Remove(configPath); err != nil {
			return nil, errors.Wrapf(err, "failed to remove stale %q", configPath)
		}
	}
	for _, target := range targets {
		if err := lockedCopy(ctx, target.src, target.dst, force); err != nil {
			return nil, errors.WithMessagef(err, "installing preset %q", name)
		}
	}
	klog.V(1).Infof("installed preset %q in %q", name, presetDir)
	return c.Resolve(ctx, name)
}

// Remove deletes an installed preset. Removing a preset that isn't installed is not an error.
func (c *Cache) Remove(name string) error {
	if err := validatePresetName(name); err != nil {
		return err
	}
	return errors.Wrapf(os.RemoveAll(filepath.Join(c.dir, name)), "failed to remove preset %q", name)
}
