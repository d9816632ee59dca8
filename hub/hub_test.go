package hub

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/gomlx/gpt2bpe/tokenizers/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testVocab  = `{"<|endoftext|>": 0, "reful": 1, "gent": 2, "Ġafter": 3, "noon": 4, "Ġsun": 5}`
	testMerges = "#version: 0.2\nĠ a\nĠ s\n"
	testConfig = `{"tokenizer_class": "GPT2Tokenizer", "eos_token": {"content": "<|endoftext|>"}, "add_prefix_space": false}`
)

// writeSource writes a preset's source files into a new temporary directory.
func writeSource(t *testing.T, withConfig bool) Preset {
	t.Helper()
	dir := t.TempDir()
	p := Preset{
		VocabularyFile: filepath.Join(dir, "vocab.json"),
		MergesFile:     filepath.Join(dir, "merges.txt"),
	}
	require.NoError(t, os.WriteFile(p.VocabularyFile, []byte(testVocab), 0o644))
	require.NoError(t, os.WriteFile(p.MergesFile, []byte(testMerges), 0o644))
	if withConfig {
		p.ConfigFile = filepath.Join(dir, "tokenizer_config.json")
		require.NoError(t, os.WriteFile(p.ConfigFile, []byte(testConfig), 0o644))
	}
	return p
}

func TestMapRegistry(t *testing.T) {
	ctx := context.Background()
	source := writeSource(t, true)
	source.Name = "gpt2_base_en"
	r := NewMapRegistry(source).Add(Preset{Name: "gpt2_medium_en", VocabularyFile: "v", MergesFile: "m"})
	assert.Equal(t, []string{"gpt2_base_en", "gpt2_medium_en"}, r.Presets())

	p, err := r.Resolve(ctx, "gpt2_base_en")
	require.NoError(t, err)
	assert.Equal(t, source.VocabularyFile, p.VocabularyFile)
	require.NotNil(t, p.Config)
	assert.Equal(t, api.TokenValue("<|endoftext|>"), p.Config.EosToken)

	_, err = r.Resolve(ctx, "gpt2_xl_en")
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrLookup)
	assert.Contains(t, err.Error(), "gpt2_base_en, gpt2_medium_en")

	_, err = NewMapRegistry().Resolve(ctx, "gpt2_base_en")
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrLookup)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = r.Resolve(cancelled, "gpt2_base_en")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCache(t *testing.T) {
	ctx := context.Background()
	cache, err := NewCache(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	assert.Empty(t, cache.Presets())

	_, err = cache.Resolve(ctx, "gpt2_base_en")
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrLookup)

	p, err := cache.Install(ctx, "gpt2_base_en", writeSource(t, true), false)
	require.NoError(t, err)
	assert.Equal(t, "gpt2_base_en", p.Name)
	assert.Equal(t, filepath.Join(cache.Dir(), "gpt2_base_en", VocabularyFileName), p.VocabularyFile)
	require.NotNil(t, p.Config)
	assert.Equal(t, "GPT2Tokenizer", p.Config.TokenizerClass)

	content, err := os.ReadFile(p.MergesFile)
	require.NoError(t, err)
	assert.Equal(t, testMerges, string(content))
	for _, leftover := range []string{".lock", ".installing"} {
		_, err = os.Stat(p.MergesFile + leftover)
		assert.True(t, os.IsNotExist(err), "%s file should have been removed", leftover)
	}

	_, err = cache.Install(ctx, "gpt2_extra_small_en", writeSource(t, false), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt2_base_en", "gpt2_extra_small_en"}, cache.Presets())

	p, err = cache.Resolve(ctx, "gpt2_extra_small_en")
	require.NoError(t, err)
	assert.Nil(t, p.Config)
	assert.Empty(t, p.ConfigFile)

	// A directory missing the merges file is not a preset.
	require.NoError(t, os.MkdirAll(filepath.Join(cache.Dir(), "partial"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cache.Dir(), "partial", VocabularyFileName), []byte(testVocab), 0o644))
	assert.NotContains(t, cache.Presets(), "partial")

	require.NoError(t, cache.Remove("gpt2_extra_small_en"))
	require.NoError(t, cache.Remove("never_installed"))
	assert.Equal(t, []string{"gpt2_base_en"}, cache.Presets())
}

func TestCache_InstallForce(t *testing.T) {
	ctx := context.Background()
	cache, err := NewCache(t.TempDir())
	require.NoError(t, err)
	_, err = cache.Install(ctx, "p", writeSource(t, true), false)
	require.NoError(t, err)

	updated := writeSource(t, false)
	require.NoError(t, os.WriteFile(updated.MergesFile, []byte("#version: 0.2\nĠ t\n"), 0o644))

	// Without force the installed files are kept.
	p, err := cache.Install(ctx, "p", updated, false)
	require.NoError(t, err)
	content, err := os.ReadFile(p.MergesFile)
	require.NoError(t, err)
	assert.Equal(t, testMerges, string(content))
	assert.NotNil(t, p.Config)

	p, err = cache.Install(ctx, "p", updated, true)
	require.NoError(t, err)
	content, err = os.ReadFile(p.MergesFile)
	require.NoError(t, err)
	assert.Equal(t, "#version: 0.2\nĠ t\n", string(content))
	assert.Nil(t, p.Config, "stale config should have been removed")
}

func TestCache_InvalidInstall(t *testing.T) {
	ctx := context.Background()
	cache, err := NewCache(t.TempDir())
	require.NoError(t, err)
	source := writeSource(t, false)

	for _, name := range []string{"", ".", "..", "a/b", `a\b`} {
		_, err = cache.Install(ctx, name, source, false)
		require.Error(t, err, "name %q", name)
		assert.ErrorIs(t, err, api.ErrConfig)
	}

	_, err = cache.Install(ctx, "p", Preset{VocabularyFile: source.VocabularyFile}, false)
	assert.ErrorIs(t, err, api.ErrConfig)

	source.MergesFile = filepath.Join(t.TempDir(), "missing.txt")
	_, err = cache.Install(ctx, "p", source, false)
	assert.ErrorIs(t, err, api.ErrConfig)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCache_InstallMalformedConfig(t *testing.T) {
	ctx := context.Background()
	cache, err := NewCache(t.TempDir())
	require.NoError(t, err)
	source := writeSource(t, true)
	require.NoError(t, os.WriteFile(source.ConfigFile, []byte("{not json"), 0o644))

	_, err = cache.Install(ctx, "broken", source, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrConfig)
	assert.Empty(t, cache.Presets())
	assert.NoDirExists(t, filepath.Join(cache.Dir(), "broken"))
	_, err = cache.Resolve(ctx, "broken")
	assert.ErrorIs(t, err, api.ErrLookup)

	// An installed preset is left untouched by a failed reinstall.
	good := writeSource(t, true)
	_, err = cache.Install(ctx, "p", good, false)
	require.NoError(t, err)
	_, err = cache.Install(ctx, "p", source, true)
	require.Error(t, err)
	p, err := cache.Resolve(ctx, "p")
	require.NoError(t, err)
	require.NotNil(t, p.Config)
	assert.Equal(t, []string{"p"}, cache.Presets())
}

func TestCache_ConcurrentInstall(t *testing.T) {
	ctx := context.Background()
	cache, err := NewCache(t.TempDir())
	require.NoError(t, err)
	source := writeSource(t, true)

	const numInstallers = 8
	var wg sync.WaitGroup
	errs := make([]error, numInstallers)
	for i := range numInstallers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = cache.Install(ctx, "gpt2_base_en", source, false)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	p, err := cache.Resolve(ctx, "gpt2_base_en")
	require.NoError(t, err)
	content, err := os.ReadFile(p.VocabularyFile)
	require.NoError(t, err)
	assert.Equal(t, testVocab, string(content))
}

func TestExecOnFileLock(t *testing.T) {
	defer func(period time.Duration) { lockPollPeriod = period }(lockPollPeriod)
	lockPollPeriod = 10 * time.Millisecond

	lockPath := filepath.Join(t.TempDir(), "file.lock")
	holder := flock.New(lockPath)
	locked, err := holder.TryLock()
	require.NoError(t, err)
	require.True(t, locked)

	// While the lock is held, execOnFileLock waits until the context expires.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	called := false
	err = execOnFileLock(ctx, lockPath, func() { called = true })
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, called)

	// Once released, it acquires the lock.
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = holder.Unlock()
	}()
	err = execOnFileLock(context.Background(), lockPath, func() { called = true })
	require.NoError(t, err)
	assert.True(t, called)
}

func TestDefaultCacheDir(t *testing.T) {
	t.Setenv(CacheDirEnvVar, "/tmp/my-gpt2bpe-cache")
	dir, err := DefaultCacheDir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/my-gpt2bpe-cache", dir)
}
