// Package config loads the gpt2tok command line configuration: defaults, then an optional config file
// (gpt2tok.yaml), then GPT2TOK_* environment variables, then flags.
package config

import (
	"strings"

	"github.com/gomlx/gpt2bpe/tokenizers/api"
	"github.com/gomlx/gpt2bpe/tokenizers/bpe"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of the environment variables, e.g. GPT2TOK_TOKENIZER_VOCAB.
const EnvPrefix = "GPT2TOK"

type Config struct {
	Tokenizer TokenizerConfig `mapstructure:"tokenizer"`
	Cache     CacheConfig     `mapstructure:"cache"`
}

// TokenizerConfig selects the tokenizer files and its options. Exactly one source must be set: Vocab and
// Merges together, TokenizerJSON, GGUF or Preset.
type TokenizerConfig struct {
	Vocab         string `mapstructure:"vocab"`
	Merges        string `mapstructure:"merges"`
	TokenizerJSON string `mapstructure:"tokenizer_json"`
	GGUF          string `mapstructure:"gguf"`
	Preset        string `mapstructure:"preset"`

	CacheSize      int    `mapstructure:"cache_size"`
	Workers        int    `mapstructure:"workers"`
	AddPrefixSpace bool   `mapstructure:"add_prefix_space"`
	Normalization  string `mapstructure:"normalization"`
}

type CacheConfig struct {
	// Dir is the presets directory. Empty means hub.DefaultCacheDir.
	Dir string `mapstructure:"dir"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Tokenizer: TokenizerConfig{
			CacheSize: bpe.DefaultCacheSize,
		},
	}
}

// flagKeys maps flag names to their configuration keys.
var flagKeys = map[string]string{
	"vocab":            "tokenizer.vocab",
	"merges":           "tokenizer.merges",
	"tokenizer-json":   "tokenizer.tokenizer_json",
	"gguf":             "tokenizer.gguf",
	"preset":           "tokenizer.preset",
	"cache-size":       "tokenizer.cache_size",
	"workers":          "tokenizer.workers",
	"add-prefix-space": "tokenizer.add_prefix_space",
	"normalization":    "tokenizer.normalization",
	"cache-dir":        "cache.dir",
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("vocab", defaults.Tokenizer.Vocab, "Path to the vocabulary file (vocab.json)")
	fs.String("merges", defaults.Tokenizer.Merges, "Path to the merges file (merges.txt)")
	fs.String("tokenizer-json", defaults.Tokenizer.TokenizerJSON, "Path to a HuggingFace tokenizer.json file")
	fs.String("gguf", defaults.Tokenizer.GGUF, "Path to a GGUF model file with an embedded tokenizer")
	fs.String("preset", defaults.Tokenizer.Preset, "Name of an installed preset, e.g. gpt2_base_en")
	fs.Int("cache-size", defaults.Tokenizer.CacheSize, "Number of memoized chunks, negative disables the cache")
	fs.Int("workers", defaults.Tokenizer.Workers, "Texts encoded in parallel, 0 for the number of CPUs")
	fs.Bool("add-prefix-space", defaults.Tokenizer.AddPrefixSpace, "Prepend a space to texts not starting with one")
	fs.String("normalization", defaults.Tokenizer.Normalization, "Unicode normalization: NFC, NFD, NFKC or NFKD")
	fs.String("cache-dir", defaults.Cache.Dir, "Presets directory (default $GPT2BPE_CACHE or the user cache directory)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrap(err, "read config file")
		}
	} else {
		v.SetConfigName("gpt2tok")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, errors.Wrap(err, "read config file")
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("tokenizer.vocab", c.Tokenizer.Vocab)
	v.SetDefault("tokenizer.merges", c.Tokenizer.Merges)
	v.SetDefault("tokenizer.tokenizer_json", c.Tokenizer.TokenizerJSON)
	v.SetDefault("tokenizer.gguf", c.Tokenizer.GGUF)
	v.SetDefault("tokenizer.preset", c.Tokenizer.Preset)
	v.SetDefault("tokenizer.cache_size", c.Tokenizer.CacheSize)
	v.SetDefault("tokenizer.workers", c.Tokenizer.Workers)
	v.SetDefault("tokenizer.add_prefix_space", c.Tokenizer.AddPrefixSpace)
	v.SetDefault("tokenizer.normalization", c.Tokenizer.Normalization)
	v.SetDefault("cache.dir", c.Cache.Dir)
}

// bindFlags binds each known flag of fs to its configuration key. Flags only override the config file and
// the environment when they are set on the command line.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return errors.Wrapf(err, "bind flag --%s", name)
		}
	}
	return nil
}

// Source names the configured tokenizer source, one of "files", "tokenizer-json", "gguf" or "preset".
// It returns an api.ErrConfig error if none or more than one is configured.
func (c TokenizerConfig) Source() (string, error) {
	var sources []string
	if c.Vocab != "" || c.Merges != "" {
		if c.Vocab == "" || c.Merges == "" {
			return "", api.Errorf(api.ErrConfig, "--vocab and --merges must be given together")
		}
		sources = append(sources, "files")
	}
	if c.TokenizerJSON != "" {
		sources = append(sources, "tokenizer-json")
	}
	if c.GGUF != "" {
		sources = append(sources, "gguf")
	}
	if c.Preset != "" {
		sources = append(sources, "preset")
	}
	switch len(sources) {
	case 0:
		return "", api.Errorf(api.ErrConfig, "no tokenizer configured: set --vocab and --merges, --tokenizer-json, --gguf or --preset")
	case 1:
		return sources[0], nil
	default:
		return "", api.Errorf(api.ErrConfig, "only one tokenizer source can be configured, got %s", strings.Join(sources, " and "))
	}
}

// Options returns the bpe.Options of the configuration.
func (c TokenizerConfig) Options() bpe.Options {
	return bpe.Options{
		CacheSize:      c.CacheSize,
		AddPrefixSpace: c.AddPrefixSpace,
		Normalization:  c.Normalization,
		Workers:        c.Workers,
	}
}
