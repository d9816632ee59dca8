package hub

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/gpt2bpe/tokenizers/api"
)

// MapRegistry is an in-memory Registry. It is safe for concurrent use.
type MapRegistry struct {
	mu      sync.RWMutex
	presets map[string]Preset
}

var _ Registry = (*MapRegistry)(nil)

// NewMapRegistry creates a registry with the given presets, keyed by their Name.
func NewMapRegistry(presets ...Preset) *MapRegistry {
	r := &MapRegistry{presets: make(map[string]Preset, len(presets))}
	for _, p := range presets {
		r.presets[p.Name] = p
	}
	return r
}

// Add registers (or replaces) a preset.
func (r *MapRegistry) Add(p Preset) *MapRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presets[p.Name] = p
	return r
}

// Presets implements Registry.
func (r *MapRegistry) Presets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.presets))
}

// Resolve implements Registry. If the preset has a ConfigFile but no Config, the file is parsed.
func (r *MapRegistry) Resolve(ctx context.Context, name string) (*Preset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	p, found := r.presets[name]
	r.mu.RUnlock()
	if !found {
		return nil, unknownPreset(name, r.Presets())
	}
	if p.Config == nil {
		if err := p.loadConfig(); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func unknownPreset(name string, valid []string) error {
	if len(valid) == 0 {
		return api.Errorf(api.ErrLookup, "unknown preset %q, no presets are available", name)
	}
	return api.Errorf(api.ErrLookup, "unknown preset %q, valid presets are: %s", name, strings.Join(valid, ", "))
}
