package bpe

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultCacheSize is the number of chunks memoized when Options.CacheSize is 0.
const DefaultCacheSize = 8192

// word is the memoized result of the BPE engine for one chunk.
// Entries are shared between goroutines and never modified after they are stored.
type word struct {
	pieces []string
	ids    []int
}

// chunkCache memoizes words by their raw (not byte-mapped) chunk text.
//
// It is safe for concurrent use. Two goroutines missing the same chunk both compute it and the last
// Add wins: both values are identical, since they are a function of the chunk and the immutable tables.
// A nil *chunkCache is a disabled cache.
type chunkCache struct {
	lru *lru.Cache[string, *word]
}

// newChunkCache creates a cache for size chunks. See Options.CacheSize for the meaning of size.
func newChunkCache(size int) (*chunkCache, error) {
	if size < 0 {
		klog.V(2).Infof("bpe chunk cache disabled")
		return nil, nil
	}
	if size == 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, *word](size)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create chunk cache of size %d", size)
	}
	return &chunkCache{lru: c}, nil
}

func (c *chunkCache) get(text string) (*word, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(text)
}

func (c *chunkCache) add(text string, w *word) {
	if c == nil {
		return
	}
	c.lru.Add(text, w)
}

func (c *chunkCache) len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

func (c *chunkCache) purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}
