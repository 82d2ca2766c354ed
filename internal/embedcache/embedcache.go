// Package embedcache implements the embeddings cache in front of the
// embedding generator: a content-hash keyed cache shared by reference among
// the vector indexes of one process, adapted from the embedder-wrapping
// LRU cache pattern to a standalone cache the vector index consults
// directly (so read/write modes and cache failures can be governed
// independently of the generator call).
package embedcache

import (
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Mode controls which operations the cache honors.
type Mode int

const (
	// Off disables the cache: every Get misses, every Put is a no-op.
	Off Mode = iota
	// ReadOnly serves hits but never stores new entries.
	ReadOnly
	// WriteOnly stores entries but never serves hits.
	WriteOnly
	// ReadWrite serves hits and stores new entries.
	ReadWrite
)

// DefaultSize is the default number of entries to keep.
const DefaultSize = 1000

// Cache is the embeddings cache keyed by (provider, model, content_hash).
// Values are raw (not necessarily normalized) vectors, as produced by the
// generator.
type Cache struct {
	mode  Mode
	cache *lru.Cache[string, []float32]
}

// New creates a Cache with the given mode and entry-count capacity. A
// non-positive size falls back to DefaultSize.
func New(mode Mode, size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &Cache{mode: mode, cache: c}, nil
}

// Mode returns the cache's configured mode.
func (c *Cache) Mode() Mode { return c.mode }

// Key computes the cache key for a (provider, model, content) triple: a
// SHA-256 hash over the exact input string, scoped by provider and model so
// the same text embedded by two different models never collides.
func Key(provider, model, content string) string {
	h := sha256.New()
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

// Get looks up a cached vector. Returns false on a miss, on mode Off or
// WriteOnly, or if the cache itself is nil (a nil *Cache is a valid
// "no cache configured" sentinel so callers needn't nil-check everywhere).
func (c *Cache) Get(provider, model, content string) ([]float32, bool) {
	if c == nil || c.mode == Off || c.mode == WriteOnly {
		return nil, false
	}
	return c.cache.Get(Key(provider, model, content))
}

// Put stores a vector under its cache key, unless the cache is disabled or
// set to ReadOnly. Callers treat Put as fire-and-forget: a cache write never
// fails the caller's operation.
func (c *Cache) Put(provider, model, content string, vec []float32) {
	if c == nil || c.mode == Off || c.mode == ReadOnly {
		return
	}
	c.cache.Add(Key(provider, model, content), vec)
}

// Len reports the number of cached entries, for diagnostics.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}
