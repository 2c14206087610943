package embedder

import (
	"context"
	"crypto/sha256"
	"sync"
)

// DefaultCacheCapacity bounds the in-process embedding cache.
const DefaultCacheCapacity = 1024

// CacheStats reports cache effectiveness counters.
type CacheStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Size   int    `json:"size"`
}

// Cache wraps an Embedder with a bounded in-process cache keyed by the
// SHA-256 of the input text. Eviction is insertion-order once the
// capacity is reached. Safe for concurrent use.
type Cache struct {
	inner Embedder
	cap   int

	mu     sync.Mutex
	items  map[[32]byte][]float32
	order  [][32]byte
	hits   uint64
	misses uint64
}

// NewCache wraps inner with a cache of the given capacity. Non-positive
// capacity falls back to DefaultCacheCapacity.
func NewCache(inner Embedder, capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &Cache{
		inner: inner,
		cap:   capacity,
		items: make(map[[32]byte][]float32, capacity),
	}
}

// Embed returns the cached vector for text when present; otherwise it
// calls the underlying embedder and caches the result.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	key := sha256.Sum256([]byte(text))

	c.mu.Lock()
	if vec, ok := c.items[key]; ok {
		c.hits++
		c.mu.Unlock()
		return vec, nil
	}
	c.misses++
	c.mu.Unlock()

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.put(key, vec)
	return vec, nil
}

// EmbedBatch embeds texts, serving cached entries without touching the
// underlying embedder and batching only the misses.
func (c *Cache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	c.mu.Lock()
	for i, text := range texts {
		key := sha256.Sum256([]byte(text))
		if vec, ok := c.items[key]; ok {
			c.hits++
			results[i] = vec
			continue
		}
		c.misses++
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	c.mu.Unlock()

	if len(missTexts) == 0 {
		return results, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		results[idx] = vecs[j]
		c.put(sha256.Sum256([]byte(missTexts[j])), vecs[j])
	}
	return results, nil
}

func (c *Cache) put(key [32]byte, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[key]; ok {
		return
	}
	if len(c.items) >= c.cap && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.items, oldest)
	}
	c.items[key] = vec
	c.order = append(c.order, key)
}

// Stats returns hit/miss counters and the current entry count.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Hits: c.hits, Misses: c.misses, Size: len(c.items)}
}

// Dimension returns the dimensionality of the underlying embedder.
func (c *Cache) Dimension() int {
	return c.inner.Dimension()
}

// ModelName returns the name of the underlying embedding model.
func (c *Cache) ModelName() string {
	return c.inner.ModelName()
}

var _ Embedder = (*Cache)(nil)
