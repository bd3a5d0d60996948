package embedding

import (
	"container/list"
	"context"
	"hash/fnv"
	"sync"

	"memlog/internal/domain"
)

type cacheItem struct {
	key uint64
	vec []float64
}

// Cache is an LRU cache of single-text embeddings in front of another
// provider. SemanticSearch embeds one query per call, so repeated queries hit
// the cache; batches pass through untouched.
type Cache struct {
	inner   domain.EmbeddingProvider
	maxSize int

	mu    sync.Mutex
	items map[uint64]*list.Element
	order *list.List // front is least recently used
}

// NewCache wraps inner with an LRU cache of maxSize vectors. A non-positive
// maxSize returns inner unchanged.
func NewCache(inner domain.EmbeddingProvider, maxSize int) domain.EmbeddingProvider {
	if maxSize <= 0 {
		return inner
	}
	return &Cache{
		inner:   inner,
		maxSize: maxSize,
		items:   make(map[uint64]*list.Element, maxSize),
		order:   list.New(),
	}
}

// Embed implements domain.EmbeddingProvider.
func (c *Cache) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) != 1 {
		return c.inner.Embed(ctx, texts)
	}
	key := hashText(texts[0])

	c.mu.Lock()
	if elem, ok := c.items[key]; ok {
		c.order.MoveToBack(elem)
		vec := elem.Value.(*cacheItem).vec
		c.mu.Unlock()
		return [][]float64{vec}, nil
	}
	c.mu.Unlock()

	result, err := c.inner.Embed(ctx, texts)
	if err != nil || len(result) == 0 {
		return result, err
	}

	c.mu.Lock()
	c.put(key, result[0])
	c.mu.Unlock()
	return result, nil
}

// Len returns the number of cached vectors.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Dimensions implements domain.EmbeddingProvider.
func (c *Cache) Dimensions() int { return c.inner.Dimensions() }

// Name implements domain.EmbeddingProvider.
func (c *Cache) Name() string { return c.inner.Name() }

// put stores vec under key, evicting the least recently used item when full.
// Caller holds c.mu.
func (c *Cache) put(key uint64, vec []float64) {
	if elem, ok := c.items[key]; ok {
		c.order.MoveToBack(elem)
		elem.Value.(*cacheItem).vec = vec
		return
	}
	if c.order.Len() >= c.maxSize {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheItem).key)
	}
	c.items[key] = c.order.PushBack(&cacheItem{key: key, vec: vec})
}

func hashText(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

var _ domain.EmbeddingProvider = (*Cache)(nil)
