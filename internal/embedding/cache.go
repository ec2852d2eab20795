package embedding

import (
	"container/list"
	"context"
	"sync"
)

// Cached wraps a Client with a bounded least-recently-used cache keyed on
// the literal input text, avoiding repeat round-trips for identical probes
// or repeated re-indexing of unchanged descriptions.
type Cached struct {
	inner   *Client
	maxSize int

	mu    sync.Mutex
	items map[string]*list.Element
	lru   *list.List
}

type cacheEntry struct {
	key   string
	value []float32
}

// NewCached wraps client with an LRU cache of at most maxSize entries; a
// maxSize of zero or less selects 10000.
func NewCached(client *Client, maxSize int) *Cached {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &Cached{
		inner:   client,
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		lru:     list.New(),
	}
}

// Embed returns a cached vector when available, otherwise delegates and
// stores the result.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	if el, ok := c.items[text]; ok {
		c.lru.MoveToFront(el)
		v := el.Value.(*cacheEntry).value
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[text]; ok {
		c.lru.MoveToFront(el)
		el.Value.(*cacheEntry).value = v
		return v, nil
	}
	el := c.lru.PushFront(&cacheEntry{key: text, value: v})
	c.items[text] = el
	if c.lru.Len() > c.maxSize {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).key)
		}
	}
	return v, nil
}

// Dims delegates to the wrapped client.
func (c *Cached) Dims() int { return c.inner.Dims() }

// ProbeDims delegates to the wrapped client.
func (c *Cached) ProbeDims(ctx context.Context) (int, error) { return c.inner.ProbeDims(ctx) }

// CacheSize reports the number of cached entries.
func (c *Cached) CacheSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// ClearCache discards every cached entry.
func (c *Cached) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.lru = list.New()
}
