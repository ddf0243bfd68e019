package netcdf

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/couchcryptid/watertag-etl/internal/domain"
	"github.com/couchcryptid/watertag-etl/internal/observability"
)

// DatasetLoader reads a dataset by path.
type DatasetLoader interface {
	Load(ctx context.Context, path string) (*domain.Dataset, error)
}

// CachedLoader wraps a DatasetLoader with an in-memory LRU cache. Entries are
// keyed by path, modification time and size, so a rewritten file is read
// again. Callers get their own deep copy of every cached dataset.
type CachedLoader struct {
	inner   DatasetLoader
	cache   *lruCache
	metrics *observability.Metrics
}

// NewCachedLoader creates a cache decorator around a loader. metrics may be nil.
func NewCachedLoader(inner DatasetLoader, maxEntries int, metrics *observability.Metrics) *CachedLoader {
	return &CachedLoader{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

func (c *CachedLoader) Load(ctx context.Context, path string) (*domain.Dataset, error) {
	info, err := os.Stat(path)
	if err != nil {
		return c.inner.Load(ctx, path)
	}
	key := fmt.Sprintf("%s|%d|%d", path, info.ModTime().UnixNano(), info.Size())
	if ds, ok := c.cache.get(key); ok {
		c.record("hit")
		return ds.Clone(), nil
	}
	c.record("miss")

	ds, err := c.inner.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	c.cache.put(key, ds.Clone())
	return ds, nil
}

func (c *CachedLoader) record(result string) {
	if c.metrics == nil {
		return
	}
	c.metrics.DatasetCache.WithLabelValues(result).Inc()
}

// lruCache is a simple thread-safe LRU cache of datasets.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value *domain.Dataset
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (*domain.Dataset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value *domain.Dataset) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
