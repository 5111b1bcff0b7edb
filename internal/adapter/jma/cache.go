package jma

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/couchcryptid/rain-nowcast-monitor/internal/domain"
	"github.com/couchcryptid/rain-nowcast-monitor/internal/observability"
)

// CachedTileSource wraps a TileSource with an in-memory LRU cache so
// locations sharing a tile fetch it once per slot.
type CachedTileSource struct {
	inner   domain.TileSource
	cache   *lruCache[domain.Tile]
	metrics *observability.Metrics
}

// NewCachedTileSource creates a cache decorator around a tile source.
func NewCachedTileSource(inner domain.TileSource, maxEntries int, metrics *observability.Metrics) *CachedTileSource {
	return &CachedTileSource{
		inner:   inner,
		cache:   newLRUCache[domain.Tile](maxEntries),
		metrics: metrics,
	}
}

func (c *CachedTileSource) FetchTile(ctx context.Context, slot domain.TimeSlot, coord domain.TileCoord) (domain.Tile, error) {
	key := fmt.Sprintf("%s|%s|%d/%d/%d", slot.BaseStamp(), slot.ValidStamp(), coord.Zoom, coord.X, coord.Y)
	if tile, ok := c.cache.get(key); ok {
		c.metrics.TileCache.WithLabelValues("hit").Inc()
		return tile, nil
	}
	c.metrics.TileCache.WithLabelValues("miss").Inc()

	tile, err := c.inner.FetchTile(ctx, slot, coord)
	if err != nil {
		// failures are not cached so the next cycle retries
		return tile, err
	}
	c.cache.put(key, tile)
	return tile, nil
}

// Len returns the number of cached tiles.
func (c *CachedTileSource) Len() int { return c.cache.len() }

// lruCache is a small thread-safe LRU keyed by string.
type lruCache[V any] struct {
	maxEntries int
	mu         sync.Mutex
	order      *list.List // front is most recently used
	entries    map[string]*list.Element
}

type lruItem[V any] struct {
	key   string
	value V
}

func newLRUCache[V any](maxEntries int) *lruCache[V] {
	return &lruCache[V]{
		maxEntries: max(maxEntries, 1),
		order:      list.New(),
		entries:    make(map[string]*list.Element),
	}
}

func (c *lruCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruItem[V]).value, true
}

func (c *lruCache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*lruItem[V]).value = value
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&lruItem[V]{key: key, value: value})

	for c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*lruItem[V]).key)
	}
}

func (c *lruCache[V]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
