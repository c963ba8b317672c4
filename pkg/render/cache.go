package render

import (
	"bytes"
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/vjranagit/benchdaq/pkg/storage"
)

// ChartCache is an LRU cache of rendered PNG charts. Entries are keyed by
// store version and chart options, so a new sample naturally misses.
type ChartCache struct {
	capacity int
	ttl      time.Duration
	mu       sync.Mutex
	cache    map[string]*cacheEntry
	lru      *list.List
	hits     uint64
	misses   uint64
}

// cacheEntry represents a cached chart
type cacheEntry struct {
	key       string
	png       []byte
	timestamp time.Time
	element   *list.Element
}

// CacheStats contains cache statistics
type CacheStats struct {
	Size     int
	Capacity int
	Hits     uint64
	Misses   uint64
}

// NewChartCache creates a chart cache. A ttl of 0 disables expiry.
func NewChartCache(capacity int, ttl time.Duration) *ChartCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &ChartCache{
		capacity: capacity,
		ttl:      ttl,
		cache:    make(map[string]*cacheEntry),
		lru:      list.New(),
	}
}

// Get retrieves a cached chart
func (cc *ChartCache) Get(version uint64, opts ChartOptions) ([]byte, bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	key := cacheKey(version, opts)
	entry, exists := cc.cache[key]
	if !exists {
		cc.misses++
		return nil, false
	}

	if cc.ttl > 0 && time.Since(entry.timestamp) > cc.ttl {
		cc.removeLocked(key)
		cc.misses++
		return nil, false
	}

	// Move to front of LRU list (most recently used)
	cc.lru.MoveToFront(entry.element)
	cc.hits++
	return entry.png, true
}

// Put stores a rendered chart
func (cc *ChartCache) Put(version uint64, opts ChartOptions, png []byte) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	key := cacheKey(version, opts)
	if entry, exists := cc.cache[key]; exists {
		entry.png = png
		entry.timestamp = time.Now()
		cc.lru.MoveToFront(entry.element)
		return
	}

	entry := &cacheEntry{
		key:       key,
		png:       png,
		timestamp: time.Now(),
	}
	entry.element = cc.lru.PushFront(entry)
	cc.cache[key] = entry

	if cc.lru.Len() > cc.capacity {
		if oldest := cc.lru.Back(); oldest != nil {
			cc.removeLocked(oldest.Value.(*cacheEntry).key)
		}
	}
}

// removeLocked removes an entry from the cache (must hold lock)
func (cc *ChartCache) removeLocked(key string) {
	if entry, exists := cc.cache[key]; exists {
		cc.lru.Remove(entry.element)
		delete(cc.cache, key)
	}
}

// Stats returns cache statistics
func (cc *ChartCache) Stats() CacheStats {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	return CacheStats{
		Size:     len(cc.cache),
		Capacity: cc.capacity,
		Hits:     cc.hits,
		Misses:   cc.misses,
	}
}

func cacheKey(version uint64, opts ChartOptions) string {
	return fmt.Sprintf("%d/%dx%d/%s/%s", version, opts.Width, opts.Height, opts.XAxis, opts.Title)
}

// CachedPNG returns the PNG chart of snap, rendering it only when the
// cache has no chart for this store version and these options
func (cc *ChartCache) CachedPNG(snap storage.Snapshot, opts ChartOptions) ([]byte, error) {
	if png, ok := cc.Get(snap.Version, opts); ok {
		return png, nil
	}

	var buf bytes.Buffer
	if err := RenderPNG(&buf, snap, opts); err != nil {
		return nil, err
	}
	png := buf.Bytes()
	cc.Put(snap.Version, opts, png)
	return png, nil
}
