package cache

import (
	"container/list"
	"sync"
)

type entry struct {
	key    string
	bitmap Bitmap
	cost   int64
}

// MemoryCache implements an in-memory LRU cache bounded both by entry count
// and by total estimated decoded-pixel cost. After every Put the invariant
// len <= maxEntries && totalCost <= maxTotalCost holds.
type MemoryCache struct {
	mu           sync.Mutex
	maxEntries   int
	maxTotalCost int64
	totalCost    int64
	items        map[string]*list.Element
	lruList      *list.List
}

// NewMemoryCache creates a new in-memory LRU cache with the given bounds.
func NewMemoryCache(maxEntries int, maxTotalCost int64) *MemoryCache {
	return &MemoryCache{
		maxEntries:   maxEntries,
		maxTotalCost: maxTotalCost,
		items:        make(map[string]*list.Element),
		lruList:      list.New(),
	}
}

func (c *MemoryCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.items[key]
	return ok
}

func (c *MemoryCache) Get(key string) (Bitmap, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}

	c.lruList.MoveToFront(elem)
	return elem.Value.(*entry).bitmap, true
}

func (c *MemoryCache) Put(key string, bm Bitmap) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cost := Cost(bm)

	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*entry)
		c.totalCost += cost - ent.cost
		ent.bitmap = bm
		ent.cost = cost
		c.lruList.MoveToFront(elem)
		c.evictLocked()
		return
	}

	ent := &entry{key: key, bitmap: bm, cost: cost}
	elem := c.lruList.PushFront(ent)
	c.items[key] = elem
	c.totalCost += cost

	c.evictLocked()
}

// evictLocked drops entries from the LRU end until both bounds hold.
// A single entry costing more than maxTotalCost evicts everything,
// itself included.
func (c *MemoryCache) evictLocked() {
	for c.lruList.Len() > c.maxEntries || c.totalCost > c.maxTotalCost {
		oldest := c.lruList.Back()
		if oldest == nil {
			return
		}
		ent := oldest.Value.(*entry)
		delete(c.items, ent.key)
		c.lruList.Remove(oldest)
		c.totalCost -= ent.cost
	}
}

func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.lruList = list.New()
	c.totalCost = 0
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lruList.Len()
}

func (c *MemoryCache) TotalCost() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.totalCost
}
