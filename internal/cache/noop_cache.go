package cache

// NoopCache stores nothing; every lookup is a miss, so the engine treats
// every request as a fresh load.
type NoopCache struct{}

func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

func (c *NoopCache) Get(key string) (Bitmap, bool) {
	return nil, false
}

func (c *NoopCache) Put(key string, bm Bitmap) {
}

func (c *NoopCache) Has(key string) bool {
	return false
}

func (c *NoopCache) Clear() {
}

func (c *NoopCache) Len() int {
	return 0
}

func (c *NoopCache) TotalCost() int64 {
	return 0
}
