package cache

import (
	"fmt"

	"go.uber.org/zap"
)

// NewCache creates a cache instance based on the cache type
func NewCache(cacheType string, maxEntries int, maxTotalCost int64, log *zap.Logger) (Cache, error) {
	switch cacheType {
	case "memory":
		log.Info("Using memory cache",
			zap.Int("max_entries", maxEntries),
			zap.Int64("max_total_cost", maxTotalCost),
		)
		return NewMemoryCache(maxEntries, maxTotalCost), nil
	case "disabled":
		log.Info("Cache disabled")
		return NewNoopCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s (supported: memory, disabled)", cacheType)
	}
}
