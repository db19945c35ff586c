package cache

// Bitmap is a decoded image held by the cache. Implementations carry the
// pixel payload; the cache only needs dimensions to compute cost.
type Bitmap interface {
	Width() int
	Height() int
}

// bytesPerPixel is the assumed decoded pixel footprint (RGBA).
const bytesPerPixel = 4

// Cost estimates the decoded memory footprint of a bitmap in bytes.
func Cost(bm Bitmap) int64 {
	return int64(bm.Width()) * int64(bm.Height()) * bytesPerPixel
}

type Cache interface {
	Get(key string) (Bitmap, bool)
	Put(key string, bm Bitmap)
	Has(key string) bool // Check presence without promoting the entry
	Clear()
	Len() int
	TotalCost() int64
}
