package image_loader

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"glideview/internal/cache"
)

// Fetcher resolves a location to its raw, undecoded bytes.
type Fetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// Decoder turns raw bytes into a decoded bitmap.
type Decoder interface {
	Decode(data []byte) (cache.Bitmap, error)
}

// Resizer constrains a bitmap so that neither dimension exceeds maxDimension,
// preserving aspect ratio.
type Resizer interface {
	Resize(bm cache.Bitmap, maxDimension int) (cache.Bitmap, error)
}

// Loader resolves a location key to a displayable bitmap: cache first, then
// fetch, decode, constrain, store. Concurrent loads of the same key are
// coalesced so at most one decode pipeline runs per key at any time.
type Loader struct {
	cache        cache.Cache
	fetcher      Fetcher
	decoder      Decoder
	resizer      Resizer
	maxDimension int
	logger       *zap.Logger
	group        singleflight.Group
}

func New(c cache.Cache, fetcher Fetcher, decoder Decoder, resizer Resizer, maxDimension int, logger *zap.Logger) *Loader {
	return &Loader{
		cache:        c,
		fetcher:      fetcher,
		decoder:      decoder,
		resizer:      resizer,
		maxDimension: maxDimension,
		logger:       logger,
	}
}

// Load returns the bitmap for key. Cache hits return without I/O. On a miss,
// late arrivals for the same key await the in-flight result instead of
// starting a new pipeline; every waiter of an attempt observes the same
// outcome. Failed attempts are not cached, so a fresh call starts fresh.
func (l *Loader) Load(ctx context.Context, key string) (cache.Bitmap, error) {
	if bm, ok := l.cache.Get(key); ok {
		return bm, nil
	}

	v, err, shared := l.group.Do(key, func() (interface{}, error) {
		// A previous winner may have populated the cache while we queued.
		if bm, ok := l.cache.Get(key); ok {
			return bm, nil
		}
		return l.loadPipeline(ctx, key)
	})
	if err != nil {
		l.logger.Debug("load failed",
			zap.String("key", key),
			zap.Bool("shared", shared),
			zap.Error(err),
		)
		return nil, err
	}

	return v.(cache.Bitmap), nil
}

func (l *Loader) loadPipeline(ctx context.Context, key string) (cache.Bitmap, error) {
	data, err := l.fetcher.Fetch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}

	bm, err := l.decoder.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}

	if w, h := bm.Width(), bm.Height(); w > l.maxDimension || h > l.maxDimension {
		bm, err = l.resizer.Resize(bm, l.maxDimension)
		if err != nil {
			return nil, fmt.Errorf("resize %s: %w", key, err)
		}
	}

	l.cache.Put(key, bm)
	return bm, nil
}
