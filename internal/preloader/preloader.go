package preloader

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"glideview/internal/cache"
)

// Loader resolves a location key to a bitmap; satisfied by image_loader.Loader.
type Loader interface {
	Load(ctx context.Context, key string) (cache.Bitmap, error)
}

// Config holds the window and scroll-detection tuning knobs.
type Config struct {
	// AheadCount and BehindCount size the warm window around the current
	// index; the window is ahead-weighted.
	AheadCount  int
	BehindCount int

	// RapidVelocity is the scroll speed, in index units per second, above
	// which a position update is classified as rapid.
	RapidVelocity float64

	// NarrowAfter is the rapid streak length at which warming narrows to
	// the visible index only.
	NarrowAfter int

	// ClearAfter is the rapid streak length at which the queue and cache
	// are dropped wholesale to free memory during a fast pass.
	ClearAfter int

	// SampleRing bounds the position-sample history used for velocity.
	SampleRing int
}

func DefaultConfig() Config {
	return Config{
		AheadCount:    20,
		BehindCount:   5,
		RapidVelocity: 10,
		NarrowAfter:   3,
		ClearAfter:    5,
		SampleRing:    10,
	}
}

type positionSample struct {
	index int
	at    time.Time
}

// Preloader keeps a sliding window of list positions warm in the cache,
// adapting to scroll velocity. Position updates cancel the previous warming
// session cooperatively; an already-issued load is allowed to finish.
type Preloader struct {
	cfg    Config
	loader Loader
	cache  cache.Cache
	logger *zap.Logger

	mu         sync.Mutex
	locations  []string
	current    int
	queued     map[int]struct{}
	samples    []positionSample
	rapidCount int
	cancelWarm context.CancelFunc

	now func() time.Time
}

func New(cfg Config, loader Loader, c cache.Cache, logger *zap.Logger) *Preloader {
	return &Preloader{
		cfg:     cfg,
		loader:  loader,
		cache:   c,
		logger:  logger,
		current: -1,
		queued:  make(map[int]struct{}),
		now:     time.Now,
	}
}

// SetLocations replaces the ordered candidate list. No other state is reset.
func (p *Preloader) SetLocations(locations []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.locations = make([]string, len(locations))
	copy(p.locations, locations)
}

// CurrentIndex returns the last reported viewing position, -1 before the
// first update.
func (p *Preloader) CurrentIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.current
}

// RemoveFromQueue is a bookkeeping hint that an index is no longer a warming
// priority. It never evicts from the cache.
func (p *Preloader) RemoveFromQueue(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.queued, index)
}

// Cancel stops the active warming session, if any. Idempotent.
func (p *Preloader) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cancelLocked()
}

func (p *Preloader) cancelLocked() {
	if p.cancelWarm != nil {
		p.cancelWarm()
		p.cancelWarm = nil
	}
}

// OnPositionChanged records a new viewing position and starts a warming
// session around it. The bookkeeping below runs synchronously under the lock;
// only the warming loop runs in the background. A stale warming loop observes
// its cancelled context before issuing further loads.
func (p *Preloader) OnPositionChanged(ctx context.Context, newIndex int) {
	p.mu.Lock()

	p.cancelLocked()
	p.recordSampleLocked(newIndex)

	span := p.cfg.AheadCount + p.cfg.BehindCount
	largeJump := p.current >= 0 && abs(newIndex-p.current) > span

	velocity := p.velocityLocked()
	rapid := velocity > p.cfg.RapidVelocity
	if rapid {
		p.rapidCount++
	} else if p.rapidCount > 0 {
		p.rapidCount--
	}

	if p.rapidCount >= p.cfg.ClearAfter {
		// Sustained fast pass: release the standing cache for headroom.
		p.logger.Debug("sustained rapid scrolling, dropping cache",
			zap.Int("index", newIndex),
			zap.Float64("velocity", velocity),
		)
		p.queued = make(map[int]struct{})
		p.cache.Clear()
		p.rapidCount = 0
	}

	p.current = newIndex

	if largeJump {
		// The old window shares nothing with the new one.
		p.logger.Debug("large jump, dropping cache", zap.Int("index", newIndex))
		p.queued = make(map[int]struct{})
		p.cache.Clear()
	}

	if newIndex < 0 || newIndex >= len(p.locations) {
		p.mu.Unlock()
		return
	}

	narrow := p.rapidCount >= p.cfg.NarrowAfter
	locations := p.locations

	// The session outlives the caller; keep its values but not its deadline.
	warmCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancelWarm = cancel
	p.mu.Unlock()

	go p.warm(warmCtx, locations, newIndex, narrow)
}

// warm fills the window around index: the visible image first, then ahead in
// ascending order, then behind in descending order. Per-index failures skip
// and continue; cancellation is checked before each load, and an issued load
// is never aborted mid-flight.
func (p *Preloader) warm(ctx context.Context, locations []string, index int, narrow bool) {
	session := uuid.New().String()[:8]
	start := time.Now()
	loaded := 0

	// Loads get a non-cancellable context: cancellation gates the next
	// iteration, it never aborts an issued load mid-flight.
	loadCtx := context.WithoutCancel(ctx)

	load := func(i int) {
		p.markQueued(i)
		if _, err := p.loader.Load(loadCtx, locations[i]); err != nil {
			p.logger.Debug("preload failed",
				zap.String("session", session),
				zap.Int("index", i),
				zap.Error(err),
			)
			p.unmarkQueued(i)
			return
		}
		loaded++
	}

	load(index)

	if !narrow {
		last := len(locations) - 1
		for i := index + 1; i <= index+p.cfg.AheadCount && i <= last; i++ {
			if ctx.Err() != nil {
				return
			}
			load(i)
		}
		for i := index - 1; i >= index-p.cfg.BehindCount && i >= 0; i-- {
			if ctx.Err() != nil {
				return
			}
			load(i)
		}
	}

	p.logger.Debug("warm session complete",
		zap.String("session", session),
		zap.Int("index", index),
		zap.Int("loaded", loaded),
		zap.Bool("narrow", narrow),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
}

func (p *Preloader) markQueued(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.queued[i] = struct{}{}
}

func (p *Preloader) unmarkQueued(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.queued, i)
}

func (p *Preloader) recordSampleLocked(index int) {
	p.samples = append(p.samples, positionSample{index: index, at: p.now()})
	if len(p.samples) > p.cfg.SampleRing {
		p.samples = p.samples[1:]
	}
}

// velocityLocked estimates scroll speed in index units per second across the
// sample ring. Fewer than 3 samples is too noisy to classify.
func (p *Preloader) velocityLocked() float64 {
	if len(p.samples) < 3 {
		return 0
	}

	oldest := p.samples[0]
	newest := p.samples[len(p.samples)-1]

	dt := newest.at.Sub(oldest.at).Seconds()
	if dt <= 0 {
		return 0
	}

	return math.Abs(float64(newest.index-oldest.index)) / dt
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}
