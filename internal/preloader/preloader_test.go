package preloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"glideview/internal/cache"
)

type testBitmap struct {
	w, h int
}

func (b testBitmap) Width() int  { return b.w }
func (b testBitmap) Height() int { return b.h }

// recordingLoader records the order in which keys are requested. An optional
// gate holds every load until the test releases it; an optional cache is
// populated on success, mirroring the real loader.
type recordingLoader struct {
	mu       sync.Mutex
	keys     []string
	gate     chan struct{}
	failKeys map[string]bool
	cache    cache.Cache
}

func (l *recordingLoader) Load(ctx context.Context, key string) (cache.Bitmap, error) {
	l.mu.Lock()
	l.keys = append(l.keys, key)
	fail := l.failKeys[key]
	gate := l.gate
	l.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if fail {
		return nil, errors.New("load failed")
	}
	bm := testBitmap{w: 1, h: 1}
	if l.cache != nil {
		l.cache.Put(key, bm)
	}
	return bm, nil
}

func (l *recordingLoader) recorded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, len(l.keys))
	copy(out, l.keys)
	return out
}

func (l *recordingLoader) has(key string) bool {
	for _, k := range l.recorded() {
		if k == key {
			return true
		}
	}
	return false
}

// countingCache counts Clear calls on top of a real memory cache.
type countingCache struct {
	*cache.MemoryCache
	clears int32
}

func (c *countingCache) Clear() {
	atomic.AddInt32(&c.clears, 1)
	c.MemoryCache.Clear()
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.t = c.t.Add(d)
}

func locations(n int) []string {
	locs := make([]string, n)
	for i := range locs {
		locs[i] = fmt.Sprintf("img-%03d", i)
	}
	return locs
}

func (p *Preloader) queuedSnapshot() map[int]struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[int]struct{}, len(p.queued))
	for i := range p.queued {
		out[i] = struct{}{}
	}
	return out
}

func newTestPreloader(loader Loader, c cache.Cache) *Preloader {
	return New(DefaultConfig(), loader, c, zap.NewNop())
}

func TestWindowComposition(t *testing.T) {
	loader := &recordingLoader{}
	p := newTestPreloader(loader, cache.NewMemoryCache(200, 1<<30))
	p.SetLocations(locations(100))

	p.OnPositionChanged(context.Background(), 50)

	// Current, then 51..70 ascending, then 49..45 descending.
	want := []string{"img-050"}
	for i := 51; i <= 70; i++ {
		want = append(want, fmt.Sprintf("img-%03d", i))
	}
	for i := 49; i >= 45; i-- {
		want = append(want, fmt.Sprintf("img-%03d", i))
	}

	require.Eventually(t, func() bool {
		return len(loader.recorded()) == len(want)
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, want, loader.recorded())
	assert.Equal(t, 50, p.CurrentIndex())

	queued := p.queuedSnapshot()
	assert.Len(t, queued, 26)
	_, ok := queued[70]
	assert.True(t, ok)
	_, ok = queued[45]
	assert.True(t, ok)
}

func TestWindowClampedToListEnds(t *testing.T) {
	loader := &recordingLoader{}
	p := newTestPreloader(loader, cache.NewMemoryCache(200, 1<<30))
	p.SetLocations(locations(5))

	p.OnPositionChanged(context.Background(), 1)

	// 1, then ahead 2..4, then behind 0.
	want := []string{"img-001", "img-002", "img-003", "img-004", "img-000"}
	require.Eventually(t, func() bool {
		return len(loader.recorded()) == len(want)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, want, loader.recorded())
}

func TestOutOfRangeIndexOnlyUpdatesState(t *testing.T) {
	loader := &recordingLoader{}
	p := newTestPreloader(loader, cache.NewMemoryCache(200, 1<<30))
	p.SetLocations(locations(5))

	p.OnPositionChanged(context.Background(), 9)

	assert.Equal(t, 9, p.CurrentIndex())
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, loader.recorded())
}

func TestVelocityEstimate(t *testing.T) {
	p := newTestPreloader(&recordingLoader{}, cache.NewNoopCache())
	t0 := time.Unix(1000, 0)

	tests := []struct {
		name    string
		samples []positionSample
		want    float64
	}{
		{
			name: "rapid burst",
			samples: []positionSample{
				{index: 0, at: t0},
				{index: 5, at: t0.Add(100 * time.Millisecond)},
				{index: 12, at: t0.Add(200 * time.Millisecond)},
			},
			want: 60,
		},
		{
			name: "slow browsing",
			samples: []positionSample{
				{index: 0, at: t0},
				{index: 1, at: t0.Add(1 * time.Second)},
				{index: 2, at: t0.Add(2 * time.Second)},
			},
			want: 1,
		},
		{
			name: "backwards counts as speed",
			samples: []positionSample{
				{index: 40, at: t0},
				{index: 20, at: t0.Add(500 * time.Millisecond)},
				{index: 0, at: t0.Add(1 * time.Second)},
			},
			want: 40,
		},
		{
			name: "too few samples",
			samples: []positionSample{
				{index: 0, at: t0},
				{index: 50, at: t0.Add(100 * time.Millisecond)},
			},
			want: 0,
		},
		{
			name:    "no samples",
			samples: nil,
			want:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p.samples = tt.samples
			assert.InDelta(t, tt.want, p.velocityLocked(), 0.001)
		})
	}
}

func TestSampleRingBounded(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	p := newTestPreloader(&recordingLoader{}, cache.NewNoopCache())
	p.now = clk.Now

	for i := 0; i < 25; i++ {
		clk.advance(time.Second)
		p.OnPositionChanged(context.Background(), i)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.samples, 10)
	assert.Equal(t, 15, p.samples[0].index, "oldest samples are dropped")
	assert.Equal(t, 24, p.samples[9].index)
}

func TestLargeJumpClearsCache(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	loader := &recordingLoader{}
	cc := &countingCache{MemoryCache: cache.NewMemoryCache(200, 1<<30)}
	p := newTestPreloader(loader, cc)
	p.now = clk.Now

	cc.Put("stale", testBitmap{w: 1, h: 1})

	p.OnPositionChanged(context.Background(), 0)
	clk.advance(time.Minute) // slow: two samples, velocity 0
	p.OnPositionChanged(context.Background(), 30)

	// Delta 30 exceeds the 20+5 window span.
	assert.Equal(t, int32(1), atomic.LoadInt32(&cc.clears))
	assert.False(t, cc.Has("stale"))
	assert.Equal(t, 30, p.CurrentIndex())
}

func TestSmallMoveKeepsCache(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	cc := &countingCache{MemoryCache: cache.NewMemoryCache(200, 1<<30)}
	p := newTestPreloader(&recordingLoader{}, cc)
	p.now = clk.Now

	p.OnPositionChanged(context.Background(), 0)
	clk.advance(time.Minute)
	p.OnPositionChanged(context.Background(), 25)

	// Delta 25 equals the span; not a large jump.
	assert.Equal(t, int32(0), atomic.LoadInt32(&cc.clears))
}

func TestSustainedRapidScrollClearsOnce(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	cc := &countingCache{MemoryCache: cache.NewMemoryCache(200, 1<<30)}
	p := newTestPreloader(&recordingLoader{}, cc)
	p.now = clk.Now

	// Two priming samples: velocity needs three, so these are not rapid.
	// Keep every step inside the window span to avoid large-jump clears.
	p.OnPositionChanged(context.Background(), 0)
	clk.advance(100 * time.Millisecond)
	p.OnPositionChanged(context.Background(), 10)

	p.markQueued(0)
	p.markQueued(10)

	// Each subsequent update is individually rapid (>10 idx/s over the ring).
	index := 10
	for i := 0; i < 4; i++ {
		clk.advance(100 * time.Millisecond)
		index += 10
		p.OnPositionChanged(context.Background(), index)
		assert.Equal(t, int32(0), atomic.LoadInt32(&cc.clears))
	}

	// Fifth consecutive rapid detection trips the release valve.
	clk.advance(100 * time.Millisecond)
	index += 10
	p.OnPositionChanged(context.Background(), index)

	assert.Equal(t, int32(1), atomic.LoadInt32(&cc.clears))
	assert.Empty(t, p.queuedSnapshot())

	p.mu.Lock()
	assert.Equal(t, 0, p.rapidCount, "counter resets after the clear")
	p.mu.Unlock()
}

func TestRapidCountDecaysTowardZero(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	p := newTestPreloader(&recordingLoader{}, cache.NewNoopCache())
	p.now = clk.Now

	// Build up a rapid streak of 2.
	p.OnPositionChanged(context.Background(), 0)
	clk.advance(100 * time.Millisecond)
	p.OnPositionChanged(context.Background(), 10)
	clk.advance(100 * time.Millisecond)
	p.OnPositionChanged(context.Background(), 20)
	clk.advance(100 * time.Millisecond)
	p.OnPositionChanged(context.Background(), 30)

	p.mu.Lock()
	require.Equal(t, 2, p.rapidCount)
	p.mu.Unlock()

	// Slow updates decay the streak one step at a time, floored at zero.
	for i := 0; i < 4; i++ {
		clk.advance(time.Minute)
		p.OnPositionChanged(context.Background(), 31+i)
	}

	p.mu.Lock()
	assert.Equal(t, 0, p.rapidCount)
	p.mu.Unlock()
}

func TestNarrowWarmingDuringRapidScroll(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	loader := &recordingLoader{}
	p := newTestPreloader(loader, cache.NewMemoryCache(500, 1<<30))
	p.now = clk.Now
	p.SetLocations(locations(500))

	// Rapid updates: streak reaches 3 on the fifth call (two priming
	// samples, then three rapid ones), so its session warms only the
	// visible index.
	indices := []int{0, 100, 200, 300, 400}
	for i, idx := range indices {
		if i > 0 {
			clk.advance(10 * time.Millisecond)
		}
		p.OnPositionChanged(context.Background(), idx)
	}

	require.Eventually(t, func() bool {
		return loader.has("img-400")
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	// No window fill past the visible index: older sessions were all for
	// indices below 400 and the final session is narrow.
	for i := 401; i <= 420; i++ {
		assert.False(t, loader.has(fmt.Sprintf("img-%03d", i)),
			"index %d must not be warmed during a fast pass", i)
	}
}

func TestCancellationStopsStaleWindow(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	gate := make(chan struct{})
	loader := &recordingLoader{gate: gate}
	p := newTestPreloader(loader, cache.NewMemoryCache(200, 1<<30))
	p.now = clk.Now
	p.SetLocations(locations(100))

	p.OnPositionChanged(context.Background(), 50)

	// Wait for the index-50 load to be issued, then supersede the session
	// while that load is still in flight.
	require.Eventually(t, func() bool {
		return loader.has("img-050")
	}, 2*time.Second, 5*time.Millisecond)

	clk.advance(time.Minute)
	p.OnPositionChanged(context.Background(), 60)
	close(gate)

	require.Eventually(t, func() bool {
		return loader.has("img-070")
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	// The stale session finished its in-flight load of 50 but never moved
	// on to its window.
	assert.True(t, loader.has("img-050"))
	assert.False(t, loader.has("img-051"),
		"superseded session must not warm past the cancellation point")
	assert.True(t, loader.has("img-060"))
	assert.True(t, loader.has("img-061"))
}

func TestCancelIsIdempotent(t *testing.T) {
	p := newTestPreloader(&recordingLoader{}, cache.NewNoopCache())

	p.Cancel()
	p.Cancel()

	p.SetLocations(locations(10))
	p.OnPositionChanged(context.Background(), 0)
	p.Cancel()
	p.Cancel()
}

func TestRemoveFromQueueDoesNotEvict(t *testing.T) {
	c := cache.NewMemoryCache(200, 1<<30)
	loader := &recordingLoader{cache: c}
	p := newTestPreloader(loader, c)
	p.SetLocations(locations(10))

	p.OnPositionChanged(context.Background(), 0)

	require.Eventually(t, func() bool {
		return c.Has("img-005")
	}, 2*time.Second, 5*time.Millisecond)

	p.RemoveFromQueue(5)

	_, queued := p.queuedSnapshot()[5]
	assert.False(t, queued)
	assert.True(t, c.Has("img-005"), "queue hints never evict cache entries")
}

func TestFailedLoadsAreSkipped(t *testing.T) {
	loader := &recordingLoader{failKeys: map[string]bool{"img-002": true}}
	c := cache.NewMemoryCache(200, 1<<30)
	p := newTestPreloader(loader, c)
	p.SetLocations(locations(5))

	p.OnPositionChanged(context.Background(), 0)

	// The session continues past the failing index.
	require.Eventually(t, func() bool {
		return loader.has("img-004")
	}, 2*time.Second, 5*time.Millisecond)

	_, queued := p.queuedSnapshot()[2]
	assert.False(t, queued, "failed indices are dropped from the queue")
}

func TestSetLocationsResetsNothingElse(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	p := newTestPreloader(&recordingLoader{}, cache.NewNoopCache())
	p.now = clk.Now

	p.OnPositionChanged(context.Background(), 3)
	p.SetLocations(locations(50))

	assert.Equal(t, 3, p.CurrentIndex())
	p.mu.Lock()
	assert.Len(t, p.samples, 1)
	p.mu.Unlock()
}
