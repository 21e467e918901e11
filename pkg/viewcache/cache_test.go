package viewcache

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1F47E/geo-viewport-cache/pkg/dataset"
	"github.com/1F47E/geo-viewport-cache/pkg/geo"
	"github.com/1F47E/geo-viewport-cache/pkg/models"
)

func scenarioRecords() []models.Record {
	return []models.Record{
		{ID: 1, Name: "one", Importance: 0.9, Location: models.Location{Lat: 50.0, Lon: 4.0}},
		{ID: 2, Name: "two", Importance: 0.5, Location: models.Location{Lat: 50.1, Lon: 4.1}},
		{ID: 3, Name: "three", Importance: 0.2, Location: models.Location{Lat: 60.0, Lon: 10.0}},
	}
}

// tiedRecords generates records with only ten distinct importance values so
// that stable ordering of ties is exercised
func tiedRecords(n int, seed int64) []models.Record {
	records := dataset.Generate(n, seed, dataset.Benelux)
	r := rand.New(rand.NewSource(seed))
	for i := range records {
		records[i].Importance = float64(r.Intn(10)) / 10
	}
	return records
}

func ids(records []models.Record) []int64 {
	out := make([]int64, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func newTestCache(p dataset.Provider, opts ...Option) *Cache {
	return New(p, append([]Option{WithMetrics(false)}, opts...)...)
}

func TestScenario(t *testing.T) {
	p := dataset.NewCounting(dataset.NewStatic(scenarioRecords()))
	c := newTestCache(p)
	ctx := context.Background()

	got, err := c.Query(ctx, models.NewBoundingBox(49.0, 3.0, 51.0, 5.0), 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids(got))
	assert.Equal(t, int64(1), p.Calls())

	got, err = c.Query(ctx, models.NewBoundingBox(49.9, 3.9, 50.2, 4.2), 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids(got))
	assert.Equal(t, int64(1), p.Calls(), "tighter box must be a containment hit")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, 0.5, stats.HitRate())
}

// P1: a query inside a previously queried box returns exactly the filtered
// subset without a provider call
func TestContainmentCorrectness(t *testing.T) {
	records := tiedRecords(3000, 11)
	p := dataset.NewCounting(dataset.NewStatic(records))
	c := newTestCache(p)
	ctx := context.Background()

	outer := models.NewBoundingBox(50, 3, 52, 6)
	all, err := c.Query(ctx, outer, NoLimit)
	require.NoError(t, err)
	require.Equal(t, int64(1), p.Calls())

	r := rand.New(rand.NewSource(1))
	for i := 0; i < 25; i++ {
		lat := 50 + r.Float64()*1.5
		lon := 3 + r.Float64()*2.5
		inner := models.NewBoundingBox(lat, lon, lat+r.Float64()*0.5, lon+r.Float64()*0.5)
		require.True(t, geo.Contains(outer, inner))

		got, err := c.Query(ctx, inner, NoLimit)
		require.NoError(t, err)
		assert.Equal(t, dataset.Filter(all, inner), got)
	}

	assert.Equal(t, int64(1), p.Calls())
}

// P2: results are non-increasing in importance, ties keep provider order,
// and smaller limits are prefixes of larger ones
func TestOrderingAndPrefixStability(t *testing.T) {
	records := tiedRecords(2000, 5)
	box := models.NewBoundingBox(50, 3, 53, 7)
	ctx := context.Background()

	c := newTestCache(dataset.NewStatic(records))
	full, err := c.Query(ctx, box, NoLimit)
	require.NoError(t, err)
	require.NotEmpty(t, full)

	for i := 1; i < len(full); i++ {
		prev, cur := full[i-1], full[i]
		require.GreaterOrEqual(t, prev.Importance, cur.Importance)
		if prev.Importance == cur.Importance {
			// Generate assigns ascending IDs in provider order
			require.Less(t, prev.ID, cur.ID, "ties must keep provider order")
		}
	}

	for _, m := range []int{0, 1, 7, 50, len(full)} {
		fresh := newTestCache(dataset.NewStatic(records))
		got, err := fresh.Query(ctx, box, m)
		require.NoError(t, err)
		assert.Equal(t, full[:m], got, "max=%d on a miss", m)

		got, err = c.Query(ctx, box, m)
		require.NoError(t, err)
		assert.Equal(t, full[:m], got, "max=%d on a hit", m)
	}
}

// P3: a superset miss evicts the narrower entry and serves it from then on
func TestEvictionBySubsumption(t *testing.T) {
	records := tiedRecords(1000, 3)
	p := dataset.NewCounting(dataset.NewStatic(records))
	c := newTestCache(p)
	ctx := context.Background()

	small := models.NewBoundingBox(50.5, 4, 51, 5)
	large := models.NewBoundingBox(50, 3, 52, 6)
	other := models.NewBoundingBox(52.5, 6.5, 53, 7)

	_, err := c.Query(ctx, small, NoLimit)
	require.NoError(t, err)
	_, err = c.Query(ctx, other, NoLimit)
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	largeRes, err := c.Query(ctx, large, NoLimit)
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.Calls())

	entries := c.Entries()
	require.Len(t, entries, 2, "small must be evicted, disjoint entry kept")
	assert.Equal(t, other, entries[0].Bounds)
	assert.Equal(t, large, entries[1].Bounds)
	assert.True(t, entries[1].Exhaustive)
	assert.Equal(t, int64(1), c.Stats().Evictions)

	got, err := c.Query(ctx, small, NoLimit)
	require.NoError(t, err)
	assert.Equal(t, dataset.Filter(largeRes, small), got)
	assert.Equal(t, int64(3), p.Calls(), "small must now hit the large entry")
}

// P4: repeating a query returns identical results from the cache
func TestRepeatedQueryIdempotent(t *testing.T) {
	p := dataset.NewCounting(dataset.NewStatic(tiedRecords(500, 8)))
	c := newTestCache(p)
	ctx := context.Background()
	box := models.NewBoundingBox(50, 3, 52, 6)

	first, err := c.Query(ctx, box, 20)
	require.NoError(t, err)
	second, err := c.Query(ctx, box, 20)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), p.Calls())

	// callers own their slices
	first[0].Name = "mutated"
	third, err := c.Query(ctx, box, 20)
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", third[0].Name)
}

// P5: argument validation happens before the provider is consulted
func TestArgumentValidation(t *testing.T) {
	p := dataset.NewCounting(dataset.NewStatic(scenarioRecords()))
	c := newTestCache(p)
	ctx := context.Background()

	testCases := []struct {
		name string
		box  models.BoundingBox
		max  int
	}{
		{"negative max", models.NewBoundingBox(49, 3, 51, 5), -1},
		{"inverted latitude", models.NewBoundingBox(51, 3, 49, 5), 5},
		{"inverted longitude", models.NewBoundingBox(49, 5, 51, 3), 5},
		{"latitude out of range", models.NewBoundingBox(-95, 3, 51, 5), 5},
		{"longitude out of range", models.NewBoundingBox(49, 3, 51, 185), 5},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Query(ctx, tc.box, tc.max)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}

	assert.Equal(t, int64(0), p.Calls())
	assert.Equal(t, 0, c.Len())
}

func TestZeroMax(t *testing.T) {
	c := newTestCache(dataset.NewStatic(scenarioRecords()))

	got, err := c.Query(context.Background(), models.NewBoundingBox(49, 3, 51, 5), 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 1, c.Len(), "a zero limit still caches the full result")
}

func TestProviderFailureLeavesCacheUntouched(t *testing.T) {
	boom := errors.New("backend unavailable")
	var fail atomic.Bool
	records := scenarioRecords()
	p := dataset.NewCounting(dataset.Func(func(ctx context.Context) ([]models.Record, error) {
		if fail.Load() {
			return nil, boom
		}
		return records, nil
	}))
	c := newTestCache(p)
	ctx := context.Background()

	_, err := c.Query(ctx, models.NewBoundingBox(59, 9, 61, 11), 10)
	require.NoError(t, err)
	before := c.Entries()

	fail.Store(true)
	_, err = c.Query(ctx, models.NewBoundingBox(49, 3, 51, 5), 10)
	assert.Equal(t, boom, err, "provider errors are returned unchanged")
	assert.Equal(t, before, c.Entries())
	assert.Equal(t, int64(1), c.Stats().ProviderErrors)

	fail.Store(false)
	got, err := c.Query(ctx, models.NewBoundingBox(49, 3, 51, 5), 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids(got), "retry must behave like a first attempt")
}

// blockingProvider blocks Within for boxes registered in gates
type blockingProvider struct {
	*dataset.Static
	mu      sync.Mutex
	gates   map[string]chan struct{}
	started chan models.BoundingBox
	calls   int
}

func newBlockingProvider(records []models.Record) *blockingProvider {
	return &blockingProvider{
		Static:  dataset.NewStatic(records),
		gates:   make(map[string]chan struct{}),
		started: make(chan models.BoundingBox, 16),
	}
}

func (b *blockingProvider) gate(box models.BoundingBox) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan struct{})
	b.gates[box.Key()] = ch
	return ch
}

func (b *blockingProvider) Within(ctx context.Context, box models.BoundingBox) ([]models.Record, error) {
	b.mu.Lock()
	b.calls++
	gate := b.gates[box.Key()]
	b.mu.Unlock()

	b.started <- box
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return b.Static.Within(ctx, box)
}

func (b *blockingProvider) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func TestConcurrentIdenticalMissesShareOneCall(t *testing.T) {
	p := newBlockingProvider(tiedRecords(500, 2))
	c := newTestCache(p)
	box := models.NewBoundingBox(50, 3, 52, 6)
	release := p.gate(box)

	const n = 20
	results := make([][]models.Record, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := c.Query(context.Background(), box, 10)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}

	<-p.started
	close(release)
	wg.Wait()

	assert.Equal(t, 1, p.callCount())
	for i := 1; i < n; i++ {
		assert.Equal(t, results[0], results[i])
	}
	assert.Equal(t, 1, c.Len())
}

// A narrow miss finishing after a covering miss must not be inserted
func TestLateNarrowMissIsNotInserted(t *testing.T) {
	p := newBlockingProvider(tiedRecords(500, 4))
	c := newTestCache(p)
	ctx := context.Background()

	small := models.NewBoundingBox(50.5, 4, 51, 5)
	large := models.NewBoundingBox(50, 3, 52, 6)
	release := p.gate(small)

	done := make(chan []models.Record)
	go func() {
		res, err := c.Query(ctx, small, NoLimit)
		assert.NoError(t, err)
		done <- res
	}()
	require.Equal(t, small, <-p.started)

	largeRes, err := c.Query(ctx, large, NoLimit)
	require.NoError(t, err)
	<-p.started

	close(release)
	smallRes := <-done

	assert.Equal(t, dataset.Filter(largeRes, small), smallRes)
	entries := c.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, large, entries[0].Bounds)
}

func TestCallerCancellation(t *testing.T) {
	p := newBlockingProvider(scenarioRecords())
	c := newTestCache(p)
	box := models.NewBoundingBox(49, 3, 51, 5)
	release := p.gate(box)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Query(ctx, box, 10)
		errCh <- err
	}()

	<-p.started
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	require.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, 5*time.Millisecond,
		"the detached fill should still populate the cache")

	_, err := c.Query(ctx, box, 10)
	assert.NoError(t, err, "hits are served even for a cancelled context")
}

func TestProviderTimeout(t *testing.T) {
	p := newBlockingProvider(scenarioRecords())
	c := newTestCache(p, WithProviderTimeout(20*time.Millisecond))
	box := models.NewBoundingBox(49, 3, 51, 5)
	p.gate(box)

	_, err := c.Query(context.Background(), box, 10)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, c.Len())
}

func TestClearDuringFlightDropsResult(t *testing.T) {
	p := newBlockingProvider(scenarioRecords())
	c := newTestCache(p)
	box := models.NewBoundingBox(49, 3, 51, 5)
	release := p.gate(box)

	done := make(chan []models.Record)
	go func() {
		res, err := c.Query(context.Background(), box, 10)
		assert.NoError(t, err)
		done <- res
	}()

	<-p.started
	c.Clear()
	close(release)

	assert.Equal(t, []int64{1, 2}, ids(<-done))
	assert.Equal(t, 0, c.Len())
}

func TestBoxProviderMatchesGetAll(t *testing.T) {
	records := tiedRecords(2000, 21)
	box := models.NewBoundingBox(50.2, 3.3, 51.7, 5.9)
	ctx := context.Background()

	viaWithin := newTestCache(dataset.NewStatic(records))
	viaGetAll := newTestCache(dataset.Func(dataset.NewStatic(records).GetAll))

	a, err := viaWithin.Query(ctx, box, NoLimit)
	require.NoError(t, err)
	b, err := viaGetAll.Query(ctx, box, NoLimit)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestInvalidate(t *testing.T) {
	p := dataset.NewCounting(dataset.NewStatic(scenarioRecords()))
	c := newTestCache(p)
	ctx := context.Background()
	a := models.NewBoundingBox(49, 3, 51, 5)
	b := models.NewBoundingBox(59, 9, 61, 11)

	_, _ = c.Query(ctx, a, 10)
	_, _ = c.Query(ctx, b, 10)
	require.Equal(t, 2, c.Len())

	assert.False(t, c.Invalidate(models.NewBoundingBox(49.5, 3.5, 50.5, 4.5)), "only exact bounds are invalidated")
	assert.True(t, c.Invalidate(a))
	assert.Equal(t, 1, c.Len())

	_, _ = c.Query(ctx, a, 10)
	assert.Equal(t, int64(3), p.Calls())

	assert.Equal(t, 1, c.InvalidateRegion(models.NewBoundingBox(60, 10, 70, 20)))
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.Entries())
}

func TestMaxEntries(t *testing.T) {
	c := newTestCache(dataset.NewStatic(tiedRecords(200, 1)), WithMaxEntries(2))
	ctx := context.Background()

	boxes := []models.BoundingBox{
		models.NewBoundingBox(50, 3, 50.5, 3.5),
		models.NewBoundingBox(51, 4, 51.5, 4.5),
		models.NewBoundingBox(52, 5, 52.5, 5.5),
	}
	for _, b := range boxes {
		_, err := c.Query(ctx, b, 5)
		require.NoError(t, err)
	}

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, boxes[1], entries[0].Bounds)
	assert.Equal(t, boxes[2], entries[1].Bounds)
}

func TestPrime(t *testing.T) {
	records := scenarioRecords()
	p := dataset.NewCounting(dataset.NewStatic(records))
	c := newTestCache(p)
	ctx := context.Background()
	box := models.NewBoundingBox(49, 3, 51, 5)
	inner := models.NewBoundingBox(49.9, 3.9, 50.05, 4.05)

	ok, err := c.Prime(box, []models.Record{records[0]})
	require.NoError(t, err)
	require.True(t, ok)

	got, err := c.Query(ctx, box, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids(got))
	assert.Equal(t, int64(0), p.Calls(), "derived entry answers its own box up to its size")

	_, err = c.Query(ctx, inner, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Calls(), "derived entries are never containment sources")

	got, err = c.Query(ctx, box, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids(got))
	assert.Equal(t, int64(2), p.Calls())

	entries := c.Entries()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Exhaustive, "the scan replaced the derived entry")

	ok, err = c.Prime(inner, []models.Record{records[0]})
	require.NoError(t, err)
	assert.False(t, ok, "covered boxes are not primed")

	_, err = c.Prime(box, []models.Record{records[2]})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func BenchmarkQueryHit(b *testing.B) {
	c := newTestCache(dataset.NewStatic(dataset.Generate(100000, 1, dataset.Benelux)))
	ctx := context.Background()
	_, _ = c.Query(ctx, dataset.Benelux, 10)
	box := models.NewBoundingBox(50, 4, 51, 5)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Query(ctx, box, 50)
	}
}

func BenchmarkQueryMiss(b *testing.B) {
	records := dataset.Generate(100000, 1, dataset.Benelux)
	ctx := context.Background()
	box := models.NewBoundingBox(50, 4, 51, 5)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c := newTestCache(dataset.NewStatic(records))
		_, _ = c.Query(ctx, box, 50)
	}
}
