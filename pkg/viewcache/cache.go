package viewcache

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/1F47E/geo-viewport-cache/pkg/dataset"
	"github.com/1F47E/geo-viewport-cache/pkg/geo"
	"github.com/1F47E/geo-viewport-cache/pkg/logging"
	"github.com/1F47E/geo-viewport-cache/pkg/metrics"
	"github.com/1F47E/geo-viewport-cache/pkg/models"
)

// ErrInvalidArgument is returned for malformed boxes and negative limits
var ErrInvalidArgument = errors.New("invalid argument")

// NoLimit asks Query for every record in the box
const NoLimit = math.MaxInt

// Entry is a cached query result
type Entry struct {
	Bounds models.BoundingBox
	// Results are ordered by descending importance
	Results []models.Record
	// Exhaustive entries hold every record inside Bounds
	Exhaustive bool
	CreatedAt  time.Time
}

func (e Entry) clone() Entry {
	e.Results = slices.Clone(e.Results)
	return e
}

type entry struct {
	Entry
	seq uint64
}

// Stats is a point-in-time view of cache counters
type Stats struct {
	Hits           int64 `json:"hits"`
	Misses         int64 `json:"misses"`
	SharedFlights  int64 `json:"shared_flights"`
	Evictions      int64 `json:"evictions"`
	ProviderErrors int64 `json:"provider_errors"`
	Entries        int   `json:"entries"`
}

// HitRate returns hits / (hits + misses), or 0 before the first query
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache is a viewport result cache in front of a dataset provider
type Cache struct {
	provider        dataset.Provider
	name            string
	log             zerolog.Logger
	providerTimeout time.Duration
	maxEntries      int
	now             func() time.Time
	metrics         bool

	mu      sync.RWMutex
	entries map[string]*entry
	seq     uint64
	// gen changes on every invalidation; fills started under an older
	// generation do not insert
	gen uint64

	group singleflight.Group

	hits           atomic.Int64
	misses         atomic.Int64
	sharedFlights  atomic.Int64
	evictions      atomic.Int64
	providerErrors atomic.Int64
}

// New creates an empty cache in front of provider
func New(provider dataset.Provider, opts ...Option) *Cache {
	c := &Cache{
		provider: provider,
		name:     "default",
		log:      logging.With("viewcache"),
		now:      time.Now,
		metrics:  true,
		entries:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("cache", c.name).Logger()
	return c
}

// Query returns up to max records inside box, most important first.
// Records of equal importance keep the provider's order.
func (c *Cache) Query(ctx context.Context, box models.BoundingBox, max int) ([]models.Record, error) {
	if max < 0 {
		return nil, fmt.Errorf("%w: max must not be negative, got %d", ErrInvalidArgument, max)
	}
	if err := box.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	if res, ok := c.lookup(box, max); ok {
		c.recordHit()
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := c.group.DoChan(box.Key(), func() (any, error) {
		return c.fill(context.WithoutCancel(ctx), box)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Shared {
			c.sharedFlights.Add(1)
			if c.metrics {
				metrics.CacheSharedFlights.WithLabelValues(c.name).Inc()
			}
		}
		return head(r.Val.([]models.Record), max), nil
	}
}

// lookup answers from the smallest exhaustive entry containing box, or from
// a derived entry for exactly box that holds at least max records
func (c *Cache) lookup(box models.BoundingBox, max int) ([]models.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if e, ok := c.entries[box.Key()]; ok && !e.Exhaustive && len(e.Results) >= max {
		return head(e.Results, max), true
	}

	e := c.containing(box)
	if e == nil {
		return nil, false
	}
	return filterTop(e.Results, box, max), true
}

// containing returns the smallest exhaustive entry whose bounds contain box.
// Caller must hold mu.
func (c *Cache) containing(box models.BoundingBox) *entry {
	var best *entry
	bestArea := math.Inf(1)
	for _, e := range c.entries {
		if !e.Exhaustive || !geo.Contains(e.Bounds, box) {
			continue
		}
		if a := area(e.Bounds); a < bestArea {
			best, bestArea = e, a
		}
	}
	return best
}

// fill runs once per concurrent miss on box. The returned slice is shared
// between waiters and must not be modified.
func (c *Cache) fill(ctx context.Context, box models.BoundingBox) ([]models.Record, error) {
	c.mu.RLock()
	gen := c.gen
	if e := c.containing(box); e != nil {
		// another flight covered this box while we were queued
		res := filterTop(e.Results, box, NoLimit)
		c.mu.RUnlock()
		c.recordHit()
		return res, nil
	}
	c.mu.RUnlock()

	c.misses.Add(1)
	if c.metrics {
		metrics.CacheMisses.WithLabelValues(c.name).Inc()
	}

	if c.providerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.providerTimeout)
		defer cancel()
	}

	records, err := c.fetch(ctx, box)
	if err != nil {
		c.providerErrors.Add(1)
		if c.metrics {
			metrics.ProviderErrors.WithLabelValues(c.name).Inc()
		}
		logging.Ctx(ctx).Warn().Err(err).Str("cache", c.name).Stringer("bbox", box).Msg("dataset provider failed")
		return nil, err
	}

	sortByImportance(records)
	c.insert(Entry{Bounds: box, Results: records, Exhaustive: true, CreatedAt: c.now()}, gen)

	c.log.Debug().Stringer("bbox", box).Int("records", len(records)).Msg("cache miss filled")
	return records, nil
}

// fetch asks the provider for the records inside box, in provider order
func (c *Cache) fetch(ctx context.Context, box models.BoundingBox) ([]models.Record, error) {
	method := "get_all"
	start := time.Now()
	defer func() {
		if c.metrics {
			metrics.ProviderDuration.WithLabelValues(c.name, method).Observe(time.Since(start).Seconds())
		}
	}()

	if bp, ok := c.provider.(dataset.BoxProvider); ok {
		method = "within"
		records, err := bp.Within(ctx, box)
		if err != nil {
			return nil, err
		}
		// providers may over-select at the edges
		return dataset.Filter(records, box), nil
	}

	records, err := c.provider.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return dataset.Filter(records, box), nil
}

// insert stores e unless an exhaustive entry already covers it or the cache
// was invalidated after gen was read. Entries covered by e are evicted.
func (c *Cache) insert(e Entry, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return false
	}
	if c.containing(e.Bounds) != nil {
		return false
	}

	key := e.Bounds.Key()
	if old, ok := c.entries[key]; ok && !e.Exhaustive && len(old.Results) >= len(e.Results) {
		return false
	}

	if e.Exhaustive {
		for k, old := range c.entries {
			if geo.Contains(e.Bounds, old.Bounds) {
				delete(c.entries, k)
				c.recordEviction("subsumed")
			}
		}
	}

	c.seq++
	c.entries[key] = &entry{Entry: e, seq: c.seq}

	if c.maxEntries > 0 {
		for len(c.entries) > c.maxEntries {
			c.evictOldest()
		}
	}

	c.updateGauge()
	return true
}

// evictOldest removes the entry with the lowest sequence. Caller must hold mu.
func (c *Cache) evictOldest() {
	var (
		oldestKey string
		oldestSeq uint64 = math.MaxUint64
	)
	for k, e := range c.entries {
		if e.seq < oldestSeq {
			oldestKey, oldestSeq = k, e.seq
		}
	}
	delete(c.entries, oldestKey)
	c.recordEviction("capacity")
}

// Prime stores results for box as a derived entry: it answers only queries
// for exactly box, and only up to len(results) records. results must be the
// most important records inside box; they are re-sorted by importance.
// Returns false if the cache already covers box.
func (c *Cache) Prime(box models.BoundingBox, results []models.Record) (bool, error) {
	if err := box.Validate(); err != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	records := dataset.Filter(results, box)
	if len(records) != len(results) {
		return false, fmt.Errorf("%w: %d records lie outside %s", ErrInvalidArgument, len(results)-len(records), box)
	}
	sortByImportance(records)

	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()

	return c.insert(Entry{Bounds: box, Results: records, CreatedAt: c.now()}, gen), nil
}

// Clear drops every entry. Fills already in flight will not be stored.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[string]*entry)
	c.gen++
	for i := 0; i < n; i++ {
		c.recordEviction("invalidated")
	}
	c.updateGauge()
}

// Invalidate drops the entry stored for exactly box
func (c *Cache) Invalidate(box models.BoundingBox) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	key := box.Key()
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	c.recordEviction("invalidated")
	c.updateGauge()
	return true
}

// InvalidateRegion drops every entry whose bounds intersect box and returns
// how many were removed
func (c *Cache) InvalidateRegion(box models.BoundingBox) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	removed := 0
	for k, e := range c.entries {
		if geo.Intersects(e.Bounds, box) {
			delete(c.entries, k)
			c.recordEviction("invalidated")
			removed++
		}
	}
	c.updateGauge()
	return removed
}

// Len returns the number of cached entries
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Entries returns a deep copy of the cached entries, oldest first
func (c *Cache) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sorted := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		sorted = append(sorted, e)
	}
	slices.SortFunc(sorted, func(a, b *entry) int { return cmp.Compare(a.seq, b.seq) })

	out := make([]Entry, len(sorted))
	for i, e := range sorted {
		out[i] = e.clone()
	}
	return out
}

// Stats returns the current counters
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:           c.hits.Load(),
		Misses:         c.misses.Load(),
		SharedFlights:  c.sharedFlights.Load(),
		Evictions:      c.evictions.Load(),
		ProviderErrors: c.providerErrors.Load(),
		Entries:        c.Len(),
	}
}

// Name returns the cache label
func (c *Cache) Name() string {
	return c.name
}

func (c *Cache) recordHit() {
	c.hits.Add(1)
	if c.metrics {
		metrics.CacheHits.WithLabelValues(c.name).Inc()
	}
}

func (c *Cache) recordEviction(reason string) {
	c.evictions.Add(1)
	if c.metrics {
		metrics.CacheEvictions.WithLabelValues(c.name, reason).Inc()
	}
}

// updateGauge must be called with mu held
func (c *Cache) updateGauge() {
	if c.metrics {
		metrics.CacheEntries.WithLabelValues(c.name).Set(float64(len(c.entries)))
	}
}

// sortByImportance orders records by descending importance, keeping the
// relative order of ties
func sortByImportance(records []models.Record) {
	slices.SortStableFunc(records, func(a, b models.Record) int {
		return cmp.Compare(b.Importance, a.Importance)
	})
}

// filterTop returns up to max records of src inside box, in src order
func filterTop(src []models.Record, box models.BoundingBox, max int) []models.Record {
	out := make([]models.Record, 0, min(max, len(src)))
	for _, r := range src {
		if len(out) >= max {
			break
		}
		if geo.PointInBox(r.Location, box) {
			out = append(out, r)
		}
	}
	return out
}

// head copies the first max records of src
func head(src []models.Record, max int) []models.Record {
	n := min(max, len(src))
	out := make([]models.Record, n)
	copy(out, src[:n])
	return out
}

func area(b models.BoundingBox) float64 {
	return (b.TopRight.Lat - b.BottomLeft.Lat) * (b.TopRight.Lon - b.BottomLeft.Lon)
}
