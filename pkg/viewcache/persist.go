package viewcache

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/1F47E/geo-viewport-cache/pkg/dataset"
)

// Store persists cache entries between sessions
type Store interface {
	SaveEntries(ctx context.Context, entries []Entry) error
	LoadEntries(ctx context.Context) ([]Entry, error)
}

// Save writes a snapshot of the cache to s
func (c *Cache) Save(ctx context.Context, s Store) error {
	entries := c.Entries()
	if err := s.SaveEntries(ctx, entries); err != nil {
		return fmt.Errorf("failed to save cache: %w", err)
	}
	c.log.Info().Int("entries", len(entries)).Msg("cache snapshot saved")
	return nil
}

// Load merges the exhaustive entries held by s into the cache and returns how
// many were kept. Derived entries and entries with malformed bounds are
// skipped; results are re-filtered and re-sorted so a stale or hand-edited
// snapshot cannot break ordering.
func (c *Cache) Load(ctx context.Context, s Store) (int, error) {
	entries, err := s.LoadEntries(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load cache: %w", err)
	}

	// Larger boxes first so covered ones are skipped rather than evicted
	slices.SortStableFunc(entries, func(a, b Entry) int {
		return cmp.Compare(area(b.Bounds), area(a.Bounds))
	})

	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()

	kept, skipped := 0, 0
	for _, e := range entries {
		if !e.Exhaustive {
			skipped++
			continue
		}
		if err := e.Bounds.Validate(); err != nil {
			c.log.Warn().Err(err).Msg("skipping persisted entry")
			skipped++
			continue
		}
		e.Results = dataset.Filter(e.Results, e.Bounds)
		sortByImportance(e.Results)
		if e.CreatedAt.IsZero() {
			e.CreatedAt = c.now()
		}
		if c.insert(e, gen) {
			kept++
		}
	}

	c.log.Info().Int("kept", kept).Int("skipped", skipped).Int("total", len(entries)).Msg("cache snapshot loaded")
	return kept, nil
}
