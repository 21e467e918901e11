package viewcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1F47E/geo-viewport-cache/pkg/dataset"
	"github.com/1F47E/geo-viewport-cache/pkg/models"
)

type memStore struct {
	entries []Entry
	err     error
}

func (m *memStore) SaveEntries(_ context.Context, entries []Entry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = entries
	return nil
}

func (m *memStore) LoadEntries(_ context.Context) ([]Entry, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.entries, nil
}

func TestSaveLoadRoundTrip(t *testing.T) {
	records := tiedRecords(800, 17)
	ctx := context.Background()
	store := &memStore{}

	src := newTestCache(dataset.NewStatic(records))
	boxes := []models.BoundingBox{
		models.NewBoundingBox(50, 3, 51, 4),
		models.NewBoundingBox(52, 5, 53, 6),
	}
	for _, b := range boxes {
		_, err := src.Query(ctx, b, 10)
		require.NoError(t, err)
	}
	require.NoError(t, src.Save(ctx, store))
	require.Len(t, store.entries, 2)

	p := dataset.NewCounting(dataset.NewStatic(records))
	dst := newTestCache(p)
	kept, err := dst.Load(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 2, kept)

	for _, b := range boxes {
		want, err := src.Query(ctx, b, 25)
		require.NoError(t, err)
		got, err := dst.Query(ctx, b, 25)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, int64(0), p.Calls())
}

func TestLoadSkipsCoveredAndMalformedEntries(t *testing.T) {
	records := scenarioRecords()
	large := models.NewBoundingBox(49, 3, 51, 5)
	small := models.NewBoundingBox(49.9, 3.9, 50.2, 4.2)
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	store := &memStore{entries: []Entry{
		{Bounds: small, Results: dataset.Filter(records, small), Exhaustive: true, CreatedAt: created},
		{Bounds: models.NewBoundingBox(51, 3, 49, 5), Exhaustive: true},
		// unsorted and with a stray record outside the box
		{Bounds: large, Results: []models.Record{records[1], records[2], records[0]}, Exhaustive: true},
	}}

	c := newTestCache(dataset.NewStatic(records), WithClock(func() time.Time { return created }))
	kept, err := c.Load(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, 1, kept)

	entries := c.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, large, entries[0].Bounds)
	assert.Equal(t, []int64{1, 2}, ids(entries[0].Results))
	assert.Equal(t, created, entries[0].CreatedAt)
}

func TestStoreErrorsAreWrapped(t *testing.T) {
	boom := errors.New("disk full")
	c := newTestCache(dataset.NewStatic(nil))

	err := c.Save(context.Background(), &memStore{err: boom})
	assert.ErrorIs(t, err, boom)

	_, err = c.Load(context.Background(), &memStore{err: boom})
	assert.ErrorIs(t, err, boom)
}
