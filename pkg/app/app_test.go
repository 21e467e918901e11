package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1F47E/geo-viewport-cache/pkg/config"
	"github.com/1F47E/geo-viewport-cache/pkg/dataset"
	"github.com/1F47E/geo-viewport-cache/pkg/models"
	"github.com/1F47E/geo-viewport-cache/pkg/rtree"
	"github.com/1F47E/geo-viewport-cache/pkg/store"
	"github.com/1F47E/geo-viewport-cache/pkg/viewcache"
)

func TestOpenProviderSources(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	records := dataset.Generate(400, 7, dataset.Benelux)

	yamlPath := filepath.Join(dir, "records.yaml")
	require.NoError(t, dataset.SaveFile(yamlPath, records))

	gobPath := filepath.Join(dir, "records.gob")
	index := rtree.NewGeoIndex()
	require.NoError(t, index.IndexRecords(records))
	require.NoError(t, index.SaveToFile(gobPath))

	testCases := []struct {
		name    string
		dataset config.DatasetConfig
	}{
		{"generate", config.DatasetConfig{Source: config.SourceGenerate, Size: 400, Seed: 7}},
		{"file", config.DatasetConfig{Source: config.SourceFile, Path: yamlPath}},
		{"rtree", config.DatasetConfig{Source: config.SourceRTree, Path: gobPath}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Dataset = tc.dataset

			p, closeFn, err := OpenProvider(ctx, cfg)
			require.NoError(t, err)
			defer closeFn()

			got, err := p.GetAll(ctx)
			require.NoError(t, err)
			assert.Equal(t, records, got)
		})
	}
}

func TestOpenProviderBreaker(t *testing.T) {
	cfg := config.Default()
	cfg.Dataset.Size = 50

	p, closeFn, err := OpenProvider(context.Background(), cfg)
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &dataset.BreakerBox{}, p)

	cfg.Dataset.Breaker.Enabled = false
	p, closeFn, err = OpenProvider(context.Background(), cfg)
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &rtree.GeoIndex{}, p)
}

func TestOpenProviderMissingFile(t *testing.T) {
	cfg := config.Default()
	cfg.Dataset = config.DatasetConfig{Source: config.SourceRTree, Path: filepath.Join(t.TempDir(), "absent.gob")}

	_, _, err := OpenProvider(context.Background(), cfg)
	assert.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, closeFn, err := OpenStore(ctx, config.StoreConfig{Kind: config.StoreNone})
	require.NoError(t, err)
	assert.Nil(t, s)
	require.NoError(t, closeFn())

	s, closeFn, err = OpenStore(ctx, config.StoreConfig{Kind: config.StoreFile, Path: filepath.Join(dir, "cache.gob")})
	require.NoError(t, err)
	assert.IsType(t, &store.File{}, s)
	require.NoError(t, closeFn())

	s, closeFn, err = OpenStore(ctx, config.StoreConfig{Kind: config.StoreBadger, Path: filepath.Join(dir, "badger")})
	require.NoError(t, err)
	assert.IsType(t, &store.Badger{}, s)
	require.NoError(t, closeFn())

	_, _, err = OpenStore(ctx, config.StoreConfig{Kind: "s3"})
	assert.Error(t, err)
}

func TestNewCacheAppliesConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Name = "app-test"
	cfg.Cache.MaxEntries = 1

	c := NewCache(cfg, dataset.NewStatic(dataset.Generate(100, 1, dataset.Benelux)), viewcache.WithMetrics(false))
	assert.Equal(t, "app-test", c.Name())

	ctx := context.Background()
	_, err := c.Query(ctx, models.NewBoundingBox(50, 3, 50.5, 3.5), 5)
	require.NoError(t, err)
	_, err = c.Query(ctx, models.NewBoundingBox(52, 5, 52.5, 5.5), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
}
