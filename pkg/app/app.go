// Package app turns a loaded configuration into the provider, cache and
// snapshot store used by the binaries.
package app

import (
	"context"
	"fmt"

	"github.com/1F47E/geo-viewport-cache/pkg/config"
	"github.com/1F47E/geo-viewport-cache/pkg/dataset"
	"github.com/1F47E/geo-viewport-cache/pkg/logging"
	"github.com/1F47E/geo-viewport-cache/pkg/postgis"
	"github.com/1F47E/geo-viewport-cache/pkg/rtree"
	"github.com/1F47E/geo-viewport-cache/pkg/store"
	"github.com/1F47E/geo-viewport-cache/pkg/viewcache"
)

// GenerateRegion is where the generate source scatters its records
var GenerateRegion = dataset.Benelux

func noop() error { return nil }

// OpenProvider builds the dataset provider selected by cfg, behind a circuit
// breaker when one is enabled. The returned close function releases database
// connections and is never nil.
func OpenProvider(ctx context.Context, cfg *config.Config) (dataset.Provider, func() error, error) {
	p, closeFn, err := openSource(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if b := cfg.Dataset.Breaker; b.Enabled {
		p = dataset.NewBreaker(p, dataset.BreakerConfig{
			Name:             cfg.Cache.Name,
			FailureThreshold: b.FailureThreshold,
			Timeout:          b.Timeout,
		})
	}
	return p, closeFn, nil
}

func openSource(ctx context.Context, cfg *config.Config) (dataset.Provider, func() error, error) {
	log := logging.With("app")

	switch cfg.Dataset.Source {
	case config.SourceGenerate:
		records := dataset.Generate(cfg.Dataset.Size, cfg.Dataset.Seed, GenerateRegion)
		index := rtree.NewGeoIndex()
		if err := index.IndexRecords(records); err != nil {
			return nil, nil, err
		}
		log.Info().Int("records", len(records)).Int64("seed", cfg.Dataset.Seed).Msg("generated dataset")
		return index, noop, nil

	case config.SourceFile:
		records, err := dataset.LoadFile(cfg.Dataset.Path)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Int("records", len(records)).Str("path", cfg.Dataset.Path).Msg("loaded dataset")
		return dataset.NewStatic(records), noop, nil

	case config.SourceRTree:
		index := rtree.NewGeoIndex()
		if err := index.LoadFromFile(cfg.Dataset.Path); err != nil {
			return nil, nil, fmt.Errorf("failed to load index %s: %w", cfg.Dataset.Path, err)
		}
		log.Info().Int64("records", index.Count()).Str("path", cfg.Dataset.Path).Msg("loaded index")
		return index, noop, nil

	case config.SourcePostGIS:
		p, err := postgis.Open(ctx, cfg.PostGIS)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	}

	return nil, nil, fmt.Errorf("unknown dataset source %q", cfg.Dataset.Source)
}

// OpenStore builds the snapshot store selected by cfg. It returns a nil
// store for kind none.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (viewcache.Store, func() error, error) {
	switch cfg.Kind {
	case config.StoreNone, "":
		return nil, noop, nil

	case config.StoreFile:
		return store.NewFile(cfg.Path), noop, nil

	case config.StoreBadger:
		db, err := store.OpenBadger(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store.NewBadger(db), db.Close, nil

	case config.StoreRedis:
		client, err := store.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return store.NewRedis(client, cfg.RedisKey), client.Close, nil
	}

	return nil, nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
}

// NewCache builds a cache over p using the cache section of cfg
func NewCache(cfg *config.Config, p dataset.Provider, opts ...viewcache.Option) *viewcache.Cache {
	base := []viewcache.Option{
		viewcache.WithName(cfg.Cache.Name),
		viewcache.WithMaxEntries(cfg.Cache.MaxEntries),
		viewcache.WithProviderTimeout(cfg.Cache.ProviderTimeout),
	}
	return viewcache.New(p, append(base, opts...)...)
}
