package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/1F47E/geo-viewport-cache/pkg/app"
	"github.com/1F47E/geo-viewport-cache/pkg/config"
	"github.com/1F47E/geo-viewport-cache/pkg/logging"
	"github.com/1F47E/geo-viewport-cache/pkg/postgis"
)

var loadPostGISCmd = &cobra.Command{
	Use:   "load-postgis",
	Short: "Copy the configured dataset into PostGIS",
	Long: `Recreate the locations table and bulk insert the records of the
configured dataset (generate, file or rtree source), then build the spatial
index. Point dataset.source at postgis afterwards to serve from it.`,
	RunE: runLoadPostGIS,
}

func runLoadPostGIS(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.With("load-postgis")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if cfg.Dataset.Source == config.SourcePostGIS {
		cfg.Dataset.Source = config.SourceGenerate
	}
	src, closeSrc, err := app.OpenProvider(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSrc()

	records, err := src.GetAll(ctx)
	if err != nil {
		return err
	}

	db, err := postgis.Open(ctx, cfg.PostGIS)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.InitSchema(ctx); err != nil {
		return err
	}

	start := time.Now()
	if err := db.BulkInsert(ctx, records); err != nil {
		return err
	}
	elapsed := time.Since(start)
	log.Info().
		Int("records", len(records)).
		Dur("elapsed", elapsed).
		Float64("records_per_sec", float64(len(records))/elapsed.Seconds()).
		Msg("inserted")

	if err := db.CreateSpatialIndex(ctx); err != nil {
		return err
	}

	stats, err := db.Stats(ctx)
	if err != nil {
		return err
	}
	log.Info().Interface("stats", stats).Msg("done")
	return nil
}
