package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/1F47E/geo-viewport-cache/pkg/dataset"
	"github.com/1F47E/geo-viewport-cache/pkg/logging"
	"github.com/1F47E/geo-viewport-cache/pkg/models"
	"github.com/1F47E/geo-viewport-cache/pkg/rtree"
)

var (
	genCount  int
	genSeed   int64
	genOutput string
	genRegion []float64
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a synthetic dataset",
	Long: `Generate random records inside a region and write them as YAML, JSON
or an R-Tree gob index, chosen by the output extension.`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().IntVarP(&genCount, "count", "n", 100000, "Number of records to generate")
	generateCmd.Flags().Int64Var(&genSeed, "seed", time.Now().UnixNano(), "Random seed")
	generateCmd.Flags().StringVarP(&genOutput, "output", "o", "data/records.gob", "Output file (.yaml, .yml, .json or .gob)")
	generateCmd.Flags().Float64SliceVar(&genRegion, "region", []float64{
		dataset.Benelux.BottomLeft.Lat, dataset.Benelux.BottomLeft.Lon,
		dataset.Benelux.TopRight.Lat, dataset.Benelux.TopRight.Lon,
	}, "Region as swLat,swLon,neLat,neLon")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}
	log := logging.With("generate")

	if len(genRegion) != 4 {
		return fmt.Errorf("--region needs 4 values, got %d", len(genRegion))
	}
	region := models.NewBoundingBox(genRegion[0], genRegion[1], genRegion[2], genRegion[3])
	if err := region.Validate(); err != nil {
		return err
	}

	start := time.Now()
	records := dataset.Generate(genCount, genSeed, region)
	log.Info().Int("records", len(records)).Stringer("region", region).Dur("elapsed", time.Since(start)).Msg("generated")

	start = time.Now()
	if strings.EqualFold(filepath.Ext(genOutput), ".gob") {
		if err := os.MkdirAll(filepath.Dir(genOutput), 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		index := rtree.NewGeoIndex()
		if err := index.IndexRecords(records); err != nil {
			return err
		}
		if err := index.SaveToFile(genOutput); err != nil {
			return err
		}
	} else if err := dataset.SaveFile(genOutput, records); err != nil {
		return err
	}

	ev := log.Info().Str("path", genOutput).Dur("elapsed", time.Since(start))
	if fi, err := os.Stat(genOutput); err == nil {
		ev = ev.Float64("size_mb", float64(fi.Size())/(1024*1024))
	}
	ev.Msg("saved")
	return nil
}
