package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/1F47E/geo-viewport-cache/pkg/app"
	"github.com/1F47E/geo-viewport-cache/pkg/geo"
	"github.com/1F47E/geo-viewport-cache/pkg/models"
	"github.com/1F47E/geo-viewport-cache/pkg/server"
	"github.com/1F47E/geo-viewport-cache/pkg/viewcache"
)

var (
	queryBoxes []string
	queryMax   int
	queryNear  []float64
	queryJSON  bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run viewport queries against the configured dataset",
	Long: `Run one or more viewport queries through a fresh cache and print the
results with hit/miss statistics. Later boxes inside earlier ones are
answered from the cache.`,
	Example: `  viewcache query --bbox 49,3,51,5 --bbox 49.9,3.9,50.2,4.2 --max 10`,
	RunE:    runQuery,
}

func init() {
	queryCmd.Flags().StringArrayVarP(&queryBoxes, "bbox", "b", nil, "Viewport as swLat,swLon,neLat,neLon (repeatable)")
	queryCmd.Flags().IntVarP(&queryMax, "max", "m", 20, "Maximum records per query (-1 for all)")
	queryCmd.Flags().Float64SliceVar(&queryNear, "near", nil, "Print distances from lat,lon")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "Output results as JSON")
	queryCmd.MarkFlagRequired("bbox")
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var near *models.Location
	if len(queryNear) > 0 {
		if len(queryNear) != 2 {
			return fmt.Errorf("--near needs lat,lon")
		}
		near = &models.Location{Lat: queryNear[0], Lon: queryNear[1]}
		if err := near.Validate(); err != nil {
			return err
		}
	}

	max := queryMax
	if max < 0 {
		max = viewcache.NoLimit
	}

	p, closeFn, err := app.OpenProvider(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	cache := app.NewCache(cfg, p)

	for _, raw := range queryBoxes {
		box, err := server.ParseBBox(raw)
		if err != nil {
			return err
		}

		before := cache.Stats()
		records, err := cache.Query(ctx, box, max)
		if err != nil {
			return err
		}
		outcome := "miss"
		if cache.Stats().Hits > before.Hits {
			outcome = "hit"
		}

		if queryJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(map[string]any{"bbox": box, "outcome": outcome, "records": records}); err != nil {
				return fmt.Errorf("failed to encode results: %w", err)
			}
			continue
		}

		fmt.Printf("%s %s: %d records\n", box, strings.ToUpper(outcome), len(records))
		printRecords(records, near)
	}

	stats := cache.Stats()
	fmt.Fprintf(os.Stderr, "hits=%d misses=%d entries=%d hit_rate=%.2f\n",
		stats.Hits, stats.Misses, stats.Entries, stats.HitRate())
	return nil
}

func printRecords(records []models.Record, near *models.Location) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for i, r := range records {
		line := fmt.Sprintf("  %d.\t%d\t%s\t%.4f\t(%.5f, %.5f)", i+1, r.ID, r.Name, r.Importance, r.Location.Lat, r.Location.Lon)
		if near != nil {
			line += fmt.Sprintf("\t%.2f km", geo.Distance(*near, r.Location))
		}
		fmt.Fprintln(tw, line)
	}
	tw.Flush()
}
