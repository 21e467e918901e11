package main

import (
	"context"
	"fmt"
	"log"

	"github.com/1F47E/geo-viewport-cache/pkg/dataset"
	"github.com/1F47E/geo-viewport-cache/pkg/geo"
	"github.com/1F47E/geo-viewport-cache/pkg/models"
	"github.com/1F47E/geo-viewport-cache/pkg/rtree"
	"github.com/1F47E/geo-viewport-cache/pkg/viewcache"
)

func main() {
	ctx := context.Background()

	// Three records: two around Brussels-ish coordinates, one in Norway
	records := []models.Record{
		{ID: 1, Name: "Grand Library", Importance: 0.9, Location: models.Location{Lat: 50.0, Lon: 4.0}},
		{ID: 2, Name: "Town Hall", Importance: 0.5, Location: models.Location{Lat: 50.1, Lon: 4.1}},
		{ID: 3, Name: "Fjord Chapel", Importance: 0.2, Location: models.Location{Lat: 60.0, Lon: 10.0}},
	}

	index := rtree.NewGeoIndex()
	if err := index.IndexRecords(records); err != nil {
		log.Fatal(err)
	}
	provider := dataset.NewCountingBox(index)
	cache := viewcache.New(provider, viewcache.WithName("example"))

	// Example 1: the first viewport is a miss
	fmt.Println("=== Viewport [49,3 .. 51,5] ===")
	wide := models.NewBoundingBox(49.0, 3.0, 51.0, 5.0)
	results, err := cache.Query(ctx, wide, 10)
	if err != nil {
		log.Fatal(err)
	}
	printResults(results)
	fmt.Printf("provider calls so far: %d\n", provider.Calls())

	// Example 2: zooming in is answered from the cached entry
	fmt.Println("\n=== Zoomed viewport [49.9,3.9 .. 50.2,4.2] ===")
	zoomed := models.NewBoundingBox(49.9, 3.9, 50.2, 4.2)
	results, err = cache.Query(ctx, zoomed, 10)
	if err != nil {
		log.Fatal(err)
	}
	printResults(results)
	fmt.Printf("provider calls so far: %d\n", provider.Calls())

	// Example 3: a limit keeps only the most important records
	fmt.Println("\n=== Top 1 in the wide viewport ===")
	results, err = cache.Query(ctx, wide, 1)
	if err != nil {
		log.Fatal(err)
	}
	printResults(results)

	// Example 4: zooming out past the cached box is a miss that replaces it
	fmt.Println("\n=== Zoomed out around the first record ===")
	out := geo.Zoom(wide, 8)
	results, err = cache.Query(ctx, out, viewcache.NoLimit)
	if err != nil {
		log.Fatal(err)
	}
	printResults(results)

	for _, e := range cache.Entries() {
		fmt.Printf("cached %s: %d records\n", e.Bounds, len(e.Results))
	}

	// Example 5: invalid arguments never reach the provider
	fmt.Println("\n=== Invalid viewport ===")
	_, err = cache.Query(ctx, models.NewBoundingBox(51, 3, 49, 5), 10)
	fmt.Printf("error: %v\n", err)

	stats := cache.Stats()
	fmt.Printf("\nhits=%d misses=%d evictions=%d hit_rate=%.2f\n",
		stats.Hits, stats.Misses, stats.Evictions, stats.HitRate())
}

func printResults(results []models.Record) {
	fmt.Printf("Found %d records:\n", len(results))
	for _, r := range results {
		fmt.Printf("  - %d %s: importance %.1f at (%.2f, %.2f)\n", r.ID, r.Name, r.Importance, r.Location.Lat, r.Location.Lon)
	}
}
