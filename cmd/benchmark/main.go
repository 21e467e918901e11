package main

import (
	"cmp"
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/1F47E/geo-viewport-cache/pkg/dataset"
	"github.com/1F47E/geo-viewport-cache/pkg/geo"
	"github.com/1F47E/geo-viewport-cache/pkg/logging"
	"github.com/1F47E/geo-viewport-cache/pkg/models"
	"github.com/1F47E/geo-viewport-cache/pkg/rtree"
	"github.com/1F47E/geo-viewport-cache/pkg/viewcache"
)

type BenchmarkResult struct {
	Mode          string
	TotalQueries  int
	TotalDuration time.Duration
	QueriesPerSec float64
	AvgDuration   time.Duration
	MinDuration   time.Duration
	P99Duration   time.Duration
	MaxDuration   time.Duration
	TotalResults  int64
	ProviderCalls int64
}

// session is one simulated map user: a start viewport and a sequence of
// pan and zoom steps
type session struct {
	start models.BoundingBox
	steps []func(models.BoundingBox) models.BoundingBox
}

func main() {
	var (
		indexFile  = flag.String("i", "", "R-Tree index file (default: generate -points records)")
		numPoints  = flag.Int("points", 200000, "Records to generate when no index file is given")
		seed       = flag.Int64("seed", 1, "Random seed for data and sessions")
		sessions   = flag.Int("sessions", 200, "Number of simulated map sessions")
		steps      = flag.Int("steps", 25, "Pan/zoom steps per session")
		workers    = flag.Int("w", runtime.NumCPU(), "Number of concurrent workers")
		radius     = flag.Float64("radius", 25.0, "Initial viewport radius in km")
		max        = flag.Int("max", 50, "Records per viewport")
		maxEntries = flag.Int("max-entries", 0, "Cache entry limit (0 = unlimited)")
		baseline   = flag.Bool("baseline", false, "Also run the sessions straight against the provider")
	)
	flag.Parse()
	logging.Init(logging.Config{Level: "warn", Format: "console"})

	index := rtree.NewGeoIndex()
	if *indexFile != "" {
		log.Printf("Loading index from %s...\n", *indexFile)
		if err := index.LoadFromFile(*indexFile); err != nil {
			log.Fatalf("Failed to load index: %v", err)
		}
	} else {
		log.Printf("Generating %d records...\n", *numPoints)
		if err := index.IndexRecords(dataset.Generate(*numPoints, *seed, dataset.Benelux)); err != nil {
			log.Fatalf("Failed to index records: %v", err)
		}
	}
	log.Printf("Index loaded with %d records\n", index.Count())

	all, err := index.GetAll(context.Background())
	if err != nil {
		log.Fatalf("Failed to read records: %v", err)
	}
	plan := buildSessions(all, *sessions, *steps, *radius, *seed)

	log.Printf("Running %d sessions x %d steps with %d workers...\n", *sessions, *steps+1, *workers)

	provider := dataset.NewCountingBox(index)
	cache := viewcache.New(provider, viewcache.WithName("benchmark"), viewcache.WithMaxEntries(*maxEntries))
	printResult(run("cached", plan, *workers, *max, provider, cache.Query), *workers)
	stats := cache.Stats()
	fmt.Printf("Hit Rate: %.3f (hits %d, misses %d, shared %d)\n", stats.HitRate(), stats.Hits, stats.Misses, stats.SharedFlights)
	fmt.Printf("Cache Entries: %d (evictions %d)\n", stats.Entries, stats.Evictions)

	if *baseline {
		direct := dataset.NewCountingBox(index)
		query := func(ctx context.Context, box models.BoundingBox, max int) ([]models.Record, error) {
			records, err := direct.Within(ctx, box)
			if err != nil {
				return nil, err
			}
			slices.SortStableFunc(records, func(a, b models.Record) int {
				return cmp.Compare(b.Importance, a.Importance)
			})
			return records[:min(max, len(records))], nil
		}
		printResult(run("direct", plan, *workers, *max, direct, query), *workers)
	}
}

// buildSessions starts each session on a random record so viewports land
// where the data is
func buildSessions(records []models.Record, n, steps int, radiusKm float64, seed int64) []session {
	r := rand.New(rand.NewSource(seed))
	moves := []func(models.BoundingBox) models.BoundingBox{
		func(b models.BoundingBox) models.BoundingBox { return geo.Pan(b, 0, 0.25) },
		func(b models.BoundingBox) models.BoundingBox { return geo.Pan(b, 0, -0.25) },
		func(b models.BoundingBox) models.BoundingBox { return geo.Pan(b, 0.25, 0) },
		func(b models.BoundingBox) models.BoundingBox { return geo.Pan(b, -0.25, 0) },
		func(b models.BoundingBox) models.BoundingBox { return geo.Zoom(b, 0.5) },
		func(b models.BoundingBox) models.BoundingBox { return geo.Zoom(b, 0.5) },
		func(b models.BoundingBox) models.BoundingBox { return geo.Zoom(b, 2) },
	}

	out := make([]session, n)
	for i := range out {
		center := models.Location{Lat: 50, Lon: 4}
		if len(records) > 0 {
			center = records[r.Intn(len(records))].Location
		}
		s := session{start: geo.BoxAround(center, radiusKm)}
		for j := 0; j < steps; j++ {
			s.steps = append(s.steps, moves[r.Intn(len(moves))])
		}
		out[i] = s
	}
	return out
}

type queryFunc func(ctx context.Context, box models.BoundingBox, max int) ([]models.Record, error)

func run(mode string, plan []session, workers, max int, provider *dataset.CountingBox, query queryFunc) BenchmarkResult {
	var (
		totalResults atomic.Int64
		durations    []time.Duration
		mu           sync.Mutex
	)
	ctx := context.Background()

	startTime := time.Now()

	// Worker pool
	sessionCh := make(chan session, len(plan))
	var wg sync.WaitGroup

	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			local := make([]time.Duration, 0, 64)

			for s := range sessionCh {
				box := s.start
				for i := 0; i <= len(s.steps); i++ {
					if i > 0 {
						box = s.steps[i-1](box)
					}
					qStart := time.Now()
					results, err := query(ctx, box, max)
					local = append(local, time.Since(qStart))
					if err != nil {
						log.Printf("Query %s failed: %v", box, err)
						continue
					}
					totalResults.Add(int64(len(results)))
				}
			}

			mu.Lock()
			durations = append(durations, local...)
			mu.Unlock()
		}()
	}

	for _, s := range plan {
		sessionCh <- s
	}
	close(sessionCh)
	wg.Wait()

	totalDuration := time.Since(startTime)
	result := BenchmarkResult{
		Mode:          mode,
		TotalQueries:  len(durations),
		TotalDuration: totalDuration,
		TotalResults:  totalResults.Load(),
		ProviderCalls: provider.Calls(),
	}
	if len(durations) == 0 {
		return result
	}

	slices.Sort(durations)
	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	result.QueriesPerSec = float64(len(durations)) / totalDuration.Seconds()
	result.AvgDuration = sum / time.Duration(len(durations))
	result.MinDuration = durations[0]
	result.P99Duration = durations[len(durations)*99/100]
	result.MaxDuration = durations[len(durations)-1]
	return result
}

func printResult(result BenchmarkResult, workers int) {
	fmt.Printf("\n=== Benchmark Results (%s) ===\n", result.Mode)
	fmt.Printf("Total Queries: %d\n", result.TotalQueries)
	fmt.Printf("Total Duration: %v\n", result.TotalDuration)
	fmt.Printf("Queries/Second: %.2f\n", result.QueriesPerSec)
	fmt.Printf("Average Duration: %v\n", result.AvgDuration)
	fmt.Printf("Min Duration: %v\n", result.MinDuration)
	fmt.Printf("P99 Duration: %v\n", result.P99Duration)
	fmt.Printf("Max Duration: %v\n", result.MaxDuration)
	fmt.Printf("Total Results: %d\n", result.TotalResults)
	fmt.Printf("Provider Calls: %d\n", result.ProviderCalls)
	if result.TotalQueries > 0 {
		fmt.Printf("Provider Calls/Query: %.3f\n", float64(result.ProviderCalls)/float64(result.TotalQueries))
	}
	fmt.Printf("Workers Used: %d\n", workers)
	fmt.Printf("CPU Cores: %d\n", runtime.NumCPU())
}
