// Package rtree implements an R-Tree backed record index that serves as a
// dataset provider for the viewport cache. The index is split into longitude
// bands searched in parallel; results are returned in insertion order.
package rtree

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dhconnelly/rtreego"

	"github.com/1F47E/geo-viewport-cache/pkg/geo"
	"github.com/1F47E/geo-viewport-cache/pkg/models"
)

const (
	tolerance   = 0.01
	minChildren = 25
	maxChildren = 50
	dimensions  = 2
)

// spatialRecord wraps a record to implement rtreego.Spatial
type spatialRecord struct {
	seq    int
	record models.Record
	rect   *rtreego.Rect
}

func (sr *spatialRecord) Bounds() *rtreego.Rect {
	return sr.rect
}

// GeoIndex is a thread-safe R-Tree based record index
type GeoIndex struct {
	// Partitioned trees for parallel query execution, one per longitude band
	partitions    []*rtreego.Rtree
	numPartitions int

	mu        sync.RWMutex
	records   []models.Record
	itemCount atomic.Int64
}

// NewGeoIndex creates a new index with one partition per CPU
func NewGeoIndex() *GeoIndex {
	return NewGeoIndexWithWorkers(runtime.NumCPU())
}

// NewGeoIndexWithWorkers creates a new index with the given partition count
func NewGeoIndexWithWorkers(numPartitions int) *GeoIndex {
	if numPartitions <= 0 {
		numPartitions = runtime.NumCPU()
	}

	g := &GeoIndex{
		partitions:    make([]*rtreego.Rtree, numPartitions),
		numPartitions: numPartitions,
	}
	for i := range g.partitions {
		g.partitions[i] = rtreego.NewTree(dimensions, minChildren, maxChildren)
	}
	return g
}

// IndexRecords appends records to the index.
// Records with invalid coordinates are rejected before anything is inserted.
func (g *GeoIndex) IndexRecords(records []models.Record) error {
	for _, r := range records {
		if err := r.Location.Validate(); err != nil {
			return fmt.Errorf("failed to index record %d: %w", r.ID, err)
		}
	}
	if len(records) == 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	base := len(g.records)
	grouped := make([][]*spatialRecord, g.numPartitions)
	for i, r := range records {
		p := rtreego.Point{r.Location.Lat, r.Location.Lon}
		item := &spatialRecord{seq: base + i, record: r, rect: p.ToRect(tolerance)}
		idx := g.partitionFor(r.Location.Lon)
		grouped[idx] = append(grouped[idx], item)
	}

	var wg sync.WaitGroup
	for i, items := range grouped {
		if len(items) == 0 {
			continue
		}
		wg.Add(1)
		go func(tree *rtreego.Rtree, items []*spatialRecord) {
			defer wg.Done()
			for _, item := range items {
				tree.Insert(item)
			}
		}(g.partitions[i], items)
	}
	wg.Wait()

	g.records = append(g.records, records...)
	g.itemCount.Store(int64(len(g.records)))
	return nil
}

// GetAll returns every indexed record in insertion order
func (g *GeoIndex) GetAll(ctx context.Context) ([]models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]models.Record, len(g.records))
	copy(out, g.records)
	return out, nil
}

// Within returns all records inside box in insertion order
func (g *GeoIndex) Within(ctx context.Context, box models.BoundingBox) ([]models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := box.Validate(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	// Pad by the point tolerance so degenerate boxes still form a valid rect
	bounds, err := rtreego.NewRect(
		rtreego.Point{box.BottomLeft.Lat - tolerance, box.BottomLeft.Lon - tolerance},
		[]float64{
			box.TopRight.Lat - box.BottomLeft.Lat + 2*tolerance,
			box.TopRight.Lon - box.BottomLeft.Lon + 2*tolerance,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("invalid bounding box: %w", err)
	}

	relevant := g.relevantPartitions(box)
	resultsChan := make(chan []*spatialRecord, len(relevant))

	for _, idx := range relevant {
		go func(tree *rtreego.Rtree) {
			hits := tree.SearchIntersect(bounds)
			items := make([]*spatialRecord, 0, len(hits))
			for _, h := range hits {
				item, ok := h.(*spatialRecord)
				if !ok {
					continue
				}
				// Strict boundary check
				if geo.PointInBox(item.record.Location, box) {
					items = append(items, item)
				}
			}
			resultsChan <- items
		}(g.partitions[idx])
	}

	var merged []*spatialRecord
	for range relevant {
		merged = append(merged, <-resultsChan...)
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].seq < merged[j].seq })

	out := make([]models.Record, len(merged))
	for i, item := range merged {
		out[i] = item.record
	}
	return out, nil
}

// NearestNeighbors returns up to n records closest to center, nearest first
func (g *GeoIndex) NearestNeighbors(center models.Location, n int) []models.Record {
	if n <= 0 {
		return nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	type candidate struct {
		record   models.Record
		distance float64
	}

	resultsChan := make(chan []candidate, g.numPartitions)
	for _, tree := range g.partitions {
		go func(tree *rtreego.Rtree) {
			hits := tree.NearestNeighbors(n, rtreego.Point{center.Lat, center.Lon})
			cands := make([]candidate, 0, len(hits))
			for _, h := range hits {
				item, ok := h.(*spatialRecord)
				if !ok || item == nil {
					continue
				}
				cands = append(cands, candidate{item.record, geo.Distance(center, item.record.Location)})
			}
			resultsChan <- cands
		}(tree)
	}

	var all []candidate
	for range g.partitions {
		all = append(all, <-resultsChan...)
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].distance < all[j].distance })
	if len(all) > n {
		all = all[:n]
	}

	out := make([]models.Record, len(all))
	for i, c := range all {
		out[i] = c.record
	}
	return out
}

// Count returns the number of indexed records
func (g *GeoIndex) Count() int64 {
	return g.itemCount.Load()
}

// Clear removes all records from the index
func (g *GeoIndex) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := range g.partitions {
		g.partitions[i] = rtreego.NewTree(dimensions, minChildren, maxChildren)
	}
	g.records = nil
	g.itemCount.Store(0)
}

// partitionFor maps a longitude to its band. It is monotonic in lon, so the
// records inside [west, east] all live in partitionFor(west)..partitionFor(east).
func (g *GeoIndex) partitionFor(lon float64) int {
	lonRange := 360.0 / float64(g.numPartitions)
	idx := int((lon + 180.0) / lonRange)
	if idx >= g.numPartitions {
		idx = g.numPartitions - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

// relevantPartitions returns the partitions that can hold records inside box.
// It uses the same arithmetic as insertion so band edges cannot disagree.
func (g *GeoIndex) relevantPartitions(box models.BoundingBox) []int {
	first, last := g.partitionFor(box.BottomLeft.Lon), g.partitionFor(box.TopRight.Lon)
	relevant := make([]int, 0, last-first+1)
	for i := first; i <= last; i++ {
		relevant = append(relevant, i)
	}
	return relevant
}
