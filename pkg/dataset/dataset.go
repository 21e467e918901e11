// Package dataset defines the record source consulted by the viewport cache on
// a miss, together with the in-memory, generated and file-backed sources.
package dataset

import (
	"context"
	"sync/atomic"

	"github.com/1F47E/geo-viewport-cache/pkg/geo"
	"github.com/1F47E/geo-viewport-cache/pkg/models"
)

// Provider returns the complete candidate set of records.
// Record IDs must be stable across calls.
type Provider interface {
	GetAll(ctx context.Context) ([]models.Record, error)
}

// BoxProvider is a Provider that can answer box queries itself.
// Within must return exactly the records GetAll would return that lie inside
// box (edges included), in GetAll order.
type BoxProvider interface {
	Provider
	Within(ctx context.Context, box models.BoundingBox) ([]models.Record, error)
}

// Static serves a fixed slice of records
type Static struct {
	records []models.Record
}

// NewStatic copies records into a new static provider
func NewStatic(records []models.Record) *Static {
	cp := make([]models.Record, len(records))
	copy(cp, records)
	return &Static{records: cp}
}

// GetAll returns a copy of all records
func (s *Static) GetAll(ctx context.Context) ([]models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cp := make([]models.Record, len(s.records))
	copy(cp, s.records)
	return cp, nil
}

// Within filters the records by box with a linear scan
func (s *Static) Within(ctx context.Context, box models.BoundingBox) ([]models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Filter(s.records, box), nil
}

// Len returns the number of records
func (s *Static) Len() int {
	return len(s.records)
}

// Filter returns the records inside box, preserving order
func Filter(records []models.Record, box models.BoundingBox) []models.Record {
	out := make([]models.Record, 0)
	for _, r := range records {
		if geo.PointInBox(r.Location, box) {
			out = append(out, r)
		}
	}
	return out
}

// Counting wraps a provider and counts the calls made to it
type Counting struct {
	Provider
	getAll atomic.Int64
	within atomic.Int64
}

// NewCounting wraps p
func NewCounting(p Provider) *Counting {
	return &Counting{Provider: p}
}

// GetAll forwards to the wrapped provider
func (c *Counting) GetAll(ctx context.Context) ([]models.Record, error) {
	c.getAll.Add(1)
	return c.Provider.GetAll(ctx)
}

// Calls returns the total number of provider calls
func (c *Counting) Calls() int64 {
	return c.getAll.Load() + c.within.Load()
}

// Reset zeroes the counters
func (c *Counting) Reset() {
	c.getAll.Store(0)
	c.within.Store(0)
}

// CountingBox is Counting for providers that also implement BoxProvider
type CountingBox struct {
	*Counting
	box BoxProvider
}

// NewCountingBox wraps p, keeping its Within capability
func NewCountingBox(p BoxProvider) *CountingBox {
	return &CountingBox{Counting: NewCounting(p), box: p}
}

// Within forwards to the wrapped provider
func (c *CountingBox) Within(ctx context.Context, box models.BoundingBox) ([]models.Record, error) {
	c.within.Add(1)
	return c.box.Within(ctx, box)
}

// Func adapts a plain function into a Provider
type Func func(ctx context.Context) ([]models.Record, error)

// GetAll calls f
func (f Func) GetAll(ctx context.Context) ([]models.Record, error) {
	return f(ctx)
}
