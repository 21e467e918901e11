// Package store holds the persistence backends for viewport cache snapshots.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/1F47E/geo-viewport-cache/pkg/models"
	"github.com/1F47E/geo-viewport-cache/pkg/viewcache"
)

// ErrCorrupt is returned when a stored snapshot cannot be decoded
var ErrCorrupt = errors.New("corrupt cache snapshot")

// entryRecord is the JSON form of a cache entry used by the key-value stores
type entryRecord struct {
	Bounds     models.BoundingBox `json:"bounds"`
	Results    []models.Record    `json:"results"`
	Exhaustive bool               `json:"exhaustive"`
	CreatedAt  time.Time          `json:"created_at"`
}

func encodeEntry(e viewcache.Entry) ([]byte, error) {
	data, err := json.Marshal(entryRecord{
		Bounds:     e.Bounds,
		Results:    e.Results,
		Exhaustive: e.Exhaustive,
		CreatedAt:  e.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal entry %s: %w", e.Bounds, err)
	}
	return data, nil
}

func decodeEntry(data []byte) (viewcache.Entry, error) {
	var r entryRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return viewcache.Entry{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return viewcache.Entry{
		Bounds:     r.Bounds,
		Results:    r.Results,
		Exhaustive: r.Exhaustive,
		CreatedAt:  r.CreatedAt,
	}, nil
}
