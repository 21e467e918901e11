package models

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrInvalidLocation is returned for coordinates outside the WGS84 ranges
var ErrInvalidLocation = errors.New("invalid location")

// ErrInvalidBox is returned for bounding boxes with an inverted axis
var ErrInvalidBox = errors.New("invalid bounding box")

// Location represents a geographic location with latitude and longitude
type Location struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Validate checks that the location lies within -90..90 / -180..180
func (l Location) Validate() error {
	if math.IsNaN(l.Lat) || l.Lat < -90 || l.Lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidLocation, l.Lat)
	}
	if math.IsNaN(l.Lon) || l.Lon < -180 || l.Lon > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidLocation, l.Lon)
	}
	return nil
}

// Record is a point of interest served to the map.
// Records are immutable once handed out by a provider.
type Record struct {
	ID         int64    `json:"id" yaml:"id"`
	Name       string   `json:"name" yaml:"name"`
	Importance float64  `json:"importance" yaml:"importance"`
	Location   Location `json:"location" yaml:"location"`
}

// BoundingBox represents a rectangular area defined by two corners.
// Boxes crossing the antimeridian are not supported.
type BoundingBox struct {
	BottomLeft Location `json:"bottom_left" yaml:"bottom_left"`
	TopRight   Location `json:"top_right" yaml:"top_right"`
}

// NewBoundingBox builds a box from south-west and north-east coordinates
func NewBoundingBox(swLat, swLon, neLat, neLon float64) BoundingBox {
	return BoundingBox{
		BottomLeft: Location{Lat: swLat, Lon: swLon},
		TopRight:   Location{Lat: neLat, Lon: neLon},
	}
}

// Validate checks both corners and that neither axis is inverted
func (b BoundingBox) Validate() error {
	if err := b.BottomLeft.Validate(); err != nil {
		return fmt.Errorf("%w: south-west corner: %w", ErrInvalidBox, err)
	}
	if err := b.TopRight.Validate(); err != nil {
		return fmt.Errorf("%w: north-east corner: %w", ErrInvalidBox, err)
	}
	if b.BottomLeft.Lat > b.TopRight.Lat {
		return fmt.Errorf("%w: south latitude %v is north of %v", ErrInvalidBox, b.BottomLeft.Lat, b.TopRight.Lat)
	}
	if b.BottomLeft.Lon > b.TopRight.Lon {
		return fmt.Errorf("%w: west longitude %v is east of %v", ErrInvalidBox, b.BottomLeft.Lon, b.TopRight.Lon)
	}
	return nil
}

// Key returns a canonical identity string for the box.
// Two boxes share a key only if all four coordinates are equal; -0 and 0 are
// the same coordinate.
func (b BoundingBox) Key() string {
	f := func(v float64) string {
		if v == 0 {
			v = 0
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return f(b.BottomLeft.Lat) + "," + f(b.BottomLeft.Lon) + "," + f(b.TopRight.Lat) + "," + f(b.TopRight.Lon)
}

// String implements fmt.Stringer
func (b BoundingBox) String() string {
	return "[" + b.Key() + "]"
}
