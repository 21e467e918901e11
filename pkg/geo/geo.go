// Package geo holds the planar bounding-box predicates used by the viewport
// cache and the conversions to orb geometry. All predicates are inclusive on
// every edge. Longitude wraparound is not handled.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"

	"github.com/1F47E/geo-viewport-cache/pkg/models"
)

// ToPoint converts a location to an orb point (lon, lat order)
func ToPoint(loc models.Location) orb.Point {
	return orb.Point{loc.Lon, loc.Lat}
}

// FromPoint converts an orb point back to a location
func FromPoint(p orb.Point) models.Location {
	return models.Location{Lat: p.Lat(), Lon: p.Lon()}
}

// ToBound converts a bounding box to an orb bound
func ToBound(box models.BoundingBox) orb.Bound {
	return orb.Bound{Min: ToPoint(box.BottomLeft), Max: ToPoint(box.TopRight)}
}

// FromBound converts an orb bound to a bounding box
func FromBound(b orb.Bound) models.BoundingBox {
	return models.BoundingBox{BottomLeft: FromPoint(b.Min), TopRight: FromPoint(b.Max)}
}

// PointInBox reports whether p lies inside box, edges included.
// A NaN coordinate is never inside.
func PointInBox(p models.Location, box models.BoundingBox) bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) {
		return false
	}
	return ToBound(box).Contains(ToPoint(p))
}

// Contains reports whether outer covers inner on both axes.
// A box contains itself.
func Contains(outer, inner models.BoundingBox) bool {
	b := ToBound(outer)
	return b.Contains(ToPoint(inner.BottomLeft)) && b.Contains(ToPoint(inner.TopRight))
}

// Intersects reports whether the two boxes share at least one point
func Intersects(a, b models.BoundingBox) bool {
	return ToBound(a).Intersects(ToBound(b))
}

// Distance calculates the Haversine distance between two locations in kilometers
func Distance(a, b models.Location) float64 {
	return orbgeo.DistanceHaversine(ToPoint(a), ToPoint(b)) / 1000
}

// BoxAround returns a viewport of roughly radiusKm in every direction from
// center, clamped to the valid coordinate ranges.
func BoxAround(center models.Location, radiusKm float64) models.BoundingBox {
	b := orbgeo.NewBoundAroundPoint(ToPoint(center), radiusKm*1000)
	// orb wraps across the antimeridian; cut at the edge instead
	if b.Min[0] > b.Max[0] {
		if center.Lon >= 0 {
			b.Max[0] = 180
		} else {
			b.Min[0] = -180
		}
	}
	return Clamp(FromBound(b))
}

// Clamp trims a box to -90..90 latitude and -180..180 longitude
func Clamp(box models.BoundingBox) models.BoundingBox {
	box.BottomLeft.Lat = math.Max(box.BottomLeft.Lat, -90)
	box.BottomLeft.Lon = math.Max(box.BottomLeft.Lon, -180)
	box.TopRight.Lat = math.Min(box.TopRight.Lat, 90)
	box.TopRight.Lon = math.Min(box.TopRight.Lon, 180)
	return box
}

// Pan shifts a box by the given fraction of its own height and width,
// keeping its size and staying inside the valid ranges.
func Pan(box models.BoundingBox, latFrac, lonFrac float64) models.BoundingBox {
	h := box.TopRight.Lat - box.BottomLeft.Lat
	w := box.TopRight.Lon - box.BottomLeft.Lon
	dLat := clampShift(h*latFrac, box.BottomLeft.Lat, box.TopRight.Lat, -90, 90)
	dLon := clampShift(w*lonFrac, box.BottomLeft.Lon, box.TopRight.Lon, -180, 180)
	box.BottomLeft.Lat += dLat
	box.TopRight.Lat += dLat
	box.BottomLeft.Lon += dLon
	box.TopRight.Lon += dLon
	return box
}

// Zoom scales a box around its center. factor < 1 zooms in.
func Zoom(box models.BoundingBox, factor float64) models.BoundingBox {
	cLat := (box.BottomLeft.Lat + box.TopRight.Lat) / 2
	cLon := (box.BottomLeft.Lon + box.TopRight.Lon) / 2
	hh := (box.TopRight.Lat - box.BottomLeft.Lat) / 2 * factor
	hw := (box.TopRight.Lon - box.BottomLeft.Lon) / 2 * factor
	return Clamp(models.NewBoundingBox(cLat-hh, cLon-hw, cLat+hh, cLon+hw))
}

func clampShift(d, lo, hi, min, max float64) float64 {
	if lo+d < min {
		return min - lo
	}
	if hi+d > max {
		return max - hi
	}
	return d
}
