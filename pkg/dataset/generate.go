package dataset

import (
	"fmt"
	"math/rand"

	"github.com/1F47E/geo-viewport-cache/pkg/models"
)

var nameParts = [...]string{
	"Library", "Town Hall", "Sports Centre", "Meeting Room", "Community Hall",
	"Studio", "Auditorium", "Workshop", "Gallery", "Garden", "Chapel", "Lab",
}

// Generate builds n synthetic records scattered uniformly inside region.
// The same seed always yields the same records. IDs start at 1.
func Generate(n int, seed int64, region models.BoundingBox) []models.Record {
	r := rand.New(rand.NewSource(seed))
	records := make([]models.Record, n)

	latSpan := region.TopRight.Lat - region.BottomLeft.Lat
	lonSpan := region.TopRight.Lon - region.BottomLeft.Lon

	for i := 0; i < n; i++ {
		records[i] = models.Record{
			ID:         int64(i + 1),
			Name:       fmt.Sprintf("%s %d", nameParts[r.Intn(len(nameParts))], i+1),
			Importance: r.Float64(),
			Location: models.Location{
				Lat: region.BottomLeft.Lat + r.Float64()*latSpan,
				Lon: region.BottomLeft.Lon + r.Float64()*lonSpan,
			},
		}
	}
	return records
}

// World covers every valid coordinate
var World = models.NewBoundingBox(-90, -180, 90, 180)

// Benelux is a small default region for demos
var Benelux = models.NewBoundingBox(49.4, 2.5, 53.6, 7.3)
