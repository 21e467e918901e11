package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb/geojson"

	"github.com/1F47E/geo-viewport-cache/pkg/dataset"
	"github.com/1F47E/geo-viewport-cache/pkg/geo"
	"github.com/1F47E/geo-viewport-cache/pkg/logging"
	"github.com/1F47E/geo-viewport-cache/pkg/models"
	"github.com/1F47E/geo-viewport-cache/pkg/viewcache"
)

var errRateLimited = errors.New("rate limit exceeded")

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type locationsResponse struct {
	BBox    models.BoundingBox `json:"bbox"`
	Count   int                `json:"count"`
	Records []models.Record    `json:"records"`
}

type entryInfo struct {
	BBox       models.BoundingBox `json:"bbox"`
	Results    int                `json:"results"`
	Exhaustive bool               `json:"exhaustive"`
	CreatedAt  time.Time          `json:"created_at"`
}

type cacheResponse struct {
	Name    string          `json:"name"`
	Stats   viewcache.Stats `json:"stats"`
	HitRate float64         `json:"hit_rate"`
	Entries []entryInfo     `json:"entries"`
}

type invalidateResponse struct {
	Removed int `json:"removed"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// locations answers GET /api/v1/locations?bbox=swLat,swLon,neLat,neLon&max=N
func (s *Server) locations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	box, err := ParseBBox(q.Get("bbox"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	max := s.cfg.DefaultMax
	if v := q.Get("max"); v != "" {
		max, err = strconv.Atoi(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid max %q", v))
			return
		}
	}

	records, err := s.cache.Query(r.Context(), box, max)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}

	if q.Get("format") == "geojson" {
		writeJSON(w, r, http.StatusOK, FeatureCollection(records))
		return
	}
	writeJSON(w, r, http.StatusOK, locationsResponse{BBox: box, Count: len(records), Records: records})
}

func (s *Server) cacheStats(w http.ResponseWriter, r *http.Request) {
	stats := s.cache.Stats()
	entries := s.cache.Entries()

	resp := cacheResponse{
		Name:    s.cache.Name(),
		Stats:   stats,
		HitRate: stats.HitRate(),
		Entries: make([]entryInfo, len(entries)),
	}
	for i, e := range entries {
		resp.Entries[i] = entryInfo{BBox: e.Bounds, Results: len(e.Results), Exhaustive: e.Exhaustive, CreatedAt: e.CreatedAt}
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// invalidate clears the cache, or only the entries intersecting ?bbox=
func (s *Server) invalidate(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("bbox")
	if raw == "" {
		n := s.cache.Len()
		s.cache.Clear()
		writeJSON(w, r, http.StatusOK, invalidateResponse{Removed: n})
		return
	}

	box, err := ParseBBox(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, r, http.StatusOK, invalidateResponse{Removed: s.cache.InvalidateRegion(box)})
}

// ParseBBox parses "swLat,swLon,neLat,neLon"
func ParseBBox(raw string) (models.BoundingBox, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return models.BoundingBox{}, fmt.Errorf("%w: bbox must be swLat,swLon,neLat,neLon, got %q", viewcache.ErrInvalidArgument, raw)
	}

	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return models.BoundingBox{}, fmt.Errorf("%w: bbox coordinate %q", viewcache.ErrInvalidArgument, p)
		}
		v[i] = f
	}

	box := models.NewBoundingBox(v[0], v[1], v[2], v[3])
	if err := box.Validate(); err != nil {
		return models.BoundingBox{}, fmt.Errorf("%w: %w", viewcache.ErrInvalidArgument, err)
	}
	return box, nil
}

// FeatureCollection renders records as GeoJSON points
func FeatureCollection(records []models.Record) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, r := range records {
		f := geojson.NewFeature(geo.ToPoint(r.Location))
		f.ID = r.ID
		f.Properties["name"] = r.Name
		f.Properties["importance"] = r.Importance
		fc.Append(f)
	}
	return fc
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, viewcache.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, dataset.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		logging.Ctx(r.Context()).Warn().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, r, status, errorResponse{Error: err.Error(), RequestID: logging.RequestIDFromContext(r.Context())})
}
