package locate

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// LoadSearchArea reads a search polygon from a GeoJSON file
func LoadSearchArea(path string) (orb.Polygon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read search area: %w", err)
	}
	return ParseSearchArea(data)
}

// ParseSearchArea accepts a GeoJSON Polygon geometry, a Feature, or a
// FeatureCollection; the first polygon found is the search area.
// A MultiPolygon contributes its first polygon.
func ParseSearchArea(data []byte) (orb.Polygon, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to parse search area: %w", err)
	}

	var geoms []orb.Geometry
	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse search area: %w", err)
		}
		for _, f := range fc.Features {
			geoms = append(geoms, f.Geometry)
		}
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse search area: %w", err)
		}
		geoms = append(geoms, f.Geometry)
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse search area: %w", err)
		}
		geoms = append(geoms, g.Geometry())
	}

	for _, g := range geoms {
		var poly orb.Polygon
		switch v := g.(type) {
		case orb.Polygon:
			poly = v
		case orb.MultiPolygon:
			if len(v) > 0 {
				poly = v[0]
			}
		case orb.Bound:
			poly = v.ToPolygon()
		}
		if poly == nil {
			continue
		}
		if err := validateSearchArea(poly); err != nil {
			return nil, err
		}
		return poly, nil
	}
	return nil, fmt.Errorf("search area contains no polygon")
}

func validateSearchArea(poly orb.Polygon) error {
	if len(poly) == 0 || len(poly[0]) < 4 {
		return fmt.Errorf("search area ring needs at least 4 positions")
	}
	if planar.Area(poly) == 0 {
		return fmt.Errorf("search area has zero area")
	}
	for _, p := range poly[0] {
		if p.Lat() < -90 || p.Lat() > 90 || p.Lon() < -180 || p.Lon() > 180 {
			return fmt.Errorf("search area position %v out of range", p)
		}
	}
	return nil
}

// SearchAreaFromCorners builds the closed rectangle spanned by a top-left
// and a bottom-right coordinate.
func SearchAreaFromCorners(topLeft, bottomRight GeoPoint) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{topLeft.Lon, topLeft.Lat},
		{bottomRight.Lon, topLeft.Lat},
		{bottomRight.Lon, bottomRight.Lat},
		{topLeft.Lon, bottomRight.Lat},
		{topLeft.Lon, topLeft.Lat},
	}}
}

// ParseCorners parses "lat,lon,lat,lon" (top-left then bottom-right)
func ParseCorners(s string) (topLeft, bottomRight GeoPoint, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return GeoPoint{}, GeoPoint{}, fmt.Errorf("corners must be lat,lon,lat,lon, got %q", s)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, perr := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if perr != nil {
			return GeoPoint{}, GeoPoint{}, fmt.Errorf("invalid corner value %q: %w", p, perr)
		}
		vals[i] = v
	}
	return GeoPoint{Lat: vals[0], Lon: vals[1]}, GeoPoint{Lat: vals[2], Lon: vals[3]}, nil
}
