package locate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/paulmach/orb"
)

// DefaultOverpassURL is the public Overpass API interpreter endpoint
const DefaultOverpassURL = "https://overpass-api.de/api/interpreter"

// MapData is the map side of a location request
type MapData struct {
	Points  []GeoPoint `json:"points"`  // building centres
	Corners []GeoPoint `json:"corners"` // search polygon vertices
	Bounds  Bounds     `json:"bounds"`
}

// MapProvider returns the buildings inside a search polygon.
// Failures wrap ErrMapQueryFailed.
type MapProvider interface {
	Query(ctx context.Context, area orb.Polygon) (MapData, error)
}

// OverpassProvider queries building footprints from an Overpass API server
type OverpassProvider struct {
	URL  string
	opts []FetchOption
}

// NewOverpassProvider creates a provider for the given interpreter URL.
// An empty URL selects DefaultOverpassURL.
func NewOverpassProvider(endpoint string, opts ...FetchOption) *OverpassProvider {
	if endpoint == "" {
		endpoint = DefaultOverpassURL
	}
	return &OverpassProvider{URL: endpoint, opts: opts}
}

// overpassResponse is the subset of the Overpass JSON output we read
type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

type overpassElement struct {
	Type     string           `json:"type"`
	ID       int64            `json:"id"`
	Geometry []overpassCoord  `json:"geometry,omitempty"`
	Members  []overpassMember `json:"members,omitempty"`
}

type overpassMember struct {
	Type     string          `json:"type"`
	Role     string          `json:"role"`
	Geometry []overpassCoord `json:"geometry,omitempty"`
}

type overpassCoord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BuildOverpassQuery returns the Overpass QL selecting every building way and
// relation inside area, with inline geometry.
func BuildOverpassQuery(area orb.Polygon) string {
	var poly strings.Builder
	if len(area) > 0 {
		ring := area[0]
		n := len(ring)
		if n > 1 && ring[0] == ring[n-1] {
			n--
		}
		for i := 0; i < n; i++ {
			if i > 0 {
				poly.WriteByte(' ')
			}
			fmt.Fprintf(&poly, "%.7f %.7f", ring[i].Lat(), ring[i].Lon())
		}
	}
	p := poly.String()
	return fmt.Sprintf(`[out:json][timeout:60];(way["building"](poly:"%s");relation["building"](poly:"%s"););out geom;`, p, p)
}

// ParseOverpassBuildings extracts one centre per building from Overpass JSON.
// The centre is the middle of the footprint's bounding box; relations use
// their outer members. Elements without geometry are skipped.
func ParseOverpassBuildings(data []byte) ([]GeoPoint, error) {
	var resp overpassResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse Overpass JSON: %w", err)
	}

	centres := make([]GeoPoint, 0, len(resp.Elements))
	for _, el := range resp.Elements {
		var footprint orb.MultiPoint
		switch el.Type {
		case "way":
			footprint = appendCoords(footprint, el.Geometry)
		case "relation":
			for _, m := range el.Members {
				if m.Role == "outer" || m.Role == "" {
					footprint = appendCoords(footprint, m.Geometry)
				}
			}
		}
		if len(footprint) == 0 {
			continue
		}
		centres = append(centres, GeoPointFromOrb(footprint.Bound().Center()))
	}
	return centres, nil
}

func appendCoords(mp orb.MultiPoint, coords []overpassCoord) orb.MultiPoint {
	for _, c := range coords {
		mp = append(mp, orb.Point{c.Lon, c.Lat})
	}
	return mp
}

// Query implements MapProvider
func (o *OverpassProvider) Query(ctx context.Context, area orb.Polygon) (MapData, error) {
	if len(area) == 0 || len(area[0]) < 3 {
		return MapData{}, fmt.Errorf("%w: search area has no exterior ring", ErrMapQueryFailed)
	}

	form := url.Values{}
	form.Set("data", BuildOverpassQuery(area))

	var centres []GeoPoint
	err := doWithRetry(ctx, newFetchConfig(o.opts), httpRequest{
		method:      "POST",
		url:         o.URL,
		body:        []byte(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	}, func(body []byte) error {
		c, perr := ParseOverpassBuildings(body)
		centres = c
		return perr
	})
	if err != nil {
		return MapData{}, fmt.Errorf("%w: %w", ErrMapQueryFailed, err)
	}

	log.Printf("[MAP] Overpass returned %d buildings", len(centres))
	return NewMapData(centres, area), nil
}

// NewMapData assembles MapData for building centres found inside area
func NewMapData(points []GeoPoint, area orb.Polygon) MapData {
	md := MapData{Points: points}
	if len(area) == 0 {
		return md
	}
	for _, p := range area[0] {
		md.Corners = append(md.Corners, GeoPointFromOrb(p))
	}
	b := area.Bound()
	md.Bounds = Bounds{MinLon: b.Min.Lon(), MinLat: b.Min.Lat(), MaxLon: b.Max.Lon(), MaxLat: b.Max.Lat()}
	return md
}
