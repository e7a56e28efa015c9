package locate

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Feature layer names used in the "layer" property
const (
	LayerFix        = "fix"
	LayerSearchArea = "searchArea"
	LayerBuilding   = "building"
	LayerDetection  = "detection"
	LayerFootprint  = "footprint"
)

// FixFeatureCollection renders a solution as GeoJSON in WGS84: the fix
// point, the search area, every map building, every detected building
// projected through the winning transform and the photo footprint.
func FixFeatureCollection(sol *Solution) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if sol == nil {
		return fc
	}

	fix := geojson.NewFeature(sol.Fix.Location.ToOrb())
	fix.Properties = geojson.Properties{
		"layer":           LayerFix,
		"height":          sol.Fix.Height,
		"quality":         sol.Fix.Quality,
		"rotation":        sol.Fix.Rotation,
		"scale":           sol.Fix.Scale,
		"correspondences": sol.Fix.Correspondences,
		"timestamp":       sol.Fix.Timestamp,
	}
	fc.Append(fix)

	if len(sol.MapData.Corners) > 0 {
		ring := make(orb.Ring, len(sol.MapData.Corners))
		for i, c := range sol.MapData.Corners {
			ring[i] = c.ToOrb()
		}
		area := geojson.NewFeature(orb.Polygon{ring})
		area.Properties = geojson.Properties{"layer": LayerSearchArea}
		fc.Append(area)
	}

	for i, p := range sol.MapData.Points {
		f := geojson.NewFeature(p.ToOrb())
		f.Properties = geojson.Properties{"layer": LayerBuilding, "index": i}
		fc.Append(f)
	}

	toGeo := func(p Point) orb.Point {
		return CoordinatesFromOffset(sol.Origin.Lat, sol.Origin.Lon, p.X, p.Y).ToOrb()
	}

	for i, p := range sol.PhotoPlane.TransformedPoints() {
		f := geojson.NewFeature(toGeo(p))
		f.Properties = geojson.Properties{"layer": LayerDetection, "index": i}
		fc.Append(f)
	}

	corners := sol.PhotoPlane.TransformedCorners()
	if len(corners) > 0 {
		ring := make(orb.Ring, 0, len(corners)+1)
		for _, c := range corners {
			ring = append(ring, toGeo(c))
		}
		ring = append(ring, ring[0])
		footprint := geojson.NewFeature(orb.Polygon{ring})
		footprint.Properties = geojson.Properties{"layer": LayerFootprint}
		fc.Append(footprint)
	}

	return fc
}

// SaveGeoJSON writes a feature collection to path
func SaveGeoJSON(path string, fc *geojson.FeatureCollection) error {
	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal geojson: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write geojson: %w", err)
	}
	return nil
}
