package locate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solvedCity(t *testing.T) *Solution {
	t.Helper()
	c := newCity(t)
	r := NewResolver(&stubDetector{det: c.photo}, &stubProvider{points: c.buildings}, DefaultResolverConfig())
	_, err := r.GetLocation(context.Background(), "city.jpg", c.area, HeightRange{})
	require.NoError(t, err)
	sol, ok := r.Last()
	require.True(t, ok)
	return sol
}

func countLayers(fc *geojson.FeatureCollection) map[string]int {
	counts := map[string]int{}
	for _, f := range fc.Features {
		counts[f.Properties.MustString("layer")]++
	}
	return counts
}

func TestFixFeatureCollection(t *testing.T) {
	sol := solvedCity(t)
	fc := FixFeatureCollection(sol)

	layers := countLayers(fc)
	assert.Equal(t, 1, layers[LayerFix])
	assert.Equal(t, 1, layers[LayerSearchArea])
	assert.Equal(t, 25, layers[LayerBuilding])
	assert.Equal(t, 25, layers[LayerDetection])
	assert.Equal(t, 1, layers[LayerFootprint])

	fix := fc.Features[0]
	assert.Equal(t, sol.Fix.Location.ToOrb(), fix.Geometry)
	assert.Equal(t, sol.Fix.Quality, fix.Properties.MustFloat64("quality"))

	// aligned detections land on their buildings, up to the difference
	// between the flat-earth and haversine offsets
	var buildings, detections []orb.Point
	for _, f := range fc.Features {
		switch f.Properties.MustString("layer") {
		case LayerBuilding:
			buildings = append(buildings, f.Geometry.(orb.Point))
		case LayerDetection:
			detections = append(detections, f.Geometry.(orb.Point))
		}
	}
	for i := range detections {
		d := HaversineDistance(detections[i].Lat(), detections[i].Lon(), buildings[i].Lat(), buildings[i].Lon())
		assert.Less(t, d, 2.0, "detection %d", i)
	}

	footprint := fc.Features[len(fc.Features)-1].Geometry.(orb.Polygon)
	require.Len(t, footprint[0], 5)
	assert.Equal(t, footprint[0][0], footprint[0][4])
}

func TestFixFeatureCollectionNil(t *testing.T) {
	fc := FixFeatureCollection(nil)
	assert.Empty(t, fc.Features)
}

func TestSaveGeoJSON(t *testing.T) {
	fc := FixFeatureCollection(solvedCity(t))
	path := filepath.Join(t.TempDir(), "fix.geojson")
	require.NoError(t, SaveGeoJSON(path, fc))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	loaded, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	assert.Len(t, loaded.Features, len(fc.Features))
}
