package locate

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDetector struct {
	det Detection
	err error
}

func (s *stubDetector) Detect(context.Context, string) (Detection, error) {
	return s.det, s.err
}

type stubProvider struct {
	points []GeoPoint
	err    error
}

func (s *stubProvider) Query(_ context.Context, area orb.Polygon) (MapData, error) {
	if s.err != nil {
		return MapData{}, s.err
	}
	return NewMapData(s.points, area), nil
}

// city is a synthetic neighbourhood photographed from above with a known
// camera transform.
type city struct {
	area      orb.Polygon
	buildings []GeoPoint
	photo     Detection
	truth     TransformState
	origin    GeoPoint
}

func newCity(t *testing.T) city {
	t.Helper()
	origin := GeoPoint{Lat: 47.3769, Lon: 8.5417}
	const extent = 400.0

	rng := rand.New(rand.NewSource(42))
	var offsets []Point
	for len(offsets) < 25 {
		p := Point{X: rng.Float64() * extent, Y: rng.Float64() * extent}
		ok := true
		for _, q := range offsets {
			if Distance(p, q) < 15 {
				ok = false
				break
			}
		}
		if ok {
			offsets = append(offsets, p)
		}
	}

	buildings := make([]GeoPoint, len(offsets))
	for i, o := range offsets {
		buildings[i] = CoordinatesFromOffset(origin.Lat, origin.Lon, o.X, o.Y)
	}
	ne := CoordinatesFromOffset(origin.Lat, origin.Lon, extent, extent)
	area := SearchAreaFromCorners(GeoPoint{Lat: ne.Lat, Lon: origin.Lon}, GeoPoint{Lat: origin.Lat, Lon: ne.Lon})

	// Photo coordinates come from the same map plane the resolver will build
	_, mapPlane := MapPlane(NewMapData(buildings, area))
	photoSize := Size{Width: 1000, Height: 1000}
	truth := TransformState{Rotation: 25, Scale: 0.35, Translation: Point{X: 30, Y: 20}}
	photoPts := InverseTransformPoints(mapPlane.BasePoints(), photoSize, truth)

	return city{
		area:      area,
		buildings: buildings,
		photo:     Detection{Points: photoPts, Resolution: photoSize},
		truth:     truth,
		origin:    origin,
	}
}

func (c city) expectedLocation() GeoPoint {
	centre := ApplyTransform([]Point{c.photo.Resolution.Centre()}, c.photo.Resolution, c.truth)[0]
	return CoordinatesFromOffset(c.origin.Lat, c.origin.Lon, centre.X, centre.Y)
}

func TestGetLocationSyntheticCity(t *testing.T) {
	c := newCity(t)
	cfg := DefaultResolverConfig()
	cfg.Solver.CameraFOV = 84

	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	r := NewResolver(&stubDetector{det: c.photo}, &stubProvider{points: c.buildings}, cfg).WithMetrics(metrics)
	fix, err := r.GetLocation(context.Background(), "city.jpg", c.area, HeightRange{})
	require.NoError(t, err)

	want := c.expectedLocation()
	miss := HaversineDistance(fix.Location.Lat, fix.Location.Lon, want.Lat, want.Lon)
	assert.Less(t, miss, 5.0, "fix is %.2f m from the camera", miss)
	assert.InDelta(t, c.truth.Rotation, fix.Rotation, 1e-3)
	assert.InDelta(t, c.truth.Scale, fix.Scale, 1e-6)
	assert.Positive(t, fix.Height)
	assert.LessOrEqual(t, fix.Quality, cfg.Solver.AcceptQuality)
	assert.Equal(t, 25, fix.Correspondences)
	assert.False(t, fix.Timestamp.IsZero())

	sol, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, fix, sol.Fix)
	assert.Len(t, sol.Ranked, 25)
	assert.Equal(t, c.origin.Lat, sol.Origin.Lat)

	// one histogram per stage: detect, map_query, fingerprint, solve
	assert.Equal(t, 4, testutil.CollectAndCount(metrics.StageDurations))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Rounds))
	assert.Equal(t, fix.Quality, testutil.ToFloat64(metrics.FixQuality))
}

func TestGetLocationHeightOverride(t *testing.T) {
	c := newCity(t)
	cfg := DefaultResolverConfig()
	cfg.Solver.CameraFOV = 84

	r := NewResolver(&stubDetector{det: c.photo}, &stubProvider{points: c.buildings}, cfg)
	_, err := r.GetLocation(context.Background(), "city.jpg", c.area, HeightRange{Min: 1e7})
	assert.ErrorIs(t, err, ErrNoConvergentSolution)

	_, ok := r.Last()
	assert.False(t, ok)
}

func TestGetLocationHeightsNeedCamera(t *testing.T) {
	c := newCity(t)
	det := &stubDetector{det: c.photo}
	r := NewResolver(det, &stubProvider{points: c.buildings}, DefaultResolverConfig())

	_, err := r.GetLocation(context.Background(), "city.jpg", c.area, HeightRange{Min: 50, Max: 500})
	assert.ErrorIs(t, err, ErrHeightsWithoutCamera)

	// without a height range the same resolver solves, with no height
	fix, err := r.GetLocation(context.Background(), "city.jpg", c.area, HeightRange{})
	require.NoError(t, err)
	assert.Zero(t, fix.Height)
}

func TestGetLocationCollaboratorFailures(t *testing.T) {
	c := newCity(t)

	detFail := NewResolver(&stubDetector{err: fmt.Errorf("%w: model offline", ErrDetectionFailed)},
		&stubProvider{points: c.buildings}, DefaultResolverConfig())
	_, err := detFail.GetLocation(context.Background(), "x.jpg", c.area, HeightRange{})
	assert.ErrorIs(t, err, ErrDetectionFailed)

	mapFail := NewResolver(&stubDetector{det: c.photo},
		&stubProvider{err: fmt.Errorf("%w: timeout", ErrMapQueryFailed)}, DefaultResolverConfig())
	_, err = mapFail.GetLocation(context.Background(), "x.jpg", c.area, HeightRange{})
	assert.ErrorIs(t, err, ErrMapQueryFailed)
}

func TestGetLocationTooFewBuildings(t *testing.T) {
	c := newCity(t)
	r := NewResolver(&stubDetector{det: c.photo}, &stubProvider{points: c.buildings[:5]}, DefaultResolverConfig())
	_, err := r.GetLocation(context.Background(), "x.jpg", c.area, HeightRange{})
	assert.ErrorIs(t, err, ErrInsufficientPoints)
}

func TestMapPlane(t *testing.T) {
	area := SearchAreaFromCorners(GeoPoint{Lat: 47.01, Lon: 8.0}, GeoPoint{Lat: 47.0, Lon: 8.01})
	md := NewMapData([]GeoPoint{{Lat: 47.0, Lon: 8.0}, {Lat: 47.005, Lon: 8.005}}, area)

	origin, plane := MapPlane(md)
	assert.Equal(t, GeoPoint{Lat: 47.0, Lon: 8.0}, origin)
	assert.Equal(t, Point{}, plane.Point(0))
	assert.Greater(t, plane.Point(1).X, 0.0)
	assert.Greater(t, plane.Point(1).Y, 0.0)
	assert.InDelta(t, 1112, plane.Size().Height, 1)
}
