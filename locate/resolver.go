package locate

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ResolverConfig holds the fingerprint and search settings for GetLocation
type ResolverConfig struct {
	FingerprintSamples int          `yaml:"fingerprintSamples"`
	NumDrop            int          `yaml:"numDrop"`
	Solver             SolverConfig `yaml:"solver"`
}

// DefaultResolverConfig returns the settings used when none are configured
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		FingerprintSamples: DefaultFingerprintSamples,
		NumDrop:            DefaultNumDrop,
		Solver:             DefaultSolverConfig(),
	}
}

// Solution is everything produced by one successful GetLocation call
type Solution struct {
	Fix        Fix
	Origin     GeoPoint // map plane origin (south-west corner of the query bounds)
	MapPlane   Plane
	PhotoPlane Plane // carries the winning transform
	Candidate  Candidate
	Ranked     []Correspondence
	Stats      SearchStats
	MapData    MapData
}

// Resolver glues a detector and a map provider to the registration core
type Resolver struct {
	detector Detector
	provider MapProvider
	config   ResolverConfig
	metrics  *Metrics

	mu   sync.RWMutex
	last *Solution
}

// NewResolver creates a resolver. Zero config fields fall back to defaults.
func NewResolver(detector Detector, provider MapProvider, config ResolverConfig) *Resolver {
	if config.FingerprintSamples < 1 {
		config.FingerprintSamples = DefaultFingerprintSamples
	}
	if config.NumDrop < 0 {
		config.NumDrop = 0
	}
	return &Resolver{detector: detector, provider: provider, config: config}
}

// WithMetrics attaches a metrics collector
func (r *Resolver) WithMetrics(m *Metrics) *Resolver {
	r.metrics = m
	return r
}

// Last returns the most recent successful solution
func (r *Resolver) Last() (*Solution, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last, r.last != nil
}

// GetLocation estimates where imagePath was taken inside area. A non-zero
// heights overrides the configured altitude range; it is rejected with
// ErrHeightsWithoutCamera when no camera field of view is configured.
func (r *Resolver) GetLocation(ctx context.Context, imagePath string, area orb.Polygon, heights HeightRange) (Fix, error) {
	sol, err := r.Resolve(ctx, imagePath, area, heights)
	if err != nil {
		return Fix{}, err
	}
	return sol.Fix, nil
}

// Resolve is GetLocation returning the whole solution
func (r *Resolver) Resolve(ctx context.Context, imagePath string, area orb.Polygon, heights HeightRange) (*Solution, error) {
	ctx, span := tracer().Start(ctx, "skyfix.get_location")
	defer span.End()
	span.SetAttributes(attribute.String("image", imagePath))

	sol, err := r.locate(ctx, imagePath, area, heights)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Printf("[LOCATE] %s: %v", imagePath, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Float64("lat", sol.Fix.Location.Lat),
		attribute.Float64("lon", sol.Fix.Location.Lon),
		attribute.Int("height", sol.Fix.Height),
		attribute.Float64("quality", sol.Fix.Quality),
	)
	r.mu.Lock()
	r.last = sol
	r.mu.Unlock()
	r.metrics.RecordFix(sol.Fix)

	log.Printf("[LOCATE] %s: %.6f,%.6f height=%dm quality=%.3f rot=%.2f° scale=%.4f",
		imagePath, sol.Fix.Location.Lat, sol.Fix.Location.Lon, sol.Fix.Height,
		sol.Fix.Quality, sol.Fix.Rotation, sol.Fix.Scale)
	return sol, nil
}

func (r *Resolver) locate(ctx context.Context, imagePath string, area orb.Polygon, heights HeightRange) (*Solution, error) {
	if heights != (HeightRange{}) && r.config.Solver.CameraFOV <= 0 {
		return nil, fmt.Errorf("%w: got %g-%g m with cameraFov %g",
			ErrHeightsWithoutCamera, heights.Min, heights.Max, r.config.Solver.CameraFOV)
	}

	var det Detection
	err := r.stage(ctx, "detect", func(ctx context.Context) error {
		var err error
		det, err = r.detector.Detect(ctx, imagePath)
		return err
	})
	if err != nil {
		return nil, err
	}

	var md MapData
	err = r.stage(ctx, "map_query", func(ctx context.Context) error {
		var err error
		md, err = r.provider.Query(ctx, area)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[LOCATE] %d photo points (%gx%g px), %d map buildings",
		len(det.Points), det.Resolution.Width, det.Resolution.Height, len(md.Points))

	photoPlane := NewPlane(det.Points, det.Resolution)
	origin, mapPlane := MapPlane(md)

	var ranked []Correspondence
	err = r.stage(ctx, "fingerprint", func(context.Context) error {
		photoFP, err := BuildFingerprints(photoPlane, r.config.FingerprintSamples)
		if err != nil {
			return fmt.Errorf("photo plane: %w", err)
		}
		mapFP, err := BuildFingerprints(mapPlane, r.config.FingerprintSamples)
		if err != nil {
			return fmt.Errorf("map plane: %w", err)
		}
		ranked = MatchFingerprints(mapFP, photoFP, r.config.NumDrop).Ranked()
		return nil
	})
	if err != nil {
		return nil, err
	}

	solverCfg := r.config.Solver
	if heights != (HeightRange{}) {
		solverCfg.Heights = heights
	}
	solver := NewSolver(solverCfg).WithMetrics(r.metrics)

	var best Candidate
	var stats SearchStats
	err = r.stage(ctx, "solve", func(ctx context.Context) error {
		var err error
		best, stats, err = solver.Resolve(ctx, mapPlane, photoPlane, ranked)
		return err
	})
	if err != nil {
		return nil, err
	}

	aligned := photoPlane.WithState(best.State())
	centre := aligned.TransformedCentre()
	fix := Fix{
		Location:        CoordinatesFromOffset(origin.Lat, origin.Lon, centre.X, centre.Y),
		Quality:         best.Quality,
		Rotation:        best.Rotation,
		Scale:           best.Scale,
		Correspondences: stats.Correspondences,
		TestingRange:    stats.TestingRange,
		Rounds:          stats.Rounds,
		Timestamp:       time.Now().UTC(),
	}
	if best.Altitude != nil {
		fix.Height = int(math.Round(*best.Altitude))
	}

	return &Solution{
		Fix:        fix,
		Origin:     origin,
		MapPlane:   mapPlane,
		PhotoPlane: aligned,
		Candidate:  best,
		Ranked:     ranked,
		Stats:      stats,
		MapData:    md,
	}, nil
}

// stage runs fn inside a span and records its duration
func (r *Resolver) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := tracer().Start(ctx, "skyfix."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	r.metrics.ObserveStage(name, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// MapPlane converts map data into a metric plane. The origin is the
// south-west corner of the bounds; points and size are east/north offsets
// from it in meters.
func MapPlane(md MapData) (GeoPoint, Plane) {
	origin := GeoPoint{Lat: md.Bounds.MinLat, Lon: md.Bounds.MinLon}
	points := make([]Point, len(md.Points))
	for i, p := range md.Points {
		points[i] = OffsetPoint(origin, p)
	}
	ne := OffsetPoint(origin, GeoPoint{Lat: md.Bounds.MaxLat, Lon: md.Bounds.MaxLon})
	return origin, NewPlane(points, Size{Width: ne.X, Height: ne.Y})
}
