package locate

import (
	"context"
	"fmt"
	"log"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

// SolverConfig holds configuration for the hypothesis search.
// Distances are in map units (meters). With the default InitialRange and
// MaxRounds the last round tests 480 correspondences, so larger scenes can
// stop before the whole ranked list has been tried.
type SolverConfig struct {
	InitialRange  int         `yaml:"initialRange"`  // correspondences tried in the first round
	AcceptQuality float64     `yaml:"acceptQuality"` // stop escalating once the best quality is at or below this
	MaxRounds     int         `yaml:"maxRounds"`     // escalation rounds before giving up
	OutlierKeep   float64     `yaml:"outlierKeep"`   // fraction of residuals kept when scoring (0-1)
	Workers       int         `yaml:"workers"`       // parallel hypothesis evaluations, 0 = GOMAXPROCS
	CameraFOV     float64     `yaml:"cameraFov"`     // diagonal field of view in degrees, 0 disables altitude
	Heights       HeightRange `yaml:"heights"`       // acceptable altitudes when CameraFOV is set
}

// DefaultSolverConfig returns sensible defaults for the hypothesis search
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		InitialRange:  15,
		AcceptQuality: 6.0,
		MaxRounds:     6,
		OutlierKeep:   0.9,
		Workers:       0,
		CameraFOV:     0,
	}
}

// SearchStats describes the work done by one Resolve call
type SearchStats struct {
	Correspondences int     `json:"correspondences"`
	TestingRange    int     `json:"testingRange"` // range of the final round
	Rounds          int     `json:"rounds"`
	Hypotheses      int     `json:"hypotheses"`
	Degenerate      int     `json:"degenerate"` // pairs skipped for coincident points
	Discarded       int     `json:"discarded"`  // hypotheses rejected by the altitude checks
	BestQuality     float64 `json:"bestQuality"`
}

// Solver searches correspondence pairs for the similarity transform that best
// superimposes the photo plane on the map plane.
type Solver struct {
	config  SolverConfig
	metrics *Metrics
	err     error // configuration error, returned by every search
}

// NewSolver creates a solver. Zero-valued fields fall back to the defaults.
// An OutlierKeep outside [0, 1] makes every Solve and Resolve call fail with
// ErrInvalidThreshold.
func NewSolver(config SolverConfig) *Solver {
	def := DefaultSolverConfig()
	if config.InitialRange < 2 {
		config.InitialRange = def.InitialRange
	}
	if config.AcceptQuality <= 0 {
		config.AcceptQuality = def.AcceptQuality
	}
	if config.MaxRounds < 1 {
		config.MaxRounds = def.MaxRounds
	}
	var err error
	switch {
	case config.OutlierKeep < 0 || config.OutlierKeep > 1 || math.IsNaN(config.OutlierKeep):
		err = fmt.Errorf("%w: outlierKeep %v", ErrInvalidThreshold, config.OutlierKeep)
	case config.OutlierKeep == 0:
		config.OutlierKeep = def.OutlierKeep
	}
	if config.Workers <= 0 {
		config.Workers = runtime.GOMAXPROCS(0)
	}
	return &Solver{config: config, err: err}
}

// WithMetrics attaches a metrics collector. A nil collector disables recording.
func (s *Solver) WithMetrics(m *Metrics) *Solver {
	s.metrics = m
	return s
}

// Config returns the effective configuration
func (s *Solver) Config() SolverConfig { return s.config }

// SolvePair derives the transform that maps overlay points o1, o2 onto base
// points b1, b2 under the Plane transform order. ok is false for a
// degenerate pair, in which case the identity state is returned.
func SolvePair(b1, b2, o1, o2 Point, overlaySize Size) (state TransformState, ok bool) {
	if ValidatePair(b1, b2, o1, o2) != nil {
		return IdentityState(), false
	}

	// Temporarily put o1 on b1 so the rotation can be read about a shared axis
	dx, dy := b1.X-o1.X, b1.Y-o1.Y
	tmp := TranslatePoints([]Point{o1, o2}, dx, dy)
	rotation := PointAngle(tmp[0], b2, tmp[1])

	rotated := RotatePoints([]Point{o1, o2}, rotation, overlaySize.Centre())
	overlayDist := Distance(rotated[0], rotated[1])
	if overlayDist == 0 {
		return IdentityState(), false
	}
	scale := Distance(b1, b2) / overlayDist

	// Translation is recomputed once rotation and scale are fixed
	anchor := Point{X: rotated[0].X * scale, Y: rotated[0].Y * scale}
	return TransformState{
		Rotation:    rotation,
		Scale:       scale,
		Translation: Point{X: b1.X - anchor.X, Y: b1.Y - anchor.Y},
	}, true
}

// ValidatePair returns ErrDegenerateCorrespondence when either side of a
// hypothesis pair has coincident points
func ValidatePair(b1, b2, o1, o2 Point) error {
	if b1 == b2 {
		return fmt.Errorf("%w: map points coincide at (%g, %g)", ErrDegenerateCorrespondence, b1.X, b1.Y)
	}
	if o1 == o2 {
		return fmt.Errorf("%w: photo points coincide at (%g, %g)", ErrDegenerateCorrespondence, o1.X, o1.Y)
	}
	return nil
}

// MeasureOffsets returns, for every point, the distance to the nearest point
// of index. An empty index yields +Inf for every point.
func MeasureOffsets(points []Point, index *SpatialIndex) []float64 {
	offsets := make([]float64, len(points))
	for i, p := range points {
		nb, ok := index.Nearest(p)
		if !ok {
			offsets[i] = math.Inf(1)
			continue
		}
		offsets[i] = nb.Distance
	}
	return offsets
}

// DiscardOutliers returns the floor(n*threshold) smallest distances in
// ascending order. The input slice is left untouched.
func DiscardOutliers(distances []float64, threshold float64) ([]float64, error) {
	if threshold < 0 || threshold > 1 || math.IsNaN(threshold) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidThreshold, threshold)
	}
	sorted := make([]float64, len(distances))
	copy(sorted, distances)
	sort.Float64s(sorted)
	keep := int(math.Floor(float64(len(sorted)) * threshold))
	return sorted[:keep], nil
}

// Solve scores every pair i<j drawn from the first testingRange
// correspondences and returns the usable candidates sorted by ascending
// Quality. Hypotheses run in parallel but the result does not depend on
// scheduling.
func (s *Solver) Solve(ctx context.Context, mapPlane, photoPlane Plane, corr []Correspondence, testingRange int) ([]Candidate, error) {
	if s.err != nil {
		return nil, s.err
	}
	index := NewSpatialIndex(mapPlane.TransformedPoints())
	candidates, _, err := s.solveRound(ctx, index, mapPlane, photoPlane, corr, testingRange)
	return candidates, err
}

type roundStats struct {
	hypotheses int
	degenerate int
	discarded  int
}

type pairSlot struct {
	i, j int
}

func (s *Solver) solveRound(ctx context.Context, index *SpatialIndex, mapPlane, photoPlane Plane, corr []Correspondence, testingRange int) ([]Candidate, roundStats, error) {
	var stats roundStats
	if testingRange > len(corr) {
		testingRange = len(corr)
	}

	pairs := make([]pairSlot, 0, testingRange*(testingRange-1)/2)
	for i := 0; i < testingRange; i++ {
		for j := i + 1; j < testingRange; j++ {
			pairs = append(pairs, pairSlot{i: i, j: j})
		}
	}
	stats.hypotheses = len(pairs)

	type outcome struct {
		candidate  Candidate
		usable     bool
		degenerate bool
	}
	results := make([]outcome, len(pairs))
	photoPoints := photoPlane.BasePoints()
	photoSize := photoPlane.Size()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)
	for slot, pair := range pairs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c1, c2 := corr[pair.i], corr[pair.j]
			b1, b2 := mapPlane.Point(c1.MapIndex), mapPlane.Point(c2.MapIndex)
			o1, o2 := photoPlane.Point(c1.PhotoIndex), photoPlane.Point(c2.PhotoIndex)

			state, ok := SolvePair(b1, b2, o1, o2, photoSize)
			if !ok {
				results[slot] = outcome{degenerate: true}
				return nil
			}

			transformed := ApplyTransform(photoPoints, photoSize, state)
			kept, err := DiscardOutliers(MeasureOffsets(transformed, index), s.config.OutlierKeep)
			if err != nil {
				return err
			}
			if len(kept) == 0 {
				return nil
			}
			var sum float64
			for _, d := range kept {
				sum += d
			}

			c := Candidate{
				Quality:     sum / float64(len(kept)),
				Rotation:    state.Rotation,
				Scale:       state.Scale,
				Translation: state.Translation,
				Pair:        [2]int{pair.i, pair.j},
			}
			if s.config.CameraFOV > 0 {
				alt := EstimateAltitude(b1, b2, o1, o2, photoSize, s.config.CameraFOV)
				if alt <= 0 || math.IsNaN(alt) || math.IsInf(alt, 0) || !s.config.Heights.Contains(alt) {
					return nil
				}
				c.Altitude = &alt
			}
			results[slot] = outcome{candidate: c, usable: true}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, err
	}

	candidates := make([]Candidate, 0, len(results))
	for _, r := range results {
		switch {
		case r.degenerate:
			stats.degenerate++
		case r.usable:
			candidates = append(candidates, r.candidate)
		default:
			stats.discarded++
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].Quality < candidates[b].Quality
	})
	return candidates, stats, nil
}

// Resolve runs the escalating search over ranked correspondences. The first
// round tries InitialRange correspondences; while no candidate reaches
// AcceptQuality the range doubles, up to the number of correspondences and
// at most MaxRounds rounds.
func (s *Solver) Resolve(ctx context.Context, mapPlane, photoPlane Plane, ranked []Correspondence) (Candidate, SearchStats, error) {
	stats := SearchStats{Correspondences: len(ranked), BestQuality: math.Inf(1)}
	if s.err != nil {
		return Candidate{}, stats, s.err
	}
	if len(ranked) < 2 {
		return Candidate{}, stats, fmt.Errorf("%w: %d correspondences, need at least 2",
			ErrNoConvergentSolution, len(ranked))
	}

	index := NewSpatialIndex(mapPlane.TransformedPoints())
	testingRange := min(s.config.InitialRange, len(ranked))

	var best *Candidate
	for {
		if err := ctx.Err(); err != nil {
			return Candidate{}, stats, err
		}
		stats.Rounds++
		stats.TestingRange = testingRange

		candidates, rs, err := s.solveRound(ctx, index, mapPlane, photoPlane, ranked, testingRange)
		stats.Hypotheses += rs.hypotheses
		stats.Degenerate += rs.degenerate
		stats.Discarded += rs.discarded
		s.metrics.RecordRound(rs.hypotheses, rs.degenerate)
		if err != nil {
			return Candidate{}, stats, err
		}

		if len(candidates) > 0 {
			if best == nil || candidates[0].Quality < best.Quality {
				c := candidates[0]
				best = &c
			}
			stats.BestQuality = best.Quality
			log.Printf("[SOLVER] Round %d: range=%d hypotheses=%d best=%.3f (rot=%.2f° scale=%.4f)",
				stats.Rounds, testingRange, rs.hypotheses, candidates[0].Quality, candidates[0].Rotation, candidates[0].Scale)
			if candidates[0].Quality <= s.config.AcceptQuality {
				return candidates[0], stats, nil
			}
		} else {
			log.Printf("[SOLVER] Round %d: range=%d hypotheses=%d, no usable candidate",
				stats.Rounds, testingRange, rs.hypotheses)
		}

		if testingRange >= len(ranked) || stats.Rounds >= s.config.MaxRounds {
			break
		}
		testingRange = min(testingRange*2, len(ranked))
	}

	if best == nil {
		return Candidate{}, stats, fmt.Errorf("%w: no usable hypothesis after %d rounds",
			ErrNoConvergentSolution, stats.Rounds)
	}
	return Candidate{}, stats, fmt.Errorf("%w: best quality %.3f above %.3f after %d rounds",
		ErrNoConvergentSolution, best.Quality, s.config.AcceptQuality, stats.Rounds)
}
