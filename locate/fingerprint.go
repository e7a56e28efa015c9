package locate

import "fmt"

// DefaultFingerprintSamples is the number of datapoints per fingerprint
const DefaultFingerprintSamples = 7

// BuildFingerprints returns one fingerprint per plane point, in plane order.
//
// Each point's nearest neighbor is the reference: the next k neighbors are
// described by their distance relative to the reference distance and their
// angle relative to the reference direction. Both are invariant under the
// similarity transform the solver searches for, so fingerprints from the
// photo and map planes can be compared directly.
func BuildFingerprints(plane Plane, k int) ([]Fingerprint, error) {
	if k < 1 {
		return nil, fmt.Errorf("fingerprint sample count must be positive, got %d", k)
	}
	n := plane.NumPoints()
	if k+2 > n {
		return nil, fmt.Errorf("%w: %d samples need %d points, plane has %d",
			ErrInsufficientPoints, k, k+2, n)
	}

	points := plane.TransformedPoints()
	index := NewSpatialIndex(points)

	fingerprints := make([]Fingerprint, n)
	for i, p := range points {
		neighbors := index.KNearest(p, k+2)
		if len(neighbors) < k+2 {
			return nil, fmt.Errorf("%w: point %d has %d neighbors", ErrInsufficientPoints, i, len(neighbors)-1)
		}

		ref := neighbors[1]
		if ref.Distance == 0 {
			return nil, fmt.Errorf("%w: point %d coincides with point %d", ErrInsufficientPoints, i, ref.Index)
		}
		refPoint := points[ref.Index]

		datapoints := make([]Datapoint, 0, k)
		for _, nb := range neighbors[2:] {
			datapoints = append(datapoints, Datapoint{
				Ratio: nb.Distance / ref.Distance,
				Angle: PointAngle(p, refPoint, points[nb.Index]),
			})
		}
		fingerprints[i] = Fingerprint{SourceIndex: i, Datapoints: datapoints}
	}

	return fingerprints, nil
}
