package locate

import "errors"

var (
	// ErrInsufficientPoints means a plane has too few distinct points to fingerprint
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrDegenerateCorrespondence marks a hypothesis pair with coincident points
	ErrDegenerateCorrespondence = errors.New("degenerate correspondence")

	// ErrNoConvergentSolution means escalation was exhausted without an acceptable candidate
	ErrNoConvergentSolution = errors.New("no convergent solution")

	// ErrDetectionFailed wraps detector failures
	ErrDetectionFailed = errors.New("detection failed")

	// ErrMapQueryFailed wraps map-data provider failures
	ErrMapQueryFailed = errors.New("map query failed")

	// ErrHeightsWithoutCamera means a height range was given while altitude estimation is off
	ErrHeightsWithoutCamera = errors.New("height range needs a camera field of view")

	// ErrInvalidThreshold is returned for an outlier threshold outside [0, 1]
	ErrInvalidThreshold = errors.New("threshold must be between 0 and 1")
)
