package locate

import "time"

// Point represents a 2D coordinate.
// Photo planes use pixels, map planes use meters east/north of the map origin.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// GeoPoint is a WGS84 coordinate in decimal degrees
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Size is the bounding extent of a plane, in the same unit as its points
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Centre returns the geometric centre of the (0,0)-Size rectangle
func (s Size) Centre() Point {
	return Point{X: s.Width / 2, Y: s.Height / 2}
}

// AffineMatrix for 2D transforms: x' = ax + by + tx, y' = cx + dy + ty
type AffineMatrix struct {
	A  float64 `json:"a"`
	B  float64 `json:"b"`
	Tx float64 `json:"tx"`
	C  float64 `json:"c"`
	D  float64 `json:"d"`
	Ty float64 `json:"ty"`
}

// Identity returns an identity matrix (no transformation)
func Identity() AffineMatrix {
	return AffineMatrix{A: 1, B: 0, Tx: 0, C: 0, D: 1, Ty: 0}
}

// TransformState holds the similarity transform applied to a Plane.
// Rotation is in degrees; the plane rotates by -Rotation about its centre,
// then scales about the origin, then translates.
type TransformState struct {
	Rotation    float64 `json:"rotation"`
	Scale       float64 `json:"scale"`
	Translation Point   `json:"translation"`
}

// IdentityState returns the transform state that leaves points unchanged
func IdentityState() TransformState {
	return TransformState{Rotation: 0, Scale: 1}
}

// Datapoint is one (distance ratio, angle) sample of a fingerprint
type Datapoint struct {
	Ratio float64 `json:"ratio"`
	Angle float64 `json:"angle"` // degrees in [0, 360)
}

// Fingerprint is the rotation- and scale-invariant neighbourhood descriptor
// of a single plane point.
type Fingerprint struct {
	SourceIndex int         `json:"sourceIndex"`
	Datapoints  []Datapoint `json:"datapoints"`
}

// Correspondence asserts that a map point and a photo point are likely the same building
type Correspondence struct {
	MapIndex   int     `json:"mapIndex"`
	PhotoIndex int     `json:"photoIndex"`
	Loss       float64 `json:"loss"`
}

// Candidate is one scored alignment hypothesis. Lower Quality is better.
// Altitude is nil unless altitude estimation was requested.
type Candidate struct {
	Quality     float64  `json:"quality"`
	Rotation    float64  `json:"rotation"`
	Scale       float64  `json:"scale"`
	Translation Point    `json:"translation"`
	Altitude    *float64 `json:"altitude,omitempty"`
	Pair        [2]int   `json:"pair"` // indices into the ranked correspondence list
}

// State returns the candidate's transform as a TransformState
func (c Candidate) State() TransformState {
	return TransformState{Rotation: c.Rotation, Scale: c.Scale, Translation: c.Translation}
}

// HeightRange bounds acceptable altitudes in meters. A zero Max means unbounded.
type HeightRange struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Contains reports whether altitude lies inside the range
func (r HeightRange) Contains(altitude float64) bool {
	if altitude < r.Min {
		return false
	}
	if r.Max > 0 && altitude > r.Max {
		return false
	}
	return true
}

// Bounds is a geographic bounding box
type Bounds struct {
	MinLon float64 `json:"minLon"`
	MinLat float64 `json:"minLat"`
	MaxLon float64 `json:"maxLon"`
	MaxLat float64 `json:"maxLat"`
}

// Fix is the result of a successful location estimate
type Fix struct {
	Location        GeoPoint  `json:"location"`
	Height          int       `json:"height"` // meters
	Quality         float64   `json:"quality"`
	Rotation        float64   `json:"rotation"`
	Scale           float64   `json:"scale"`
	Correspondences int       `json:"correspondences"`
	TestingRange    int       `json:"testingRange"`
	Rounds          int       `json:"rounds"`
	Timestamp       time.Time `json:"timestamp"`
}
