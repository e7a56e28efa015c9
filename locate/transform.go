package locate

import "math"

// TransformPoint applies an affine transform to a point
// x' = a*x + b*y + tx
// y' = c*x + d*y + ty
func TransformPoint(p Point, m AffineMatrix) Point {
	return Point{
		X: m.A*p.X + m.B*p.Y + m.Tx,
		Y: m.C*p.X + m.D*p.Y + m.Ty,
	}
}

// TransformPoints applies an affine transform to multiple points
func TransformPoints(points []Point, m AffineMatrix) []Point {
	result := make([]Point, len(points))
	for i, p := range points {
		result[i] = TransformPoint(p, m)
	}
	return result
}

// NormalizeAngle normalizes an angle in degrees to the range [0, 360).
func NormalizeAngle(degrees float64) float64 {
	degrees = math.Mod(degrees, 360)
	if degrees < 0 {
		degrees += 360
	}
	if degrees >= 360 {
		degrees -= 360
	}
	return degrees
}

// PointAngle returns the counter-clockwise angle in degrees, normalized to
// [0, 360), from the vector axis->from to the vector axis->to.
func PointAngle(axis, from, to Point) float64 {
	a1 := math.Atan2(from.Y-axis.Y, from.X-axis.X)
	a2 := math.Atan2(to.Y-axis.Y, to.X-axis.X)
	return NormalizeAngle((a2 - a1) * 180 / math.Pi)
}

// MultiplyMatrices composes two affine transforms: result = m1 * m2
// Applying result is equivalent to applying m2 first, then m1
func MultiplyMatrices(m1, m2 AffineMatrix) AffineMatrix {
	return AffineMatrix{
		A:  m1.A*m2.A + m1.B*m2.C,
		B:  m1.A*m2.B + m1.B*m2.D,
		Tx: m1.A*m2.Tx + m1.B*m2.Ty + m1.Tx,
		C:  m1.C*m2.A + m1.D*m2.C,
		D:  m1.C*m2.B + m1.D*m2.D,
		Ty: m1.C*m2.Tx + m1.D*m2.Ty + m1.Ty,
	}
}

// InvertMatrix returns the inverse of m. ok is false when m collapses the
// plane (near-zero determinant) and has no inverse.
func InvertMatrix(m AffineMatrix) (inv AffineMatrix, ok bool) {
	det := m.A*m.D - m.B*m.C
	if math.Abs(det) < 1e-12 {
		return AffineMatrix{}, false
	}
	// inverse linear part, then the translation pulled back through it
	inv = AffineMatrix{A: m.D / det, B: -m.B / det, C: -m.C / det, D: m.A / det}
	inv.Tx = -(inv.A*m.Tx + inv.B*m.Ty)
	inv.Ty = -(inv.C*m.Tx + inv.D*m.Ty)
	return inv, true
}

// Translation creates a translation-only transform
func Translation(tx, ty float64) AffineMatrix {
	return AffineMatrix{A: 1, B: 0, Tx: tx, C: 0, D: 1, Ty: ty}
}

// Rotation creates a rotation transform (angle in radians, around origin)
func Rotation(angle float64) AffineMatrix {
	cos := math.Cos(angle)
	sin := math.Sin(angle)
	return AffineMatrix{A: cos, B: -sin, Tx: 0, C: sin, D: cos, Ty: 0}
}

// RotationDeg creates a rotation transform (angle in degrees, around origin)
func RotationDeg(degrees float64) AffineMatrix {
	return Rotation(degrees * math.Pi / 180.0)
}

// RotationAbout creates a rotation transform (degrees) around an arbitrary pivot
func RotationAbout(degrees float64, pivot Point) AffineMatrix {
	toOrigin := Translation(-pivot.X, -pivot.Y)
	fromOrigin := Translation(pivot.X, pivot.Y)
	return MultiplyMatrices(fromOrigin, MultiplyMatrices(RotationDeg(degrees), toOrigin))
}

// Scale creates a scaling transform
func Scale(sx, sy float64) AffineMatrix {
	return AffineMatrix{A: sx, B: 0, Tx: 0, C: 0, D: sy, Ty: 0}
}

// RotatePoints rotates points by -degrees around axis. The negative sign
// matches the plane convention: a plane with Rotation r turns its content
// clockwise by r.
func RotatePoints(points []Point, degrees float64, axis Point) []Point {
	return TransformPoints(points, RotationAbout(-degrees, axis))
}

// ScalePoints scales points uniformly about the origin
func ScalePoints(points []Point, factor float64) []Point {
	return TransformPoints(points, Scale(factor, factor))
}

// TranslatePoints shifts points by (dx, dy)
func TranslatePoints(points []Point, dx, dy float64) []Point {
	return TransformPoints(points, Translation(dx, dy))
}

// Distance calculates Euclidean distance between two points
func Distance(p1, p2 Point) float64 {
	dx := p2.X - p1.X
	dy := p2.Y - p1.Y
	return math.Sqrt(dx*dx + dy*dy)
}
