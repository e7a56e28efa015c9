package locate

// Plane is an ordered set of points inside a bounded (0,0)-Size region
// together with a similarity transform. Base points are never modified;
// transformed points are recomputed from the current state on every call.
type Plane struct {
	points []Point
	size   Size
	state  TransformState
}

// NewPlane creates a plane with the identity transform.
// The points slice is copied.
func NewPlane(points []Point, size Size) Plane {
	pts := make([]Point, len(points))
	copy(pts, points)
	return Plane{points: pts, size: size, state: IdentityState()}
}

// BasePoints returns a copy of the untransformed points
func (p Plane) BasePoints() []Point {
	pts := make([]Point, len(p.points))
	copy(pts, p.points)
	return pts
}

// Point returns base point i
func (p Plane) Point(i int) Point { return p.points[i] }

// NumPoints returns the number of base points
func (p Plane) NumPoints() int { return len(p.points) }

// Size returns the plane extent
func (p Plane) Size() Size { return p.size }

// State returns the current transform state
func (p Plane) State() TransformState { return p.state }

// Corners returns the four corners of the untransformed region
func (p Plane) Corners() []Point {
	return []Point{
		{X: 0, Y: 0},
		{X: p.size.Width, Y: 0},
		{X: p.size.Width, Y: p.size.Height},
		{X: 0, Y: p.size.Height},
	}
}

// WithState returns a copy of the plane carrying the given transform.
// The base points are shared; they are never written to.
func (p Plane) WithState(state TransformState) Plane {
	p.state = state
	return p
}

// SetRotation sets the rotation in degrees
func (p *Plane) SetRotation(degrees float64) { p.state.Rotation = degrees }

// SetScale sets the uniform scale factor
func (p *Plane) SetScale(scale float64) { p.state.Scale = scale }

// SetTranslation sets the translation
func (p *Plane) SetTranslation(x, y float64) { p.state.Translation = Point{X: x, Y: y} }

// TransformedPoints applies the current transform to the base points
func (p Plane) TransformedPoints() []Point {
	return ApplyTransform(p.points, p.size, p.state)
}

// TransformedCentre applies the current transform to the region centre
func (p Plane) TransformedCentre() Point {
	return ApplyTransform([]Point{p.size.Centre()}, p.size, p.state)[0]
}

// TransformedCorners applies the current transform to the region corners
func (p Plane) TransformedCorners() []Point {
	return ApplyTransform(p.Corners(), p.size, p.state)
}

// Matrix returns the transform state as a single affine matrix for a plane of
// the given size: translate * scale * rotate(-Rotation about centre).
func (s TransformState) Matrix(size Size) AffineMatrix {
	if s == IdentityState() {
		return Identity()
	}
	m := RotationAbout(-s.Rotation, size.Centre())
	m = MultiplyMatrices(Scale(s.Scale, s.Scale), m)
	return MultiplyMatrices(Translation(s.Translation.X, s.Translation.Y), m)
}

// ApplyTransform is the pure transform function behind Plane. Order is fixed:
// rotate about the centre of size by -Rotation, scale about the origin, then
// translate. SolvePair derives its parameters assuming exactly this order.
func ApplyTransform(points []Point, size Size, state TransformState) []Point {
	out := make([]Point, len(points))
	copy(out, points)
	if state.Rotation != 0 {
		out = RotatePoints(out, state.Rotation, size.Centre())
	}
	if state.Scale != 1 {
		out = ScalePoints(out, state.Scale)
	}
	if state.Translation != (Point{}) {
		out = TranslatePoints(out, state.Translation.X, state.Translation.Y)
	}
	return out
}

// InverseTransformPoints undoes ApplyTransform by applying the inverse of
// the state matrix. A zero scale has no inverse and yields nil.
func InverseTransformPoints(points []Point, size Size, state TransformState) []Point {
	inv, ok := InvertMatrix(state.Matrix(size))
	if !ok {
		return nil
	}
	return TransformPoints(points, inv)
}
