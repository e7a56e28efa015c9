package locate

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// Neighbor is a k-nearest-neighbor query result
type Neighbor struct {
	Index    int     // index into the points the index was built from
	Distance float64 // Euclidean distance to the query point
}

// SpatialIndex is a static 2-d tree for nearest-neighbor queries over a point set
type SpatialIndex struct {
	tree *kdtree.Tree
	n    int
}

// NewSpatialIndex builds an index over points. The slice is not retained.
func NewSpatialIndex(points []Point) *SpatialIndex {
	nodes := make(indexedPoints, len(points))
	for i, p := range points {
		nodes[i] = indexedPoint{X: p.X, Y: p.Y, Index: i}
	}
	idx := &SpatialIndex{n: len(points)}
	if len(nodes) > 0 {
		idx.tree = kdtree.New(nodes, false)
	}
	return idx
}

// Len returns the number of indexed points
func (s *SpatialIndex) Len() int { return s.n }

// Nearest returns the closest indexed point to q.
// ok is false when the index is empty.
func (s *SpatialIndex) Nearest(q Point) (n Neighbor, ok bool) {
	if s.tree == nil {
		return Neighbor{}, false
	}
	c, d := s.tree.Nearest(indexedPoint{X: q.X, Y: q.Y, Index: -1})
	if c == nil {
		return Neighbor{}, false
	}
	return Neighbor{Index: c.(indexedPoint).Index, Distance: math.Sqrt(d)}, true
}

// KNearest returns up to k points closest to q, sorted by ascending distance.
// Equal distances are ordered by ascending point index, including ties at
// the k-th distance.
func (s *SpatialIndex) KNearest(q Point, k int) []Neighbor {
	if s.tree == nil || k <= 0 {
		return nil
	}
	query := indexedPoint{X: q.X, Y: q.Y, Index: -1}
	keeper := kdtree.NewNKeeper(k)
	s.tree.NearestSet(keeper, query)
	found := keeper.Heap

	if len(neighborsOf(found)) == k {
		// NKeeper drops points tied with the k-th by tree layout, so sweep
		// the k-th radius again. The bound sits just above it to keep the
		// sentinel strictly outermost.
		var kth float64
		for _, cd := range found {
			if cd.Comparable != nil {
				kth = math.Max(kth, cd.Dist)
			}
		}
		ring := kdtree.NewDistKeeper(math.Nextafter(kth, math.Inf(1)))
		s.tree.NearestSet(ring, query)
		found = make(kdtree.Heap, 0, len(ring.Heap))
		for _, cd := range ring.Heap {
			if cd.Comparable != nil && cd.Dist <= kth {
				found = append(found, cd)
			}
		}
	}

	result := neighborsOf(found)
	sort.Slice(result, func(i, j int) bool {
		if result[i].Distance != result[j].Distance {
			return result[i].Distance < result[j].Distance
		}
		return result[i].Index < result[j].Index
	})
	if len(result) > k {
		result = result[:k]
	}
	return result
}

// neighborsOf converts keeper results, skipping the empty sentinel a keeper
// leaves behind when fewer points than requested exist
func neighborsOf(heap kdtree.Heap) []Neighbor {
	result := make([]Neighbor, 0, len(heap))
	for _, cd := range heap {
		if cd.Comparable == nil {
			continue
		}
		result = append(result, Neighbor{
			Index:    cd.Comparable.(indexedPoint).Index,
			Distance: math.Sqrt(cd.Dist),
		})
	}
	return result
}

// indexedPoint is a kdtree.Comparable carrying the index of its source point
type indexedPoint struct {
	X, Y  float64
	Index int
}

func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(indexedPoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	default:
		panic("illegal dimension")
	}
}

func (p indexedPoint) Dims() int { return 2 }

// Distance returns the squared Euclidean distance, as kdtree expects
func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(indexedPoint)
	dx := p.X - q.X
	dy := p.Y - q.Y
	return dx*dx + dy*dy
}

type indexedPoints []indexedPoint

func (p indexedPoints) Index(i int) kdtree.Comparable { return p[i] }
func (p indexedPoints) Len() int                       { return len(p) }
func (p indexedPoints) Pivot(d kdtree.Dim) int {
	return pointPlane{indexedPoints: p, Dim: d}.Pivot()
}
func (p indexedPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// pointPlane sorts indexedPoints along one dimension for median partitioning
type pointPlane struct {
	kdtree.Dim
	indexedPoints
}

func (p pointPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.indexedPoints[i].X < p.indexedPoints[j].X
	case 1:
		return p.indexedPoints[i].Y < p.indexedPoints[j].Y
	default:
		panic("illegal dimension")
	}
}
func (p pointPlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p pointPlane) Slice(start, end int) kdtree.SortSlicer {
	return pointPlane{Dim: p.Dim, indexedPoints: p.indexedPoints[start:end]}
}
func (p pointPlane) Swap(i, j int) {
	p.indexedPoints[i], p.indexedPoints[j] = p.indexedPoints[j], p.indexedPoints[i]
}
