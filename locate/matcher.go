package locate

import (
	"math"
	"sort"
)

// DefaultNumDrop is the number of worst datapoint losses ignored per comparison
const DefaultNumDrop = 2

// CompareFingerprints scores how badly overlay fits base; lower is better.
//
// Every overlay datapoint is paired with its closest base datapoint, where the
// loss of a pairing is |angle difference| * |ratio difference|. The numDrop
// largest of those minimum losses are dropped and the rest summed.
func CompareFingerprints(base, overlay Fingerprint, numDrop int) float64 {
	losses := make([]float64, 0, len(overlay.Datapoints))
	for _, o := range overlay.Datapoints {
		minLoss := math.Inf(1)
		for _, b := range base.Datapoints {
			loss := math.Abs(o.Angle-b.Angle) * math.Abs(o.Ratio-b.Ratio)
			if loss < minLoss {
				minLoss = loss
			}
		}
		losses = append(losses, minLoss)
	}
	sort.Float64s(losses)

	if numDrop < 0 {
		numDrop = 0
	}
	keep := len(losses) - numDrop
	var sum float64
	for i := 0; i < keep; i++ {
		sum += losses[i]
	}
	return sum
}

// Matches holds one correspondence per photo fingerprint, in photo order.
// MapIndices[i], PhotoIndices[i] and Losses[i] describe the same pair.
type Matches struct {
	MapIndices   []int
	PhotoIndices []int
	Losses       []float64
}

// Len returns the number of correspondences
func (m Matches) Len() int { return len(m.PhotoIndices) }

// Correspondences returns the pairs in photo order
func (m Matches) Correspondences() []Correspondence {
	out := make([]Correspondence, m.Len())
	for i := range out {
		out[i] = Correspondence{
			MapIndex:   m.MapIndices[i],
			PhotoIndex: m.PhotoIndices[i],
			Loss:       m.Losses[i],
		}
	}
	return out
}

// Ranked returns the pairs ordered by ascending loss. Equal losses keep
// photo order.
func (m Matches) Ranked() []Correspondence {
	out := m.Correspondences()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Loss < out[j].Loss
	})
	return out
}

// MatchFingerprints pairs every photo fingerprint with the map fingerprint of
// minimum loss. Indices are slice positions, which BuildFingerprints keeps
// equal to plane point indices. Ties go to the lowest map index. Several
// photo points may map onto the same map point; later stages tolerate that.
func MatchFingerprints(mapFP, photoFP []Fingerprint, numDrop int) Matches {
	m := Matches{
		MapIndices:   make([]int, 0, len(photoFP)),
		PhotoIndices: make([]int, 0, len(photoFP)),
		Losses:       make([]float64, 0, len(photoFP)),
	}
	if len(mapFP) == 0 {
		return m
	}

	for pi, pf := range photoFP {
		best := -1
		bestLoss := math.Inf(1)
		for mi, mf := range mapFP {
			loss := CompareFingerprints(mf, pf, numDrop)
			if best < 0 || loss < bestLoss {
				best = mi
				bestLoss = loss
			}
		}
		m.MapIndices = append(m.MapIndices, best)
		m.PhotoIndices = append(m.PhotoIndices, pi)
		m.Losses = append(m.Losses, bestLoss)
	}
	return m
}
