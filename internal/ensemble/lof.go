package ensemble

import (
	"math"
	"math/rand"
	"sort"
)

// Local outlier factor defaults.
const (
	DefaultNeighbors        = 20
	DefaultMaxReferenceSize = 5000
)

// LocalOutlierFactor scores points by comparing their local density to
// the density of their nearest reference points. It operates in novelty
// mode: the reference set is frozen at training time and queries are
// never added to it.
type LocalOutlierFactor struct {
	Reference  [][]float64 `json:"reference"`
	KDistances []float64   `json:"k_distances"`
	LRD        []float64   `json:"lrd"`
	Neighbors  int         `json:"neighbors"`
}

// FitLOF builds the frozen reference set. Training data larger than
// maxReference is subsampled with the given seed.
func FitLOF(data [][]float64, neighbors, maxReference int, seed int64) *LocalOutlierFactor {
	reference := data
	if len(data) > maxReference {
		rng := rand.New(rand.NewSource(seed))
		reference = subsample(data, maxReference, rng)
	}
	if neighbors >= len(reference) {
		neighbors = len(reference) - 1
	}

	l := &LocalOutlierFactor{
		Reference:  reference,
		KDistances: make([]float64, len(reference)),
		LRD:        make([]float64, len(reference)),
		Neighbors:  neighbors,
	}

	// Pass 1: k-distance and neighbor lists for every reference point.
	neighborLists := make([][]neighbor, len(reference))
	for i, point := range reference {
		nn := l.nearest(point, i)
		neighborLists[i] = nn
		l.KDistances[i] = nn[len(nn)-1].dist
	}

	// Pass 2: local reachability density from the frozen k-distances.
	for i, nn := range neighborLists {
		l.LRD[i] = l.reachabilityDensity(reference[i], nn)
	}

	return l
}

type neighbor struct {
	dist  float64
	index int
}

// nearest finds the k nearest reference points, excluding index skip.
func (l *LocalOutlierFactor) nearest(point []float64, skip int) []neighbor {
	candidates := make([]neighbor, 0, len(l.Reference))
	for i, ref := range l.Reference {
		if i == skip {
			continue
		}
		candidates = append(candidates, neighbor{dist: euclidean(point, ref), index: i})
	}
	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].dist != candidates[b].dist {
			return candidates[a].dist < candidates[b].dist
		}
		return candidates[a].index < candidates[b].index
	})
	if len(candidates) > l.Neighbors {
		candidates = candidates[:l.Neighbors]
	}
	return candidates
}

// reachabilityDensity is k divided by the summed reachability distances
// to the point's neighbors.
func (l *LocalOutlierFactor) reachabilityDensity(point []float64, nn []neighbor) float64 {
	sum := 0.0
	for _, n := range nn {
		sum += math.Max(l.KDistances[n.index], euclidean(point, l.Reference[n.index]))
	}
	if sum == 0 {
		// Duplicated points collapse to infinite density; cap it.
		return math.MaxFloat64
	}
	return float64(len(nn)) / sum
}

// Score returns the raw LOF of a query point. Values near 1 mean the
// point sits in a region as dense as its neighbors; larger values mean
// it is comparatively isolated.
func (l *LocalOutlierFactor) Score(point []float64) float64 {
	nn := l.nearest(point, -1)
	if len(nn) == 0 {
		return 1
	}

	queryLRD := l.reachabilityDensity(point, nn)
	if queryLRD == math.MaxFloat64 {
		return 1
	}

	sum := 0.0
	for _, n := range nn {
		sum += l.LRD[n.index]
	}
	return sum / float64(len(nn)) / queryLRD
}

func euclidean(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
