// Package ensemble implements the unsupervised anomaly detectors and
// the weighted model that combines them.
package ensemble

import (
	"math"
	"math/rand"
)

// Isolation forest defaults.
const (
	DefaultNumTrees      = 100
	DefaultSubsampleSize = 256
)

const eulerMascheroni = 0.5772156649015329

// averagePathLength is c(n), the average path length of an unsuccessful
// BST search over n points. It normalizes tree depths into scores.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + eulerMascheroni
	return 2*h - 2*float64(n-1)/float64(n)
}

// treeNode is one node of an isolation tree. Leaves have no children
// and record how many training points they isolate.
type treeNode struct {
	Left    *treeNode `json:"l,omitempty"`
	Right   *treeNode `json:"r,omitempty"`
	Feature int       `json:"f"`
	Split   float64   `json:"s"`
	Size    int       `json:"n"`
}

func (n *treeNode) isLeaf() bool {
	return n.Left == nil
}

// IsolationForest scores points by how quickly random axis-aligned
// splits isolate them. Anomalies need fewer splits.
type IsolationForest struct {
	Trees         []*treeNode `json:"trees"`
	SubsampleSize int         `json:"subsample_size"`
}

// FitIsolationForest trains numTrees trees on random subsamples of the
// data. The same seed over the same data yields the same forest.
func FitIsolationForest(data [][]float64, numTrees, subsampleSize int, seed int64) *IsolationForest {
	rng := rand.New(rand.NewSource(seed))

	if subsampleSize > len(data) {
		subsampleSize = len(data)
	}
	heightLimit := int(math.Ceil(math.Log2(float64(subsampleSize))))

	forest := &IsolationForest{
		Trees:         make([]*treeNode, numTrees),
		SubsampleSize: subsampleSize,
	}
	for i := range forest.Trees {
		sample := subsample(data, subsampleSize, rng)
		forest.Trees[i] = buildTree(sample, 0, heightLimit, rng)
	}
	return forest
}

// subsample draws n rows without replacement.
func subsample(data [][]float64, n int, rng *rand.Rand) [][]float64 {
	perm := rng.Perm(len(data))
	sample := make([][]float64, n)
	for i := 0; i < n; i++ {
		sample[i] = data[perm[i]]
	}
	return sample
}

func buildTree(sample [][]float64, depth, heightLimit int, rng *rand.Rand) *treeNode {
	if depth >= heightLimit || len(sample) <= 1 {
		return &treeNode{Size: len(sample)}
	}

	feature, lo, hi, ok := pickSplitFeature(sample, rng)
	if !ok {
		// Every remaining column is constant.
		return &treeNode{Size: len(sample)}
	}
	split := lo + rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, row := range sample {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	return &treeNode{
		Feature: feature,
		Split:   split,
		Left:    buildTree(left, depth+1, heightLimit, rng),
		Right:   buildTree(right, depth+1, heightLimit, rng),
	}
}

// pickSplitFeature draws random features until it finds one with a
// non-degenerate range in this sample.
func pickSplitFeature(sample [][]float64, rng *rand.Rand) (feature int, lo, hi float64, ok bool) {
	dims := len(sample[0])
	for _, feature := range rng.Perm(dims) {
		lo, hi := sample[0][feature], sample[0][feature]
		for _, row := range sample[1:] {
			lo = math.Min(lo, row[feature])
			hi = math.Max(hi, row[feature])
		}
		if hi > lo {
			return feature, lo, hi, true
		}
	}
	return 0, 0, 0, false
}

// pathLength walks a point down one tree, adding the subtree adjustment
// at the leaf.
func pathLength(node *treeNode, point []float64) float64 {
	depth := 0.0
	for !node.isLeaf() {
		if point[node.Feature] < node.Split {
			node = node.Left
		} else {
			node = node.Right
		}
		depth++
	}
	return depth + averagePathLength(node.Size)
}

// Score returns the anomaly score of one point in [0, 1], where values
// near 1 indicate isolation after very few splits.
func (f *IsolationForest) Score(point []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	total := 0.0
	for _, tree := range f.Trees {
		total += pathLength(tree, point)
	}
	mean := total / float64(len(f.Trees))
	return math.Pow(2, -mean/averagePathLength(f.SubsampleSize))
}
