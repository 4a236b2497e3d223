// Package semisup derives the semi-supervised annotations of a bundle: a
// class-stratified labeled mask and, for every sample, the concepts and
// interpolation weights of its nearest labeled neighbors in pixel space.
package semisup

import (
	"github.com/conceptlab/conceptlab/concept-go/dataset"
	"github.com/conceptlab/conceptlab/concept-golib/errors"
	"github.com/conceptlab/conceptlab/concept-golib/knn"
	"github.com/conceptlab/conceptlab/concept-golib/tensor"
)

// DefaultNeighbors is the neighbor count the orchestrator requests.
const DefaultNeighbors = 2

const epsilon = 1e-6

// Stratify marks samples labeled in dataset order, per task label, while a
// label's running labeled count stays below ratio times its class size.
// Early indices within a class are favored; a fractional target rounds up
// under the strict-less-than rule. Non-training splits are fully labeled.
func Stratify(labels []int, ratio float64, training bool) []bool {
	labeled := make([]bool, len(labels))
	if !training {
		for i := range labeled {
			labeled[i] = true
		}
		return labeled
	}

	classCount := make(map[int]int)
	for _, y := range labels {
		classCount[y]++
	}
	labeledCount := make(map[int]int)
	for i, y := range labels {
		if float64(labeledCount[y]) < ratio*float64(classCount[y]) {
			labeled[i] = true
			labeledCount[y]++
		}
	}
	return labeled
}

// Components annotates the bundle: every sample gets its k nearest labeled
// neighbors by cosine distance over flattened pixels, with weights
// 1/(distance+eps) normalized to sum to 1. Neighbor concepts are gathered
// from the bundle's own concept rows through the labeled-subset index
// mapping.
func Components(b dataset.Bundle, ratio float64, training bool, k int) (dataset.Annotated, error) {
	n := b.Len()
	labeled := Stratify(b.Labels, ratio, training)

	features := make([][]float32, n)
	for i := 0; i < n; i++ {
		features[i] = b.Images.Row(i)
	}

	var labeledRows [][]float32
	var labeledIdx []int
	for i, l := range labeled {
		if l {
			labeledRows = append(labeledRows, features[i])
			labeledIdx = append(labeledIdx, i)
		}
	}

	index, err := knn.Fit(labeledRows)
	if err != nil {
		return dataset.Annotated{}, errors.Wrapf(err, "fitting neighbor index over %d labeled samples", len(labeledRows))
	}

	numConcepts := b.Concepts.Dim(1)
	nbrConcepts := tensor.New(n, k, numConcepts)
	nbrWeights := tensor.New(n, k)

	for i := 0; i < n; i++ {
		neighbors, dists, err := index.Neighbors(features[i], k)
		if err != nil {
			return dataset.Annotated{}, errors.Wrapf(err, "querying neighbors for sample %d", i)
		}

		var total float64
		weights := make([]float64, k)
		for j, d := range dists {
			weights[j] = 1.0 / (d + epsilon)
			total += weights[j]
		}
		for j, nbr := range neighbors {
			nbrWeights.Set(float32(weights[j]/total), i, j)
			src := b.Concepts.Row(labeledIdx[nbr])
			copy(nbrConcepts.Plane(i, j), src)
		}
	}

	return dataset.NewAnnotated(b, labeled, nbrConcepts, nbrWeights)
}
