// Package knn provides an exact k-nearest-neighbor index under cosine
// distance. The index is brute force: fitting stores the feature rows and
// every query scans all of them. That is the right trade-off for the
// dataset-synthesis pipelines this serves, where the labeled subsets are
// a few thousand rows and the index is fit once per split.
package knn

import (
	"math"

	"github.com/conceptlab/conceptlab/concept-golib/errors"
)

// Index holds fitted feature rows.
type Index struct {
	rows [][]float32
	dim  int

	// precomputed L2 norms of rows
	norms []float64
}

// Fit builds an index over the given feature rows. All rows must share one
// dimension and at least one row is required.
func Fit(rows [][]float32) (*Index, error) {
	if len(rows) == 0 {
		return nil, errors.Errorf("knn: cannot fit an empty index")
	}
	dim := len(rows[0])
	norms := make([]float64, len(rows))
	for i, r := range rows {
		if len(r) != dim {
			return nil, errors.Errorf("knn: row %d has dimension %d, want %d", i, len(r), dim)
		}
		norms[i] = norm(r)
	}
	return &Index{rows: rows, dim: dim, norms: norms}, nil
}

// Len returns the number of fitted rows.
func (ix *Index) Len() int { return len(ix.rows) }

// Dim returns the feature dimension.
func (ix *Index) Dim() int { return ix.dim }

// Neighbors returns the indices and cosine distances of the k nearest fitted
// rows, ordered by ascending distance with ties broken toward the lower
// index. k must not exceed the number of fitted rows.
func (ix *Index) Neighbors(query []float32, k int) ([]int, []float64, error) {
	if len(query) != ix.dim {
		return nil, nil, errors.Errorf("knn: query has dimension %d, want %d", len(query), ix.dim)
	}
	if k < 1 || k > len(ix.rows) {
		return nil, nil, errors.Errorf("knn: k=%d out of range for %d fitted rows", k, len(ix.rows))
	}

	qn := norm(query)
	idxs := make([]int, 0, k)
	dists := make([]float64, 0, k)
	for i, row := range ix.rows {
		d := cosineDistance(query, qn, row, ix.norms[i])
		if len(idxs) == k && d >= dists[k-1] {
			continue
		}
		// insertion point: strictly before the first larger distance, so
		// equal distances keep the earlier row first
		at := len(idxs)
		for at > 0 && d < dists[at-1] {
			at--
		}
		if len(idxs) < k {
			idxs = append(idxs, 0)
			dists = append(dists, 0)
		}
		copy(idxs[at+1:], idxs[at:])
		copy(dists[at+1:], dists[at:])
		idxs[at] = i
		dists[at] = d
	}
	return idxs, dists, nil
}

// NeighborsAll runs Neighbors for every query row.
func (ix *Index) NeighborsAll(queries [][]float32, k int) ([][]int, [][]float64, error) {
	allIdx := make([][]int, len(queries))
	allDist := make([][]float64, len(queries))
	for i, q := range queries {
		idx, dist, err := ix.Neighbors(q, k)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "query %d", i)
		}
		allIdx[i] = idx
		allDist[i] = dist
	}
	return allIdx, allDist, nil
}

func norm(v []float32) float64 {
	var sq float64
	for _, x := range v {
		sq += float64(x) * float64(x)
	}
	return math.Sqrt(sq)
}

// cosineDistance is 1 - cos(a, b). Rows with zero norm are treated as
// maximally dissimilar to everything (distance 1).
func cosineDistance(a []float32, an float64, b []float32, bn float64) float64 {
	if an == 0 || bn == 0 {
		return 1
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return 1 - dot/(an*bn)
}
