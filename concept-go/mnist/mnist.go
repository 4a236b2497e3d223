// Package mnist loads the MNIST digit corpus from IDX files, downloading
// and caching them as needed.
package mnist

import (
	"context"

	"github.com/conceptlab/conceptlab/concept-golib/tensor"
)

// Split names a corpus split.
type Split string

// The two corpus splits.
const (
	TrainSplit Split = "train"
	TestSplit  Split = "test"
)

// Corpus holds one split of the digit corpus. Images is (N, rows, cols, 1)
// with raw byte intensities in [0, 255]; Labels[i] is the digit drawn in
// Images row i.
type Corpus struct {
	Images *tensor.T
	Labels []int
}

// Len returns the number of samples in the corpus.
func (c Corpus) Len() int {
	if c.Images == nil {
		return 0
	}
	return c.Images.Dim(0)
}

// Source loads corpus splits.
type Source interface {
	Load(ctx context.Context, split Split) (Corpus, error)
}
