// Package dataset defines the tensor bundles flowing between the synthesis
// stages and the batched loaders handed to a trainer.
package dataset

import (
	"github.com/conceptlab/conceptlab/concept-golib/errors"
	"github.com/conceptlab/conceptlab/concept-golib/tensor"
)

// Bundle is one synthesized split: composite images (N, ...), the task label
// per sample, and the concept matrix (N, C).
type Bundle struct {
	Images   *tensor.T
	Labels   []int
	Concepts *tensor.T
}

// NewBundle validates that all three parts agree on the sample count.
func NewBundle(images *tensor.T, labels []int, concepts *tensor.T) (Bundle, error) {
	if images == nil || concepts == nil {
		return Bundle{}, errors.Errorf("bundle: nil tensor")
	}
	if concepts.Rank() != 2 {
		return Bundle{}, errors.Errorf("bundle: concepts must be (N, C), got shape %v", concepts.Shape())
	}
	n := images.Dim(0)
	if len(labels) != n || concepts.Dim(0) != n {
		return Bundle{}, errors.Errorf(
			"bundle: %d images, %d labels, %d concept rows", n, len(labels), concepts.Dim(0))
	}
	return Bundle{Images: images, Labels: labels, Concepts: concepts}, nil
}

// Len returns the sample count.
func (b Bundle) Len() int {
	if b.Images == nil {
		return 0
	}
	return b.Images.Dim(0)
}

// Annotated is a bundle plus the semi-supervision annotations: the labeled
// mask, each sample's k nearest labeled neighbors' concepts (N, k, C), and
// the matching interpolation weights (N, k). All parts share one sample
// ordering.
type Annotated struct {
	Bundle
	Labeled          []bool
	NeighborConcepts *tensor.T
	NeighborWeights  *tensor.T
}

// NewAnnotated validates the annotation shapes against the bundle.
func NewAnnotated(b Bundle, labeled []bool, nbrConcepts, nbrWeights *tensor.T) (Annotated, error) {
	n := b.Len()
	if len(labeled) != n {
		return Annotated{}, errors.Errorf("annotated: %d labeled flags for %d samples", len(labeled), n)
	}
	if nbrConcepts == nil || nbrConcepts.Rank() != 3 || nbrConcepts.Dim(0) != n {
		return Annotated{}, errors.Errorf("annotated: neighbor concepts must be (%d, k, C)", n)
	}
	if nbrWeights == nil || nbrWeights.Rank() != 2 || nbrWeights.Dim(0) != n {
		return Annotated{}, errors.Errorf("annotated: neighbor weights must be (%d, k)", n)
	}
	if nbrConcepts.Dim(1) != nbrWeights.Dim(1) {
		return Annotated{}, errors.Errorf(
			"annotated: %d neighbor concepts per sample but %d weights",
			nbrConcepts.Dim(1), nbrWeights.Dim(1))
	}
	if nbrConcepts.Dim(2) != b.Concepts.Dim(1) {
		return Annotated{}, errors.Errorf(
			"annotated: neighbor concept width %d != concept width %d",
			nbrConcepts.Dim(2), b.Concepts.Dim(1))
	}
	return Annotated{
		Bundle:           b,
		Labeled:          labeled,
		NeighborConcepts: nbrConcepts,
		NeighborWeights:  nbrWeights,
	}, nil
}
