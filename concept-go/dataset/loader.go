package dataset

import (
	"github.com/conceptlab/conceptlab/concept-golib/errors"
)

// Loader iterates an Annotated in fixed-size batches. Batches are served in
// sample order with no shuffling, so evaluation passes are stable.
type Loader struct {
	data      Annotated
	batchSize int
}

// NewLoader wraps data at the given batch size.
func NewLoader(data Annotated, batchSize int) (*Loader, error) {
	if batchSize < 1 {
		return nil, errors.Errorf("loader: batch size %d", batchSize)
	}
	return &Loader{data: data, batchSize: batchSize}, nil
}

// Len returns the total sample count.
func (l *Loader) Len() int { return l.data.Len() }

// BatchSize returns the configured batch size.
func (l *Loader) BatchSize() int { return l.batchSize }

// Batches returns the number of batches; the last one may be short.
func (l *Loader) Batches() int {
	return (l.data.Len() + l.batchSize - 1) / l.batchSize
}

// Data returns the underlying annotated bundle.
func (l *Loader) Data() Annotated { return l.data }

// Batch returns batch i as views into the underlying bundle.
func (l *Loader) Batch(i int) (Annotated, error) {
	if i < 0 || i >= l.Batches() {
		return Annotated{}, errors.Errorf("loader: batch %d of %d", i, l.Batches())
	}
	lo := i * l.batchSize
	hi := lo + l.batchSize
	if n := l.data.Len(); hi > n {
		hi = n
	}

	images, err := l.data.Images.Slice(lo, hi)
	if err != nil {
		return Annotated{}, err
	}
	concepts, err := l.data.Concepts.Slice(lo, hi)
	if err != nil {
		return Annotated{}, err
	}
	nbrConcepts, err := l.data.NeighborConcepts.Slice(lo, hi)
	if err != nil {
		return Annotated{}, err
	}
	nbrWeights, err := l.data.NeighborWeights.Slice(lo, hi)
	if err != nil {
		return Annotated{}, err
	}

	return Annotated{
		Bundle: Bundle{
			Images:   images,
			Labels:   l.data.Labels[lo:hi],
			Concepts: concepts,
		},
		Labeled:          l.data.Labeled[lo:hi],
		NeighborConcepts: nbrConcepts,
		NeighborWeights:  nbrWeights,
	}, nil
}

// Imbalance scans the loader once, accumulating per-concept value sums, and
// returns samples/sum - 1 per concept column. Columns never active come back
// +Inf.
func Imbalance(l *Loader) ([]float64, error) {
	counts := make([]float64, l.data.Concepts.Dim(1))
	var seen float64
	for i := 0; i < l.Batches(); i++ {
		b, err := l.Batch(i)
		if err != nil {
			return nil, err
		}
		for s := 0; s < b.Len(); s++ {
			row := b.Concepts.Row(s)
			for j, v := range row {
				counts[j] += float64(v)
			}
		}
		seen += float64(b.Len())
	}

	imbalance := make([]float64, len(counts))
	for j, c := range counts {
		imbalance[j] = seen/c - 1
	}
	return imbalance, nil
}
