// Package uncertainty resamples hard 0/1 concept values into a band of
// configurable width and, optionally, blends operand pixels with an
// opposite-concept example from the same batch.
package uncertainty

import (
	"math/rand"

	"github.com/conceptlab/conceptlab/concept-go/dataset"
	"github.com/conceptlab/conceptlab/concept-golib/errors"
	"github.com/conceptlab/conceptlab/concept-golib/tensor"
)

// ErrEvenConceptMixing rejects pixel mixing over parity concepts: a parity
// bit does not identify a digit pool to draw opposite examples from.
var ErrEvenConceptMixing = errors.New("pixel mixing over parity concepts is unsupported")

// Options configures an injection pass.
type Options struct {
	// Width is the uncertainty band: concepts at 1 resample into
	// [1-Width, 1), concepts at 0 into [0, Width).
	Width float64
	// Mixing blends the owning operand's pixels with an opposite-concept
	// example, weighted by the resampled concept value.
	Mixing bool
	// Threshold collapses the resampled value back to hard 0/1 at 0.5,
	// keeping any mixed pixels.
	Threshold bool
	// Groups maps operand index to the concept columns it owns; required
	// for mixing. Images must be channels-first with one channel per
	// operand.
	Groups map[int][]int
	// EvenConcepts marks parity-encoded concepts.
	EvenConcepts bool
	// BatchSize of the produced loaders.
	BatchSize int
}

// Inject produces, for each input loader, a new loader over resampled
// concepts and (with mixing) blended images. Inputs are not mutated; the
// labeled mask and neighbor annotations carry over unchanged. Samples with
// a concept value of exactly 1 draw from the high band; all others draw
// from the low band.
func Inject(rng *rand.Rand, opts Options, loaders ...*dataset.Loader) ([]*dataset.Loader, error) {
	if opts.Mixing && opts.EvenConcepts {
		return nil, ErrEvenConceptMixing
	}

	var colOwner map[int]int
	if opts.Mixing {
		colOwner = make(map[int]int)
		for op, cols := range opts.Groups {
			for _, col := range cols {
				colOwner[col] = op
			}
		}
	}

	out := make([]*dataset.Loader, 0, len(loaders))
	for _, l := range loaders {
		data := l.Data()
		images := data.Images.Clone()
		concepts := data.Concepts.Clone()

		if opts.Width > 0 {
			for bi := 0; bi < l.Batches(); bi++ {
				batch, err := l.Batch(bi)
				if err != nil {
					return nil, err
				}
				lo := bi * l.BatchSize()
				newImages, err := images.Slice(lo, lo+batch.Len())
				if err != nil {
					return nil, err
				}
				newConcepts, err := concepts.Slice(lo, lo+batch.Len())
				if err != nil {
					return nil, err
				}
				if err := injectBatch(rng, opts, colOwner, batch, newImages, newConcepts); err != nil {
					return nil, err
				}
			}
		}

		annotated, err := dataset.NewAnnotated(
			dataset.Bundle{Images: images, Labels: data.Labels, Concepts: concepts},
			data.Labeled, data.NeighborConcepts, data.NeighborWeights)
		if err != nil {
			return nil, err
		}
		loader, err := dataset.NewLoader(annotated, opts.BatchSize)
		if err != nil {
			return nil, err
		}
		out = append(out, loader)
	}
	return out, nil
}

// injectBatch resamples one batch in place on the output views. Mixing
// pools are built per column from the batch's original tensors, so blends
// compound on the output while drawing from pristine pixels.
func injectBatch(rng *rand.Rand, opts Options, colOwner map[int]int,
	orig dataset.Annotated, newImages, newConcepts *tensor.T) error {

	n := orig.Len()
	cols := orig.Concepts.Dim(1)

	for j := 0; j < cols; j++ {
		var channel int
		var posRows, negRows []int
		if opts.Mixing {
			op, ok := colOwner[j]
			if !ok {
				return errors.Errorf("concept column %d is in no concept group", j)
			}
			if op >= orig.Images.Dim(1) {
				return errors.Errorf(
					"concept column %d belongs to operand %d but images have %d channels",
					j, op, orig.Images.Dim(1))
			}
			channel = op
			for i := 0; i < n; i++ {
				if orig.Concepts.At(i, j) == 1 {
					posRows = append(posRows, i)
				} else {
					negRows = append(negRows, i)
				}
			}
		}

		for i := 0; i < n; i++ {
			var v float64
			if orig.Concepts.At(i, j) == 1 {
				v = 1 - opts.Width + rng.Float64()*opts.Width
				newConcepts.Set(float32(v), i, j)
				if opts.Mixing {
					if len(negRows) == 0 {
						return errors.Errorf(
							"no opposite examples to mix for concept column %d (all positive)", j)
					}
					pick := negRows[rng.Intn(len(negRows))]
					blend(newImages.Plane(i, channel), orig.Images.Plane(pick, channel), v)
				}
			} else {
				v = rng.Float64() * opts.Width
				newConcepts.Set(float32(v), i, j)
				if opts.Mixing {
					if len(posRows) == 0 {
						return errors.Errorf(
							"no opposite examples to mix for concept column %d (all negative)", j)
					}
					pick := posRows[rng.Intn(len(posRows))]
					blend(newImages.Plane(i, channel), orig.Images.Plane(pick, channel), 1-v)
				}
			}
			if opts.Threshold {
				if v >= 0.5 {
					newConcepts.Set(1, i, j)
				} else {
					newConcepts.Set(0, i, j)
				}
			}
		}
	}
	return nil
}

// blend overwrites dst with dst*keep + other*(1-keep).
func blend(dst, other []float32, keep float64) {
	k := float32(keep)
	for i := range dst {
		dst[i] = dst[i]*k + other[i]*(1-k)
	}
}
