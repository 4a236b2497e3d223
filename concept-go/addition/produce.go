package addition

import (
	"math/rand"

	"github.com/go-errors/errors"

	"github.com/conceptlab/conceptlab/concept-go/dataset"
	"github.com/conceptlab/conceptlab/concept-go/mnist"
	"github.com/conceptlab/conceptlab/concept-golib/tensor"
)

// Produce synthesizes opts.DatasetSize composite samples from the corpus.
// Every randomized step draws from rng, so a fixed seed reproduces the
// bundle exactly.
func Produce(rng *rand.Rand, corpus mnist.Corpus, opts Options) (dataset.Bundle, error) {
	concat := opts.ConcatMode
	if concat == "" {
		concat = ConcatChannels
	}
	switch concat {
	case ConcatChannels, ConcatX, ConcatY:
	default:
		return dataset.Bundle{}, errors.Errorf("unknown concat mode %q", concat)
	}

	format := opts.ImgFormat
	if format == "" {
		format = ChannelsFirst
	}
	switch format {
	case ChannelsFirst, ChannelsLast:
	default:
		return dataset.Bundle{}, errors.Errorf("unknown image format %q", format)
	}

	outputChannels := opts.OutputChannels
	if outputChannels == 0 {
		outputChannels = 1
	}
	if outputChannels < 1 {
		return dataset.Bundle{}, errors.Errorf("output channels %d", outputChannels)
	}

	if opts.DatasetSize < 1 {
		return dataset.Bundle{}, errors.Errorf("dataset size %d", opts.DatasetSize)
	}
	if opts.NumOperands < 1 {
		return dataset.Bundle{}, errors.Errorf("operand count %d", opts.NumOperands)
	}
	digits := opts.SelectedDigits
	if err := ValidateDigits(digits, opts.NumOperands); err != nil {
		return dataset.Bundle{}, err
	}

	pools, err := Partition(corpus, digits)
	if err != nil {
		return dataset.Bundle{}, err
	}
	for op, pool := range pools {
		if len(pool.Labels) == 0 {
			return dataset.Bundle{}, errors.Errorf(
				"no corpus samples for operand %d (digits %v)", op, digits[op])
		}
	}

	ops := opts.NumOperands
	h, w := corpus.Images.Dim(1), corpus.Images.Dim(2)
	var outH, outW, outC int
	switch concat {
	case ConcatChannels:
		outH, outW, outC = h, w, ops
	case ConcatX:
		outH, outW, outC = h, w*ops, 1
	case ConcatY:
		outH, outW, outC = h*ops, w, 1
	}

	width, _ := ConceptLayout(digits, opts.EvenConcepts)
	maxDigit := make([]int, ops)
	for op, set := range digits {
		maxDigit[op] = set[0]
		for _, d := range set[1:] {
			if d > maxDigit[op] {
				maxDigit[op] = d
			}
		}
	}

	images := tensor.New(opts.DatasetSize, outH, outW, outC)
	concepts := tensor.New(opts.DatasetSize, width)
	labels := make([]int, opts.DatasetSize)

	for i := 0; i < opts.DatasetSize; i++ {
		dst := images.Row(i)
		crow := concepts.Row(i)
		var sum, col int
		for op, pool := range pools {
			idx := rng.Intn(len(pool.Labels))
			digit := pool.Labels[idx]
			sum += digit

			set := digits[op]
			switch {
			case len(set) > 2 && opts.EvenConcepts:
				if pool.Remap[digit]%2 == 0 {
					crow[col] = 1
				}
				col++
			case len(set) > 2:
				crow[col+pool.Remap[digit]] = 1
				col += len(set)
			case opts.EvenConcepts:
				if digit%2 == 0 {
					crow[col] = 1
				}
				col++
			default:
				if digit == maxDigit[op] {
					crow[col] = 1
				}
				col++
			}

			src := pool.Images.Row(idx)
			switch concat {
			case ConcatChannels:
				for y := 0; y < h; y++ {
					for x := 0; x < w; x++ {
						dst[(y*w+x)*ops+op] = src[y*w+x]
					}
				}
			case ConcatX:
				for y := 0; y < h; y++ {
					copy(dst[y*outW+op*w:y*outW+(op+1)*w], src[y*w:(y+1)*w])
				}
			case ConcatY:
				copy(dst[op*h*w:(op+1)*h*w], src)
			}
		}

		switch {
		case opts.EvenLabels:
			if sum%2 == 0 {
				labels[i] = 1
			}
		case opts.ThresholdLabels != nil:
			if sum >= *opts.ThresholdLabels {
				labels[i] = 1
			}
		default:
			labels[i] = sum
		}
	}

	if outputChannels != 1 && concat != ConcatChannels {
		images = replicateChannels(images, outputChannels)
	}
	if format == ChannelsFirst {
		// (N, H, W, C) -> (N, C, W, H): channels move up front and H and W swap
		images, err = images.Transpose(0, 3, 2, 1)
		if err != nil {
			return dataset.Bundle{}, err
		}
	}
	if opts.Normalize {
		images.Scale(1.0 / 255.0)
	}

	if opts.SampleConcepts != nil {
		concepts, err = concepts.SelectCols(opts.SampleConcepts)
		if err != nil {
			return dataset.Bundle{}, err
		}
	}
	if opts.ConceptTransform != nil {
		concepts, err = opts.ConceptTransform(concepts)
		if err != nil {
			return dataset.Bundle{}, errors.Errorf("concept transform: %v", err)
		}
	}

	if opts.NoiseLevel > 0 {
		data := images.Data()
		for i := range data {
			data[i] += float32(rng.NormFloat64() * opts.NoiseLevel)
		}
		if opts.Normalize {
			images.Clip(0, 1)
		}
	}

	return dataset.NewBundle(images, labels, concepts)
}

// replicateChannels copies channel 0 into each of n output channels.
func replicateChannels(t *tensor.T, n int) *tensor.T {
	d0, d1, d2 := t.Dim(0), t.Dim(1), t.Dim(2)
	out := tensor.New(d0, d1, d2, n)
	src := t.Data()
	dst := out.Data()
	inC := t.Dim(3)
	for i := 0; i < d0*d1*d2; i++ {
		v := src[i*inC]
		for c := 0; c < n; c++ {
			dst[i*n+c] = v
		}
	}
	return out
}
