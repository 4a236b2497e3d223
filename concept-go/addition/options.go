// Package addition synthesizes composite digit-addition samples from a
// digit corpus: per-operand pools, one-hot or binary concept annotations,
// and sum/parity/threshold task labels.
package addition

import (
	"github.com/go-errors/errors"

	"github.com/conceptlab/conceptlab/concept-golib/tensor"
)

// ConcatMode selects the axis operand images join on.
type ConcatMode string

// Composite layout modes: one channel per operand, side by side, or
// stacked vertically.
const (
	ConcatChannels ConcatMode = "channels"
	ConcatX        ConcatMode = "x"
	ConcatY        ConcatMode = "y"
)

// ImgFormat selects the axis order of the produced image tensor.
type ImgFormat string

// Supported image formats.
const (
	ChannelsFirst ImgFormat = "channels_first"
	ChannelsLast  ImgFormat = "channels_last"
)

// Options configures one synthesis run.
type Options struct {
	DatasetSize int
	NumOperands int
	// SelectedDigits is the allowed digit set per operand position. Use
	// ReplicateDigits to expand a single shared set.
	SelectedDigits [][]int

	ConcatMode     ConcatMode // default channels
	ImgFormat      ImgFormat  // default channels_first
	OutputChannels int        // default 1; replication applies only off the channels concat mode
	Normalize      bool       // scale pixels into [0, 1]

	EvenConcepts    bool
	EvenLabels      bool
	ThresholdLabels *int // label = 1 when the digit sum reaches this bound

	// SampleConcepts selects concept columns after synthesis; nil keeps all.
	SampleConcepts []int
	// ConceptTransform runs last over the concept matrix; nil is identity.
	ConceptTransform func(*tensor.T) (*tensor.T, error)

	NoiseLevel float64
}

// ReplicateDigits expands one shared allowed-digit set to every operand
// position.
func ReplicateDigits(digits []int, numOperands int) [][]int {
	out := make([][]int, numOperands)
	for i := range out {
		out[i] = append([]int(nil), digits...)
	}
	return out
}

// ValidateDigits checks a per-operand digit specification.
func ValidateDigits(digits [][]int, numOperands int) error {
	if len(digits) != numOperands {
		return errors.Errorf(
			"selected digits has %d operand entries, want %d", len(digits), numOperands)
	}
	for i, set := range digits {
		if len(set) == 0 {
			return errors.Errorf("operand %d has an empty digit set", i)
		}
	}
	return nil
}

// ConceptLayout returns the concept width and the per-operand concept
// column groups implied by a digit specification. Multi-valued operands
// contribute a one-hot group, binary operands a single bit; parity
// concepts collapse every operand to a single bit.
func ConceptLayout(digits [][]int, evenConcepts bool) (int, [][]int) {
	if evenConcepts {
		groups := make([][]int, len(digits))
		for i := range groups {
			groups[i] = []int{i}
		}
		return len(digits), groups
	}

	var width int
	groups := make([][]int, len(digits))
	for i, set := range digits {
		cur := 1
		if len(set) > 2 {
			cur = len(set)
		}
		groups[i] = make([]int, cur)
		for j := range groups[i] {
			groups[i][j] = width + j
		}
		width += cur
	}
	return width, groups
}

// TaskCount returns the number of task classes: raw sums span
// [0, sum of per-operand maxima]; parity and threshold labels collapse to a
// single binary task.
func TaskCount(digits [][]int, evenLabels bool, thresholdLabels *int) int {
	if evenLabels || thresholdLabels != nil {
		return 1
	}
	n := 1
	for _, set := range digits {
		max := set[0]
		for _, d := range set[1:] {
			if d > max {
				max = d
			}
		}
		n += max
	}
	return n
}
