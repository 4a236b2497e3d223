// Package tensor implements a dense, row-major float32 tensor of arbitrary
// rank. It is deliberately small: the data pipelines that use it are batch
// computations where clarity wins over vectorized performance.
package tensor

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/conceptlab/conceptlab/concept-golib/errors"
)

// T is a dense row-major tensor. Data has exactly prod(shape) elements.
type T struct {
	shape []int
	data  []float32
}

// New returns a zero-filled tensor with the given shape.
func New(shape ...int) *T {
	t := &T{shape: append([]int(nil), shape...)}
	t.data = make([]float32, t.Size())
	return t
}

// FromData wraps data in a tensor with the given shape. The slice is not
// copied; it is owned by the returned tensor from here on.
func FromData(data []float32, shape ...int) (*T, error) {
	t := &T{shape: append([]int(nil), shape...), data: data}
	if len(data) != t.Size() {
		return nil, errors.Errorf("tensor: %d elements do not fit shape %v", len(data), shape)
	}
	return t, nil
}

// Rank returns the number of axes.
func (t *T) Rank() int { return len(t.shape) }

// Dim returns the length of axis i.
func (t *T) Dim(i int) int { return t.shape[i] }

// Shape returns a copy of the shape.
func (t *T) Shape() []int { return append([]int(nil), t.shape...) }

// Size returns the total number of elements.
func (t *T) Size() int {
	n := 1
	for _, d := range t.shape {
		n *= d
	}
	return n
}

// Data returns the backing slice. Mutations are visible to the tensor.
func (t *T) Data() []float32 { return t.data }

// strides[i] is the flat distance between consecutive indices on axis i.
func (t *T) strides() []int {
	s := make([]int, len(t.shape))
	acc := 1
	for i := len(t.shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= t.shape[i]
	}
	return s
}

func (t *T) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor: %d indices for rank-%d tensor", len(idx), len(t.shape)))
	}
	var off int
	acc := 1
	for i := len(t.shape) - 1; i >= 0; i-- {
		if idx[i] < 0 || idx[i] >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index %d out of range on axis %d (dim %d)", idx[i], i, t.shape[i]))
		}
		off += idx[i] * acc
		acc *= t.shape[i]
	}
	return off
}

// At returns the element at the given multi-index.
func (t *T) At(idx ...int) float32 { return t.data[t.offset(idx)] }

// Set stores v at the given multi-index.
func (t *T) Set(v float32, idx ...int) { t.data[t.offset(idx)] = v }

// Row returns the flattened contents of leading index i as a slice view.
func (t *T) Row(i int) []float32 {
	if t.Rank() == 0 {
		panic("tensor: Row on rank-0 tensor")
	}
	inner := t.Size() / t.shape[0]
	return t.data[i*inner : (i+1)*inner]
}

// Plane returns the contiguous block selected by the two leading indices as a
// slice view. The tensor must have rank >= 2.
func (t *T) Plane(i, j int) []float32 {
	if t.Rank() < 2 {
		panic("tensor: Plane on tensor of rank < 2")
	}
	inner := t.Size() / (t.shape[0] * t.shape[1])
	off := (i*t.shape[1] + j) * inner
	return t.data[off : off+inner]
}

// Slice returns rows [lo, hi) of the leading axis as a view sharing the
// backing data.
func (t *T) Slice(lo, hi int) (*T, error) {
	if t.Rank() == 0 {
		return nil, errors.Errorf("tensor: Slice on rank-0 tensor")
	}
	if lo < 0 || hi < lo || hi > t.shape[0] {
		return nil, errors.Errorf("tensor: slice [%d, %d) out of range for dim %d", lo, hi, t.shape[0])
	}
	shape := t.Shape()
	shape[0] = hi - lo
	inner := t.Size() / t.shape[0]
	return &T{shape: shape, data: t.data[lo*inner : hi*inner]}, nil
}

// GobEncode implements gob.GobEncoder.
func (t *T) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(t.shape); err != nil {
		return nil, err
	}
	if err := enc.Encode(t.data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (t *T) GobDecode(raw []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&t.shape); err != nil {
		return err
	}
	if err := dec.Decode(&t.data); err != nil {
		return err
	}
	if len(t.data) != t.Size() {
		return errors.Errorf("tensor: %d elements do not fit shape %v", len(t.data), t.shape)
	}
	return nil
}

// Clone returns a deep copy.
func (t *T) Clone() *T {
	c := &T{shape: t.Shape(), data: make([]float32, len(t.data))}
	copy(c.data, t.data)
	return c
}

// Equal reports whether o has the same shape and elements as t.
func (t *T) Equal(o *T) bool {
	if len(t.shape) != len(o.shape) {
		return false
	}
	for i, d := range t.shape {
		if o.shape[i] != d {
			return false
		}
	}
	for i, v := range t.data {
		if o.data[i] != v {
			return false
		}
	}
	return true
}

// Scale multiplies every element by f in place.
func (t *T) Scale(f float32) {
	for i := range t.data {
		t.data[i] *= f
	}
}

// Clip bounds every element to [lo, hi] in place.
func (t *T) Clip(lo, hi float32) {
	for i, v := range t.data {
		if v < lo {
			t.data[i] = lo
		} else if v > hi {
			t.data[i] = hi
		}
	}
}

// Concat concatenates tensors along the given axis. All inputs must agree on
// every other dimension.
func Concat(axis int, ts ...*T) (*T, error) {
	if len(ts) == 0 {
		return nil, errors.Errorf("tensor: concat of zero tensors")
	}
	first := ts[0]
	if axis < 0 || axis >= first.Rank() {
		return nil, errors.Errorf("tensor: concat axis %d out of range for rank %d", axis, first.Rank())
	}
	outShape := first.Shape()
	for _, t := range ts[1:] {
		if t.Rank() != first.Rank() {
			return nil, errors.Errorf("tensor: concat rank mismatch: %d vs %d", t.Rank(), first.Rank())
		}
		for i := 0; i < first.Rank(); i++ {
			if i == axis {
				continue
			}
			if t.Dim(i) != first.Dim(i) {
				return nil, errors.Errorf("tensor: concat dim mismatch on axis %d: %d vs %d", i, t.Dim(i), first.Dim(i))
			}
		}
		outShape[axis] += t.Dim(axis)
	}

	out := New(outShape...)

	// outer iterates over all axes before the concat axis; inner is the
	// contiguous block size from the concat axis down.
	outer := 1
	for i := 0; i < axis; i++ {
		outer *= first.Dim(i)
	}
	tail := 1
	for i := axis + 1; i < first.Rank(); i++ {
		tail *= first.Dim(i)
	}

	outInner := outShape[axis] * tail
	for o := 0; o < outer; o++ {
		dst := out.data[o*outInner : (o+1)*outInner]
		var filled int
		for _, t := range ts {
			inner := t.Dim(axis) * tail
			src := t.data[o*inner : (o+1)*inner]
			copy(dst[filled:filled+inner], src)
			filled += inner
		}
	}
	return out, nil
}

// Transpose permutes the axes; perm must be a permutation of [0, rank).
func (t *T) Transpose(perm ...int) (*T, error) {
	if len(perm) != t.Rank() {
		return nil, errors.Errorf("tensor: permutation %v does not match rank %d", perm, t.Rank())
	}
	seen := make([]bool, t.Rank())
	outShape := make([]int, t.Rank())
	for i, p := range perm {
		if p < 0 || p >= t.Rank() || seen[p] {
			return nil, errors.Errorf("tensor: %v is not a permutation of axes", perm)
		}
		seen[p] = true
		outShape[i] = t.shape[p]
	}

	out := New(outShape...)
	srcStrides := t.strides()
	dstStrides := out.strides()

	idx := make([]int, t.Rank())
	for flat := range t.data {
		// decompose flat into the source multi-index
		rem := flat
		for i, s := range srcStrides {
			idx[i] = rem / s
			rem %= s
		}
		var dst int
		for i, p := range perm {
			dst += idx[p] * dstStrides[i]
		}
		out.data[dst] = t.data[flat]
	}
	return out, nil
}

// SelectCols gathers columns of the last axis, in the given order. Indices
// may repeat.
func (t *T) SelectCols(cols []int) (*T, error) {
	if t.Rank() == 0 {
		return nil, errors.Errorf("tensor: SelectCols on rank-0 tensor")
	}
	last := t.shape[t.Rank()-1]
	for _, c := range cols {
		if c < 0 || c >= last {
			return nil, errors.Errorf("tensor: column %d out of range (last dim %d)", c, last)
		}
	}
	outShape := t.Shape()
	outShape[len(outShape)-1] = len(cols)
	out := New(outShape...)
	rows := t.Size() / last
	for r := 0; r < rows; r++ {
		src := t.data[r*last : (r+1)*last]
		dst := out.data[r*len(cols) : (r+1)*len(cols)]
		for i, c := range cols {
			dst[i] = src[c]
		}
	}
	return out, nil
}
