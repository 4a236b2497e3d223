package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conceptlab/conceptlab/concept-golib/tensor"
)

func TestLoaderBatching(t *testing.T) {
	a := testAnnotated(t, 10, 3, 2)
	l, err := NewLoader(a, 4)
	require.NoError(t, err)

	assert.Equal(t, 10, l.Len())
	assert.Equal(t, 3, l.Batches())

	var total int
	var prev float32 = -1
	for i := 0; i < l.Batches(); i++ {
		b, err := l.Batch(i)
		require.NoError(t, err)
		total += b.Len()
		for s := 0; s < b.Len(); s++ {
			// Image rows were filled with the sample index; order must hold.
			v := b.Images.Row(s)[0]
			assert.Equal(t, prev+1, v)
			prev = v
		}
	}
	assert.Equal(t, 10, total)

	last, err := l.Batch(2)
	require.NoError(t, err)
	assert.Equal(t, 2, last.Len())

	_, err = l.Batch(3)
	require.Error(t, err)
}

func TestLoaderBatchesAreViews(t *testing.T) {
	a := testAnnotated(t, 6, 2, 2)
	l, err := NewLoader(a, 3)
	require.NoError(t, err)

	b, err := l.Batch(1)
	require.NoError(t, err)
	b.Images.Set(-5, 0, 0, 0, 0)
	assert.EqualValues(t, -5, a.Images.At(3, 0, 0, 0))
}

func TestNewLoaderRejectsBadBatchSize(t *testing.T) {
	a := testAnnotated(t, 4, 2, 2)
	_, err := NewLoader(a, 0)
	require.Error(t, err)
}

func TestImbalance(t *testing.T) {
	// 6 samples, 2 concepts: column 0 positive twice, column 1 positive
	// in every sample.
	imgs := tensor.New(6, 1, 1, 1)
	concepts := tensor.New(6, 2)
	for i := 0; i < 6; i++ {
		concepts.Set(1, i, 1)
	}
	concepts.Set(1, 0, 0)
	concepts.Set(1, 3, 0)

	b, err := NewBundle(imgs, make([]int, 6), concepts)
	require.NoError(t, err)
	a, err := NewAnnotated(b, make([]bool, 6), tensor.New(6, 2, 2), tensor.New(6, 2))
	require.NoError(t, err)
	l, err := NewLoader(a, 4)
	require.NoError(t, err)

	imbalance, err := Imbalance(l)
	require.NoError(t, err)
	require.Len(t, imbalance, 2)
	assert.InDelta(t, 2.0, imbalance[0], 1e-9) // 6/2 - 1
	assert.InDelta(t, 0.0, imbalance[1], 1e-9) // 6/6 - 1
}

func TestImbalanceFractionalConcepts(t *testing.T) {
	imgs := tensor.New(4, 1, 1, 1)
	concepts := tensor.New(4, 1)
	for i := 0; i < 4; i++ {
		concepts.Set(0.5, i, 0)
	}

	b, err := NewBundle(imgs, make([]int, 4), concepts)
	require.NoError(t, err)
	a, err := NewAnnotated(b, make([]bool, 4), tensor.New(4, 1, 1), tensor.New(4, 1))
	require.NoError(t, err)
	l, err := NewLoader(a, 2)
	require.NoError(t, err)

	imbalance, err := Imbalance(l)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, imbalance[0], 1e-9) // 4/2 - 1
}
