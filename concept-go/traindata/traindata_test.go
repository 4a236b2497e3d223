package traindata

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conceptlab/conceptlab/concept-go/addition"
	"github.com/conceptlab/conceptlab/concept-go/mnist"
	"github.com/conceptlab/conceptlab/concept-go/subsample"
	"github.com/conceptlab/conceptlab/concept-golib/errors"
	"github.com/conceptlab/conceptlab/concept-golib/tensor"
)

type stubSource struct {
	train mnist.Corpus
	test  mnist.Corpus
}

func (s stubSource) Load(ctx context.Context, split mnist.Split) (mnist.Corpus, error) {
	switch split {
	case mnist.TrainSplit:
		return s.train, nil
	case mnist.TestSplit:
		return s.test, nil
	}
	return mnist.Corpus{}, errors.Errorf("no corpus for split %v", split)
}

// stubCorpus builds n digit images of shape (h, w, 1) where every pixel of
// sample i is 100*digitOf(i).
func stubCorpus(n, h, w int, digitOf func(int) int) mnist.Corpus {
	images := tensor.New(n, h, w, 1)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		d := digitOf(i)
		labels[i] = d
		row := images.Row(i)
		for j := range row {
			row[j] = float32(100 * d)
		}
	}
	return mnist.Corpus{Images: images, Labels: labels}
}

func zeros(int) int { return 0 }

func alternating(i int) int { return i % 2 }

func countTrue(mask []bool) int {
	n := 0
	for _, b := range mask {
		if b {
			n++
		}
	}
	return n
}

func TestLoadAdditionSplitSizes(t *testing.T) {
	source := stubSource{
		train: stubCorpus(40, 2, 3, zeros),
		test:  stubCorpus(20, 2, 3, zeros),
	}
	rng := rand.New(rand.NewSource(1))

	loaders, err := LoadAddition(context.Background(), rng, source, Params{
		LabeledRatio:   0.5,
		TrainSize:      12,
		TestSize:       8,
		NumOperands:    2,
		SelectedDigits: [][]int{{0}, {0}},
		ValPercent:     0.25,
		BatchSize:      4,
		AsChannels:     true,
		ImgFormat:      addition.ChannelsFirst,
	})
	require.NoError(t, err)

	require.NotNil(t, loaders.Test)
	assert.Equal(t, 8, loaders.Test.Len())
	assert.Equal(t, 2, loaders.Test.Batches())
	assert.Equal(t, 8, countTrue(loaders.Test.Data().Labeled))

	require.NotNil(t, loaders.Val)
	assert.Equal(t, 3, loaders.Val.Len())
	assert.Equal(t, 1, loaders.Val.Batches())
	assert.Equal(t, 3, countTrue(loaders.Val.Data().Labeled))

	require.NotNil(t, loaders.Train)
	assert.Equal(t, 12, loaders.Train.Len())
	assert.Equal(t, 3, loaders.Train.Batches())
	assert.Equal(t, 6, countTrue(loaders.Train.Data().Labeled))

	data := loaders.Train.Data()
	assert.Equal(t, []int{12, 2, 3, 2}, data.Images.Shape())
	assert.Equal(t, []int{12, 2}, data.Concepts.Shape())
}

func TestLoadAdditionTestOnly(t *testing.T) {
	source := stubSource{test: stubCorpus(20, 2, 2, alternating)}
	rng := rand.New(rand.NewSource(3))

	loaders, err := LoadAddition(context.Background(), rng, source, Params{
		TestSize:       10,
		NumOperands:    2,
		SelectedDigits: addition.ReplicateDigits([]int{0, 1}, 2),
		BatchSize:      5,
		TestOnly:       true,
		AsChannels:     true,
		ImgFormat:      addition.ChannelsFirst,
		UncertainWidth: 0.3,
	})
	require.NoError(t, err)

	assert.Nil(t, loaders.Train)
	assert.Nil(t, loaders.Val)
	require.NotNil(t, loaders.Test)
	assert.Equal(t, 10, loaders.Test.Len())

	// injection resampled every hard bit into the band
	concepts := loaders.Test.Data().Concepts
	soft := 0
	for i := 0; i < concepts.Dim(0); i++ {
		for j := 0; j < concepts.Dim(1); j++ {
			v := concepts.At(i, j)
			assert.True(t, v < 1)
			assert.True(t, v >= 0.7 || v < 0.3)
			if v > 0 && v < 1 {
				soft++
			}
		}
	}
	assert.True(t, soft > 0)
}

func TestLoadAdditionValDisabled(t *testing.T) {
	source := stubSource{
		train: stubCorpus(30, 2, 2, alternating),
		test:  stubCorpus(10, 2, 2, alternating),
	}
	rng := rand.New(rand.NewSource(5))

	loaders, err := LoadAddition(context.Background(), rng, source, Params{
		LabeledRatio:   1,
		TrainSize:      8,
		TestSize:       4,
		NumOperands:    2,
		SelectedDigits: addition.ReplicateDigits([]int{0, 1}, 2),
		BatchSize:      4,
		AsChannels:     true,
		ImgFormat:      addition.ChannelsFirst,
	})
	require.NoError(t, err)

	assert.Nil(t, loaders.Val)
	require.NotNil(t, loaders.Train)
	assert.Equal(t, 8, loaders.Train.Len())
	require.NotNil(t, loaders.Test)
	assert.Equal(t, 4, loaders.Test.Len())
}

func TestLoadAdditionBadDigits(t *testing.T) {
	source := stubSource{test: stubCorpus(10, 2, 2, zeros)}
	rng := rand.New(rand.NewSource(1))

	_, err := LoadAddition(context.Background(), rng, source, Params{
		TestSize:       4,
		NumOperands:    2,
		SelectedDigits: [][]int{{0}},
		BatchSize:      2,
	})
	require.Error(t, err)
}

func TestSplitCorpusPartition(t *testing.T) {
	c := stubCorpus(10, 2, 2, func(i int) int { return i })
	rng := rand.New(rand.NewSource(9))

	train, val, err := splitCorpus(rng, c, 0.3)
	require.NoError(t, err)
	assert.Equal(t, 7, train.Len())
	assert.Equal(t, 3, val.Len())

	seen := make(map[int]bool)
	for _, pool := range []mnist.Corpus{train, val} {
		for i, label := range pool.Labels {
			assert.False(t, seen[label])
			seen[label] = true
			assert.Equal(t, float32(100*label), pool.Images.At(i, 0, 0, 0))
		}
	}
	assert.Len(t, seen, 10)
}

func TestSplitCorpusBadFraction(t *testing.T) {
	c := stubCorpus(10, 2, 2, zeros)
	rng := rand.New(rand.NewSource(1))

	_, _, err := splitCorpus(rng, c, 1)
	require.Error(t, err)
}

func TestGenerateDataMetaAndImbalance(t *testing.T) {
	source := stubSource{
		train: stubCorpus(40, 2, 2, alternating),
		test:  stubCorpus(20, 2, 2, alternating),
	}
	cfg := DefaultConfig()
	cfg.NumOperands = 2
	cfg.SelectedDigits = addition.ReplicateDigits([]int{0, 1}, 2)
	cfg.TrainDatasetSize = 10
	cfg.TestDatasetSize = 6
	cfg.ValPercent = 0
	cfg.BatchSize = 5
	cfg.WeightLoss = true

	res, err := GenerateData(context.Background(), afero.NewMemMapFs(), source, cfg, "data", 1, 7, false)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Meta.NumConcepts)
	assert.Equal(t, 3, res.Meta.NumTasks)
	assert.Equal(t, map[int][]int{0: {0}, 1: {1}}, res.Meta.Groups)

	assert.Nil(t, res.Val)
	require.NotNil(t, res.Train)
	require.NotNil(t, res.Test)
	assert.Len(t, res.Imbalance, 2)
}

func TestGenerateDataTestOnlySkipsImbalance(t *testing.T) {
	source := stubSource{test: stubCorpus(20, 2, 2, alternating)}
	cfg := DefaultConfig()
	cfg.NumOperands = 2
	cfg.SelectedDigits = addition.ReplicateDigits([]int{0, 1}, 2)
	cfg.TestDatasetSize = 6
	cfg.BatchSize = 3
	cfg.TestOnly = true
	cfg.WeightLoss = true

	res, err := GenerateData(context.Background(), afero.NewMemMapFs(), source, cfg, "data", 1, 7, false)
	require.NoError(t, err)

	assert.Nil(t, res.Train)
	assert.Nil(t, res.Imbalance)
	require.NotNil(t, res.Test)
}

func TestGenerateDataDeterministic(t *testing.T) {
	source := stubSource{
		train: stubCorpus(40, 2, 2, alternating),
		test:  stubCorpus(20, 2, 2, alternating),
	}
	cfg := DefaultConfig()
	cfg.NumOperands = 2
	cfg.SelectedDigits = addition.ReplicateDigits([]int{0, 1}, 2)
	cfg.TrainDatasetSize = 10
	cfg.TestDatasetSize = 6
	cfg.ValPercent = 0
	cfg.BatchSize = 5
	cfg.UncertainWidth = 0.2
	cfg.Mixing = false

	run := func(seed int64) Result {
		res, err := GenerateData(context.Background(), afero.NewMemMapFs(), source, cfg, "data", 1, seed, false)
		require.NoError(t, err)
		return res
	}

	a, b := run(7), run(7)
	assert.Equal(t, a.Test.Data().Images, b.Test.Data().Images)
	assert.Equal(t, a.Train.Data().Images, b.Train.Data().Images)
	assert.Equal(t, a.Train.Data().Concepts, b.Train.Data().Concepts)

	c := run(8)
	assert.NotEqual(t, a.Train.Data().Images, c.Train.Data().Images)
}

func TestGenerateDataSubsampling(t *testing.T) {
	mod3 := func(i int) int { return i % 3 }
	source := stubSource{
		train: stubCorpus(42, 2, 2, mod3),
		test:  stubCorpus(21, 2, 2, mod3),
	}
	cfg := DefaultConfig()
	cfg.NumOperands = 2
	cfg.SelectedDigits = addition.ReplicateDigits([]int{0, 1, 2}, 2)
	cfg.TrainDatasetSize = 9
	cfg.TestDatasetSize = 6
	cfg.ValPercent = 0
	cfg.BatchSize = 3
	cfg.SamplingPercent = 0.5
	cfg.SamplingGroups = true

	fs := afero.NewMemMapFs()
	res, err := GenerateData(context.Background(), fs, source, cfg, "data", 1, 11, false)
	require.NoError(t, err)

	// one of the two one-hot groups survives, remapped onto [0, 3)
	assert.Equal(t, 3, res.Meta.NumConcepts)
	require.Len(t, res.Meta.Groups, 1)
	for _, cols := range res.Meta.Groups {
		assert.Equal(t, []int{0, 1, 2}, cols)
	}
	assert.Equal(t, 3, res.Train.Data().Concepts.Dim(1))

	cached := filepath.Join("data", subsample.GroupsKey(0.5, 2)+".json")
	exists, err := afero.Exists(fs, cached)
	require.NoError(t, err)
	assert.True(t, exists)

	// a later run with a different seed reuses the cached selection
	again, err := GenerateData(context.Background(), fs, source, cfg, "data", 1, 99, false)
	require.NoError(t, err)
	assert.Equal(t, res.Meta, again.Meta)
}
