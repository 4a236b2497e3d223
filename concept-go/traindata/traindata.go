package traindata

import (
	"context"
	"math"
	"math/rand"

	"github.com/spf13/afero"

	"github.com/conceptlab/conceptlab/concept-go/addition"
	"github.com/conceptlab/conceptlab/concept-go/dataset"
	"github.com/conceptlab/conceptlab/concept-go/mnist"
	"github.com/conceptlab/conceptlab/concept-go/semisup"
	"github.com/conceptlab/conceptlab/concept-go/subsample"
	"github.com/conceptlab/conceptlab/concept-go/uncertainty"
	"github.com/conceptlab/conceptlab/concept-golib/errors"
	"github.com/conceptlab/conceptlab/concept-golib/tensor"
)

// Meta describes the concept and task layout of a generated dataset.
// NumConcepts and Groups reflect concept subsampling but not SampleConcepts,
// which narrows columns after the layout is fixed.
type Meta struct {
	NumConcepts int
	NumTasks    int
	Groups      map[int][]int
}

// Result holds the loaders for one generated variant. Train and Val are nil
// when the config asks for the test split only, Val is also nil when the
// validation fraction is zero, and Imbalance is filled only when the config
// enables loss weighting.
type Result struct {
	Train *dataset.Loader
	Val   *dataset.Loader
	Test  *dataset.Loader

	Imbalance []float64
	Meta      Meta
}

// GenerateData runs the pipeline for one experiment variant: concept layout,
// cached concept subsampling under rootDir, synthesis of the three splits,
// and class imbalance if requested. All randomness comes from a single
// source seeded with seed, so a variant regenerates identically.
func GenerateData(ctx context.Context, fs afero.Fs, source mnist.Source, cfg Config,
	rootDir string, labeledRatio float64, seed int64, rerun bool) (Result, error) {

	if err := addition.ValidateDigits(cfg.SelectedDigits, cfg.NumOperands); err != nil {
		return Result{}, err
	}

	rng := rand.New(rand.NewSource(seed))

	numConcepts, layout := addition.ConceptLayout(cfg.SelectedDigits, cfg.EvenConcepts)
	groups := groupMap(layout)
	numTasks := addition.TaskCount(cfg.SelectedDigits, cfg.EvenLabels, cfg.ThresholdLabels)

	var transform func(*tensor.T) (*tensor.T, error)
	if cfg.SamplingPercent != 1 {
		sel, err := subsample.Pick(rng, subsample.NewFileStore(fs, rootDir),
			cfg.SamplingPercent, cfg.NumOperands, numConcepts, groups, cfg.SamplingGroups, rerun)
		if err != nil {
			return Result{}, err
		}
		numConcepts = sel.NumConcepts
		groups = sel.Groups
		transform = sel.Transform()
	}

	loaders, err := LoadAddition(ctx, rng, source, Params{
		LabeledRatio:     labeledRatio,
		TrainSize:        cfg.TrainDatasetSize,
		TestSize:         cfg.TestDatasetSize,
		NumOperands:      cfg.NumOperands,
		SelectedDigits:   cfg.SelectedDigits,
		UncertainWidth:   cfg.UncertainWidth,
		Normalize:        cfg.Renormalize,
		ValPercent:       cfg.ValPercent,
		BatchSize:        cfg.BatchSize,
		TestOnly:         cfg.TestOnly,
		SampleConcepts:   cfg.SampleConcepts,
		AsChannels:       cfg.AsChannels,
		ImgFormat:        cfg.ImgFormat,
		OutputChannels:   cfg.OutputChannels,
		Threshold:        cfg.Threshold,
		Mixing:           cfg.Mixing,
		EvenConcepts:     cfg.EvenConcepts,
		EvenLabels:       cfg.EvenLabels,
		ThresholdLabels:  cfg.ThresholdLabels,
		ConceptTransform: transform,
		NoiseLevel:       cfg.NoiseLevel,
		TestNoiseLevel:   cfg.TestNoiseLevel,
		Groups:           groups,
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Train: loaders.Train,
		Val:   loaders.Val,
		Test:  loaders.Test,
		Meta: Meta{
			NumConcepts: numConcepts,
			NumTasks:    numTasks,
			Groups:      groups,
		},
	}
	if cfg.WeightLoss && res.Train != nil {
		res.Imbalance, err = dataset.Imbalance(res.Train)
		if err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

// Params configures LoadAddition.
type Params struct {
	LabeledRatio float64
	TrainSize    int
	TestSize     int

	NumOperands    int
	SelectedDigits [][]int

	EvenConcepts    bool
	EvenLabels      bool
	ThresholdLabels *int

	UncertainWidth float64
	Mixing         bool
	Threshold      bool
	// Groups maps each concept group to its concept columns, used to pick
	// the image channel a mixed concept owns. Nil derives the map from the
	// digit layout.
	Groups map[int][]int

	Normalize      bool
	ValPercent     float64
	BatchSize      int
	TestOnly       bool
	SampleConcepts []int
	AsChannels     bool
	ImgFormat      addition.ImgFormat
	OutputChannels int

	ConceptTransform func(*tensor.T) (*tensor.T, error)
	NoiseLevel       float64
	TestNoiseLevel   *float64

	// Neighbors is the neighbor count for label propagation; zero means
	// semisup.DefaultNeighbors.
	Neighbors int
}

// Loaders are the splits built by LoadAddition. Train and Val are nil in
// test-only mode; Val is nil when the validation fraction is zero.
type Loaders struct {
	Train *dataset.Loader
	Val   *dataset.Loader
	Test  *dataset.Loader
}

// LoadAddition synthesizes the test split, and unless p.TestOnly is set also
// a validation and a training split carved from disjoint pools of the MNIST
// training corpus. Every split gets nearest-neighbor concept annotations;
// uncertainty injection runs per split when a width is configured and
// concepts are not parity-encoded.
func LoadAddition(ctx context.Context, rng *rand.Rand, source mnist.Source, p Params) (Loaders, error) {
	if err := addition.ValidateDigits(p.SelectedDigits, p.NumOperands); err != nil {
		return Loaders{}, err
	}

	testNoise := p.NoiseLevel
	if p.TestNoiseLevel != nil {
		testNoise = *p.TestNoiseLevel
	}
	k := p.Neighbors
	if k == 0 {
		k = semisup.DefaultNeighbors
	}
	groups := p.Groups
	if groups == nil {
		_, layout := addition.ConceptLayout(p.SelectedDigits, p.EvenConcepts)
		groups = groupMap(layout)
	}

	produceOpts := func(size int, noise float64) addition.Options {
		concat, channels := addition.ConcatY, p.OutputChannels
		if p.AsChannels {
			concat, channels = addition.ConcatChannels, 1
		}
		return addition.Options{
			DatasetSize:      size,
			NumOperands:      p.NumOperands,
			SelectedDigits:   p.SelectedDigits,
			ConcatMode:       concat,
			ImgFormat:        p.ImgFormat,
			OutputChannels:   channels,
			Normalize:        p.Normalize,
			EvenConcepts:     p.EvenConcepts,
			EvenLabels:       p.EvenLabels,
			ThresholdLabels:  p.ThresholdLabels,
			SampleConcepts:   p.SampleConcepts,
			ConceptTransform: p.ConceptTransform,
			NoiseLevel:       noise,
		}
	}

	buildSplit := func(corpus mnist.Corpus, size int, noise, labeledRatio float64,
		training bool) (*dataset.Loader, error) {

		bundle, err := addition.Produce(rng, corpus, produceOpts(size, noise))
		if err != nil {
			return nil, err
		}
		ann, err := semisup.Components(bundle, labeledRatio, training, k)
		if err != nil {
			return nil, err
		}
		loader, err := dataset.NewLoader(ann, p.BatchSize)
		if err != nil {
			return nil, err
		}
		if p.UncertainWidth == 0 || p.EvenConcepts {
			return loader, nil
		}
		injected, err := uncertainty.Inject(rng, uncertainty.Options{
			Width:        p.UncertainWidth,
			Mixing:       p.Mixing,
			Threshold:    p.Threshold,
			Groups:       groups,
			EvenConcepts: p.EvenConcepts,
			BatchSize:    p.BatchSize,
		}, loader)
		if err != nil {
			return nil, err
		}
		return injected[0], nil
	}

	testCorpus, err := source.Load(ctx, mnist.TestSplit)
	if err != nil {
		return Loaders{}, errors.Wrapf(err, "loading test corpus")
	}
	test, err := buildSplit(testCorpus, p.TestSize, testNoise, 1, false)
	if err != nil {
		return Loaders{}, errors.Wrapf(err, "building test split")
	}
	if p.TestOnly {
		return Loaders{Test: test}, nil
	}

	trainCorpus, err := source.Load(ctx, mnist.TrainSplit)
	if err != nil {
		return Loaders{}, errors.Wrapf(err, "loading train corpus")
	}

	var val *dataset.Loader
	if p.ValPercent > 0 {
		var valCorpus mnist.Corpus
		trainCorpus, valCorpus, err = splitCorpus(rng, trainCorpus, p.ValPercent)
		if err != nil {
			return Loaders{}, err
		}
		valSize := int(float64(p.TrainSize) * p.ValPercent)
		val, err = buildSplit(valCorpus, valSize, p.NoiseLevel, 1, false)
		if err != nil {
			return Loaders{}, errors.Wrapf(err, "building validation split")
		}
	}

	train, err := buildSplit(trainCorpus, p.TrainSize, p.NoiseLevel, p.LabeledRatio, true)
	if err != nil {
		return Loaders{}, errors.Wrapf(err, "building train split")
	}
	return Loaders{Train: train, Val: val, Test: test}, nil
}

// splitCorpus shuffles row indices and carves off ceil(valPercent*n) rows as
// the validation pool, leaving the remainder for training.
func splitCorpus(rng *rand.Rand, c mnist.Corpus, valPercent float64) (train, val mnist.Corpus, err error) {
	n := c.Len()
	valN := int(math.Ceil(valPercent * float64(n)))
	if valN < 1 || valN >= n {
		return mnist.Corpus{}, mnist.Corpus{}, errors.Errorf(
			"validation fraction %v takes %d of %d corpus rows", valPercent, valN, n)
	}
	perm := rng.Perm(n)
	return corpusRows(c, perm[valN:]), corpusRows(c, perm[:valN]), nil
}

// corpusRows gathers the given rows of a corpus into a fresh one.
func corpusRows(c mnist.Corpus, rows []int) mnist.Corpus {
	shape := c.Images.Shape()
	shape[0] = len(rows)
	images := tensor.New(shape...)
	labels := make([]int, len(rows))
	for i, r := range rows {
		copy(images.Row(i), c.Images.Row(r))
		labels[i] = c.Labels[r]
	}
	return mnist.Corpus{Images: images, Labels: labels}
}

func groupMap(layout [][]int) map[int][]int {
	m := make(map[int][]int, len(layout))
	for i, cols := range layout {
		m[i] = append([]int(nil), cols...)
	}
	return m
}
