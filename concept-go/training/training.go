// Package training pins the boundary to the model-training collaborator:
// the trainer contract plus the dataset-derived quantities it consumes.
package training

import (
	"context"

	"github.com/conceptlab/conceptlab/concept-go/dataset"
	"github.com/conceptlab/conceptlab/concept-go/traindata"
	"github.com/conceptlab/conceptlab/concept-golib/errors"
)

// Metrics summarizes one training run.
type Metrics struct {
	ConceptAcc float64
	TaskAcc    float64
	ConceptAUC float64
	TaskAUC    float64
	Loss       float64
}

// Trainer consumes generated datasets and reports evaluation metrics. Val
// and imbalance may be nil depending on the generation config.
type Trainer interface {
	Train(ctx context.Context, train, val, test *dataset.Loader,
		meta traindata.Meta, imbalance []float64) (Metrics, error)
}

// TaskClassWeights computes inverse-frequency task weights over a loader's
// labels. With more than one task class the weight of class i is
// samples/count(i) - 1; a single binary task gets the one-element ratio
// count(0)/count(1). Classes that never occur weigh +Inf.
func TaskClassWeights(l *dataset.Loader, numTasks int) ([]float64, error) {
	if numTasks < 1 {
		return nil, errors.Errorf("task count %d", numTasks)
	}
	classes := numTasks
	if classes < 2 {
		classes = 2
	}

	counts := make([]float64, classes)
	labels := l.Data().Labels
	if len(labels) == 0 {
		return nil, errors.New("no samples to weigh")
	}
	for i, y := range labels {
		if y < 0 || y >= classes {
			return nil, errors.Errorf("sample %d has label %d outside %d task classes", i, y, classes)
		}
		counts[y]++
	}

	seen := float64(len(labels))
	if numTasks > 1 {
		weights := make([]float64, numTasks)
		for i := range weights {
			weights[i] = seen/counts[i] - 1
		}
		return weights, nil
	}
	return []float64{counts[0] / counts[1]}, nil
}

// IntervenedGroups lists the intervention sizes to evaluate at: every freq-th
// count from zero through all concept groups, or through all concepts when no
// group map exists. A freq below 1 means every count.
func IntervenedGroups(groups map[int][]int, numConcepts, freq int) []int {
	if freq < 1 {
		freq = 1
	}
	limit := numConcepts
	if groups != nil {
		limit = len(groups)
	}
	var out []int
	for i := 0; i <= limit; i += freq {
		out = append(out, i)
	}
	return out
}
