// Package traindata orchestrates dataset generation: corpus loading,
// composite synthesis, semi-supervised annotation, uncertainty injection,
// and concept subsampling, wired into train/val/test loaders.
package traindata

import (
	"github.com/conceptlab/conceptlab/concept-go/addition"
	"github.com/conceptlab/conceptlab/concept-golib/errors"
)

// Config is the dataset-generation section of an experiment config.
type Config struct {
	SelectedDigits [][]int
	NumOperands    int

	EvenConcepts    bool
	EvenLabels      bool
	ThresholdLabels *int

	SamplingPercent float64
	SamplingGroups  bool

	TrainDatasetSize int
	TestDatasetSize  int
	ValPercent       float64
	BatchSize        int
	TestOnly         bool

	UncertainWidth float64
	Mixing         bool
	Threshold      bool

	Renormalize    bool
	SampleConcepts []int
	AsChannels     bool
	ImgFormat      addition.ImgFormat
	OutputChannels int
	NoiseLevel     float64
	TestNoiseLevel *float64

	WeightLoss bool
}

// DefaultConfig returns the generation defaults.
func DefaultConfig() Config {
	return Config{
		SelectedDigits:   nil, // bound against NumOperands below
		NumOperands:      32,
		SamplingPercent:  1,
		TrainDatasetSize: 30000,
		TestDatasetSize:  10000,
		ValPercent:       0.2,
		BatchSize:        512,
		Mixing:           true,
		Threshold:        true,
		Renormalize:      true,
		AsChannels:       true,
		ImgFormat:        addition.ChannelsFirst,
		OutputChannels:   1,
	}
}

// FromMap binds a loosely-typed experiment config onto the defaults.
// selected_digits accepts either a flat digit list shared by every operand
// or one list per operand.
func FromMap(m map[string]interface{}) (Config, error) {
	cfg := DefaultConfig()

	var flatDigits []int
	var nestedDigits [][]int
	for key, raw := range m {
		var err error
		switch key {
		case "selected_digits":
			flatDigits, nestedDigits, err = asDigits(raw)
		case "num_operands":
			cfg.NumOperands, err = asInt(raw)
		case "even_concepts":
			cfg.EvenConcepts, err = asBool(raw)
		case "even_labels":
			cfg.EvenLabels, err = asBool(raw)
		case "threshold_labels":
			if raw != nil {
				var v int
				v, err = asInt(raw)
				cfg.ThresholdLabels = &v
			}
		case "sampling_percent":
			cfg.SamplingPercent, err = asFloat(raw)
		case "sampling_groups":
			cfg.SamplingGroups, err = asBool(raw)
		case "train_dataset_size":
			cfg.TrainDatasetSize, err = asInt(raw)
		case "test_dataset_size":
			cfg.TestDatasetSize, err = asInt(raw)
		case "val_percent":
			cfg.ValPercent, err = asFloat(raw)
		case "batch_size":
			cfg.BatchSize, err = asInt(raw)
		case "test_only":
			cfg.TestOnly, err = asBool(raw)
		case "uncertain_width":
			cfg.UncertainWidth, err = asFloat(raw)
		case "mixing":
			cfg.Mixing, err = asBool(raw)
		case "threshold":
			cfg.Threshold, err = asBool(raw)
		case "renormalize":
			cfg.Renormalize, err = asBool(raw)
		case "sample_concepts":
			if raw != nil {
				cfg.SampleConcepts, err = asIntSlice(raw)
			}
		case "as_channels":
			cfg.AsChannels, err = asBool(raw)
		case "img_format":
			var s string
			s, err = asString(raw)
			cfg.ImgFormat = addition.ImgFormat(s)
		case "output_channels":
			cfg.OutputChannels, err = asInt(raw)
		case "noise_level":
			cfg.NoiseLevel, err = asFloat(raw)
		case "test_noise_level":
			if raw != nil {
				var v float64
				v, err = asFloat(raw)
				cfg.TestNoiseLevel = &v
			}
		case "weight_loss":
			cfg.WeightLoss, err = asBool(raw)
		}
		if err != nil {
			return Config{}, errors.Wrapf(err, "binding %s", key)
		}
	}

	switch {
	case nestedDigits != nil:
		cfg.SelectedDigits = nestedDigits
	case flatDigits != nil:
		cfg.SelectedDigits = addition.ReplicateDigits(flatDigits, cfg.NumOperands)
	default:
		cfg.SelectedDigits = addition.ReplicateDigits([]int{0, 1}, cfg.NumOperands)
	}
	if err := addition.ValidateDigits(cfg.SelectedDigits, cfg.NumOperands); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func asInt(v interface{}) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		if t == float64(int(t)) {
			return int(t), nil
		}
	}
	return 0, errors.Errorf("%v is not an integer", v)
}

func asFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	}
	return 0, errors.Errorf("%v is not a number", v)
}

func asBool(v interface{}) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, errors.Errorf("%v is not a bool", v)
}

func asString(v interface{}) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", errors.Errorf("%v is not a string", v)
}

func asIntSlice(v interface{}) ([]int, error) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, errors.Errorf("%v is not a list", v)
	}
	out := make([]int, len(items))
	for i, item := range items {
		n, err := asInt(item)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

// asDigits decodes selected_digits as either a flat list or one list per
// operand.
func asDigits(v interface{}) ([]int, [][]int, error) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, nil, errors.Errorf("selected_digits must be a list")
	}
	if len(items) == 0 {
		return nil, nil, errors.Errorf("selected_digits is empty")
	}

	if _, nested := items[0].([]interface{}); nested {
		out := make([][]int, len(items))
		for i, item := range items {
			set, err := asIntSlice(item)
			if err != nil {
				return nil, nil, err
			}
			out[i] = set
		}
		return nil, out, nil
	}

	flat, err := asIntSlice(v)
	if err != nil {
		return nil, nil, err
	}
	return flat, nil, nil
}
