package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sort"

	"github.com/alexflint/go-arg"
	"github.com/dustin/go-humanize"
	"github.com/gocarina/gocsv"
	"github.com/montanaflynn/stats"
	"github.com/sbwhitecap/tqdm"
	"github.com/sbwhitecap/tqdm/iterators"
	"github.com/spf13/afero"

	"github.com/conceptlab/conceptlab/concept-go/dataset"
	"github.com/conceptlab/conceptlab/concept-go/experiment"
	"github.com/conceptlab/conceptlab/concept-go/mnist"
	"github.com/conceptlab/conceptlab/concept-go/traindata"
	"github.com/conceptlab/conceptlab/concept-golib/blobcache"
	"github.com/conceptlab/conceptlab/concept-golib/errors"
	"github.com/conceptlab/conceptlab/concept-golib/serialization"
	"github.com/conceptlab/conceptlab/concept-golib/workerpool"
)

func fail(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

type variant struct {
	name  string
	ratio float64
	seed  int64
	cfg   traindata.Config
}

type record struct {
	Variant      string  `csv:"variant"`
	Seed         int64   `csv:"seed"`
	LabeledRatio float64 `csv:"labeled_ratio"`
	NumConcepts  int     `csv:"num_concepts"`
	NumTasks     int     `csv:"num_tasks"`
	TrainSamples int     `csv:"train_samples"`
	ValSamples   int     `csv:"val_samples"`
	TestSamples  int     `csv:"test_samples"`
	MeanPositive float64 `csv:"mean_positive_rate"`
	MinPositive  float64 `csv:"min_positive_rate"`
	MaxPositive  float64 `csv:"max_positive_rate"`
	Bytes        uint64  `csv:"-"`
	Size         string  `csv:"size"`
}

// positiveRates is the per-column mean concept value of a split.
func positiveRates(data dataset.Annotated) []float64 {
	n := data.Len()
	rates := make([]float64, data.Concepts.Dim(1))
	for j := range rates {
		var sum float64
		for i := 0; i < n; i++ {
			sum += float64(data.Concepts.At(i, j))
		}
		rates[j] = sum / float64(n)
	}
	return rates
}

func buildRecord(v variant, res traindata.Result) record {
	rec := record{
		Variant:      v.name,
		Seed:         v.seed,
		LabeledRatio: v.ratio,
		NumConcepts:  res.Meta.NumConcepts,
		NumTasks:     res.Meta.NumTasks,
	}

	reference := res.Train
	if res.Train != nil {
		rec.TrainSamples = res.Train.Len()
	}
	if res.Val != nil {
		rec.ValSamples = res.Val.Len()
	}
	if res.Test != nil {
		rec.TestSamples = res.Test.Len()
		if reference == nil {
			reference = res.Test
		}
	}

	rates := positiveRates(reference.Data())
	rec.MeanPositive, _ = stats.Mean(rates)
	rec.MinPositive, _ = stats.Min(rates)
	rec.MaxPositive, _ = stats.Max(rates)
	return rec
}

// persist writes each split's annotated bundle plus the imbalance vector and
// returns the bytes written.
func persist(fs afero.Fs, dir string, res traindata.Result) (uint64, error) {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return 0, errors.WithStack(err)
	}

	var total uint64
	write := func(name string, l *dataset.Loader) error {
		if l == nil {
			return nil
		}
		path := filepath.Join(dir, name+".gob.gz")
		if err := serialization.Encode(fs, path, l.Data()); err != nil {
			return err
		}
		info, err := fs.Stat(path)
		if err != nil {
			return errors.WithStack(err)
		}
		total += uint64(info.Size())
		return nil
	}
	for _, split := range []struct {
		name string
		l    *dataset.Loader
	}{
		{"train", res.Train},
		{"val", res.Val},
		{"test", res.Test},
	} {
		if err := write(split.name, split.l); err != nil {
			return 0, err
		}
	}

	if res.Imbalance != nil {
		path := filepath.Join(dir, "imbalance.json")
		if err := serialization.Encode(fs, path, res.Imbalance); err != nil {
			return 0, err
		}
	}
	return total, nil
}

func main() {
	args := struct {
		Config       string `arg:"required"`
		OutDir       string
		CacheDir     string
		BaseURL      string
		LabeledRatio float64
		Seed         int64
		MaxGo        int
		Rerun        bool
		Soft         bool
	}{
		OutDir:       "datasets",
		CacheDir:     "mnist-cache",
		BaseURL:      mnist.DefaultBaseURL,
		LabeledRatio: 1,
		Seed:         42,
		MaxGo:        4,
	}
	arg.MustParse(&args)

	fs := afero.NewOsFs()
	cache, err := blobcache.Open(fs, args.CacheDir, blobcache.Options{})
	fail(err)
	source := mnist.NewHTTPSource(cache, args.BaseURL)

	cfg, err := experiment.LoadConfig(fs, args.Config)
	fail(err)
	grids, err := experiment.GridConfigs(cfg)
	fail(err)
	log.Printf("expanded %s into %d variant(s)", args.Config, len(grids))

	variants := make([]variant, 0, len(grids))
	for i, g := range grids {
		fail(experiment.EvaluateExpressions(g, args.Soft))

		rawDataset, ok := g["dataset_config"].(experiment.Config)
		if !ok {
			log.Fatalf("config %s has no dataset_config section", args.Config)
		}
		dcfg, err := traindata.FromMap(rawDataset)
		fail(err)

		ratio := args.LabeledRatio
		if raw, ok := g["labeled_ratio"]; ok {
			switch v := raw.(type) {
			case float64:
				ratio = v
			case int:
				ratio = float64(v)
			}
		}

		name := fmt.Sprintf("variant_%03d", i)
		if raw, ok := g["run_name"].(string); ok && raw != "" {
			name = raw
			if len(grids) > 1 {
				name = fmt.Sprintf("%s_%03d", raw, i)
			}
		}

		variants = append(variants, variant{
			name:  name,
			ratio: ratio,
			seed:  args.Seed,
			cfg:   dcfg,
		})
	}

	ctx := context.Background()
	completed := make(chan record)
	jobs := make([]workerpool.Job, 0, len(variants))
	for _, v := range variants {
		v := v
		job := func() error {
			res, err := traindata.GenerateData(
				ctx, fs, source, v.cfg, args.OutDir, v.ratio, v.seed, args.Rerun)
			if err != nil {
				return errors.Wrapf(err, "generating %s", v.name)
			}

			rec := buildRecord(v, res)
			rec.Bytes, err = persist(fs, filepath.Join(args.OutDir, v.name), res)
			if err != nil {
				return errors.Wrapf(err, "persisting %s", v.name)
			}
			rec.Size = humanize.Bytes(rec.Bytes)

			completed <- rec
			return nil
		}
		jobs = append(jobs, job)
	}

	pool := workerpool.New(args.MaxGo)
	pool.Add(jobs)
	errc := make(chan error, 1)
	go func() {
		err := pool.Wait()
		pool.Stop()
		close(completed)
		errc <- err
	}()

	var records []record
	tqdm.With(iterators.Interval(0, len(variants)), "Generating datasets", func(c interface{}) (brk bool) {
		rec, ok := <-completed
		if !ok {
			brk = true
			return
		}
		records = append(records, rec)
		return
	})
	fail(<-errc)

	sort.Slice(records, func(i, j int) bool { return records[i].Variant < records[j].Variant })

	var total uint64
	for _, rec := range records {
		total += rec.Bytes
		log.Printf("%s: %d concepts, %d tasks, %d/%d/%d train/val/test samples, %s on disk",
			rec.Variant, rec.NumConcepts, rec.NumTasks,
			rec.TrainSamples, rec.ValSamples, rec.TestSamples, rec.Size)
	}
	log.Printf("wrote %d variant(s), %s total", len(records), humanize.Bytes(total))

	if len(records) > 0 {
		means := make([]float64, 0, len(records))
		for _, rec := range records {
			means = append(means, rec.MeanPositive)
		}
		fmt.Printf("Concept positive rate across variants:\n")
		f, _ := stats.Median(means)
		fmt.Printf("  Median: %.4f\n", f)
		f, _ = stats.Mean(means)
		fmt.Printf("  Mean: %.4f\n", f)
		f, _ = stats.Min(means)
		fmt.Printf("  Min: %.4f\n", f)
		f, _ = stats.Max(means)
		fmt.Printf("  Max: %.4f\n", f)
	}

	out, err := fs.Create(filepath.Join(args.OutDir, "variants.csv"))
	fail(err)
	defer out.Close()
	fail(gocsv.Marshal(&records, out))
}
