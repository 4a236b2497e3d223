package addition

import (
	"encoding/binary"

	spooky "github.com/dgryski/go-spooky"
	"github.com/go-errors/errors"
	lru "github.com/hashicorp/golang-lru"

	"github.com/conceptlab/conceptlab/concept-go/mnist"
	"github.com/conceptlab/conceptlab/concept-golib/tensor"
)

// Pool holds the corpus rows available to one operand position, in corpus
// order, plus the operand's digit remap table (allowed digit -> dense
// zero-based index). Pools are shared through a cache; treat them as
// read-only.
type Pool struct {
	Images *tensor.T
	Labels []int
	Remap  map[int]int
}

type partitionKey struct {
	images *tensor.T
	digits uint64
}

// The orchestrator partitions the same corpus once per split per digit
// specification; keep recent results around.
var partitionCache, _ = lru.New(16)

// Partition filters the corpus into per-operand pools preserving corpus
// order and builds each operand's remap table.
func Partition(corpus mnist.Corpus, digits [][]int) ([]Pool, error) {
	if corpus.Images == nil || corpus.Images.Rank() != 4 {
		return nil, errors.Errorf("corpus images must be (N, H, W, 1)")
	}
	if corpus.Images.Dim(0) != len(corpus.Labels) {
		return nil, errors.Errorf(
			"corpus has %d images but %d labels", corpus.Images.Dim(0), len(corpus.Labels))
	}

	key := partitionKey{images: corpus.Images, digits: digitsFingerprint(digits)}
	if cached, ok := partitionCache.Get(key); ok {
		return cached.([]Pool), nil
	}

	pools := make([]Pool, len(digits))
	for op, set := range digits {
		allowed := make(map[int]bool, len(set))
		remap := make(map[int]int, len(set))
		for idx, d := range set {
			allowed[d] = true
			remap[d] = idx
		}

		var rows []int
		for i, label := range corpus.Labels {
			if allowed[label] {
				rows = append(rows, i)
			}
		}

		shape := corpus.Images.Shape()
		shape[0] = len(rows)
		images := tensor.New(shape...)
		labels := make([]int, len(rows))
		for j, i := range rows {
			copy(images.Row(j), corpus.Images.Row(i))
			labels[j] = corpus.Labels[i]
		}
		pools[op] = Pool{Images: images, Labels: labels, Remap: remap}
	}

	partitionCache.Add(key, pools)
	return pools, nil
}

func digitsFingerprint(digits [][]int) uint64 {
	var buf []byte
	var tmp [8]byte
	put := func(v int) {
		binary.BigEndian.PutUint64(tmp[:], uint64(v))
		buf = append(buf, tmp[:]...)
	}
	put(len(digits))
	for _, set := range digits {
		put(len(set))
		for _, d := range set {
			put(d)
		}
	}
	return spooky.Hash64(buf)
}
