package subsample

import (
	"math"
	"math/rand"
	"sort"

	"github.com/conceptlab/conceptlab/concept-golib/errors"
	"github.com/conceptlab/conceptlab/concept-golib/tensor"
)

// Selection is a subsampling outcome: the kept concept columns in their
// original numbering, the group map remapped into the dense new column
// space, and the new concept count.
type Selection struct {
	Concepts    []int
	Groups      map[int][]int
	NumConcepts int
}

// Pick selects ceil(percent*total) concepts, or whole concept groups when
// byGroups is set, drawing the permutation from rng. The raw selection is
// cached in store under a key derived from (percent, numOperands); a cached
// selection is reused without consuming rng unless rerun forces a fresh
// draw. Groups are never split: group mode keeps every member column of a
// chosen group.
func Pick(rng *rand.Rand, store Store, percent float64, numOperands int,
	numConcepts int, groups map[int][]int, byGroups, rerun bool) (Selection, error) {

	if percent <= 0 || percent > 1 {
		return Selection{}, errors.Errorf("sampling percent %v outside (0, 1]", percent)
	}

	var selected []int
	if byGroups {
		keys := sortedKeys(groups)
		chosen, err := cachedSelection(rng, store, GroupsKey(percent, numOperands), len(keys), percent, rerun)
		if err != nil {
			return Selection{}, err
		}
		seen := make(map[int]bool)
		for _, gi := range chosen {
			if gi < 0 || gi >= len(keys) {
				return Selection{}, errors.Errorf("cached group index %d outside %d groups", gi, len(keys))
			}
			for _, c := range groups[keys[gi]] {
				if !seen[c] {
					seen[c] = true
					selected = append(selected, c)
				}
			}
		}
		sort.Ints(selected)
	} else {
		var err error
		selected, err = cachedSelection(rng, store, ConceptsKey(percent, numOperands), numConcepts, percent, rerun)
		if err != nil {
			return Selection{}, err
		}
	}

	remap := make(map[int]int, len(selected))
	for dense, c := range selected {
		remap[c] = dense
	}

	newGroups := make(map[int][]int)
	for _, key := range sortedKeys(groups) {
		var kept []int
		for _, c := range groups[key] {
			if dense, ok := remap[c]; ok {
				kept = append(kept, dense)
			}
		}
		if len(kept) > 0 {
			newGroups[key] = kept
		}
	}

	return Selection{Concepts: selected, Groups: newGroups, NumConcepts: len(selected)}, nil
}

// cachedSelection returns the stored selection for key, or draws
// sorted(perm(total)[:ceil(percent*total)]) and stores it.
func cachedSelection(rng *rand.Rand, store Store, key string, total int, percent float64, rerun bool) ([]int, error) {
	if !rerun {
		cached, ok, err := store.Get(key)
		if err != nil {
			return nil, errors.Wrapf(err, "reading selection %s", key)
		}
		if ok {
			return cached, nil
		}
	}

	n := int(math.Ceil(percent * float64(total)))
	selected := append([]int(nil), rng.Perm(total)[:n]...)
	sort.Ints(selected)
	if err := store.Put(key, selected); err != nil {
		return nil, errors.Wrapf(err, "writing selection %s", key)
	}
	return selected, nil
}

// Transform returns the concept-column selection hook the synthesizer
// applies after building the full concept matrix.
func (s Selection) Transform() func(*tensor.T) (*tensor.T, error) {
	cols := append([]int(nil), s.Concepts...)
	return func(c *tensor.T) (*tensor.T, error) {
		return c.SelectCols(cols)
	}
}

func sortedKeys(m map[int][]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
