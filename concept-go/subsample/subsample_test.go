package subsample

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conceptlab/conceptlab/concept-golib/tensor"
)

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"mem":  NewMemStore(),
		"file": NewFileStore(afero.NewMemMapFs(), "/data"),
	}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "selected_groups_sampling_0.5_operands_32", GroupsKey(0.5, 32))
	assert.Equal(t, "selected_concepts_sampling_0.25_operands_10", ConceptsKey(0.25, 10))
}

func TestPickConceptsCached(t *testing.T) {
	groups := map[int][]int{0: {0, 1}, 1: {2, 3}, 2: {4, 5}}

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			first, err := Pick(rand.New(rand.NewSource(1)), store, 0.5, 3, 6, groups, false, false)
			require.NoError(t, err)
			assert.Len(t, first.Concepts, 3)
			assert.True(t, sort.IntsAreSorted(first.Concepts))
			assert.Equal(t, 3, first.NumConcepts)

			// A second call must reuse the stored selection, whatever its
			// generator would have drawn.
			second, err := Pick(rand.New(rand.NewSource(99)), store, 0.5, 3, 6, groups, false, false)
			require.NoError(t, err)
			assert.Equal(t, first.Concepts, second.Concepts)
			assert.Equal(t, first.Groups, second.Groups)
		})
	}
}

func TestPickRerunOverwrites(t *testing.T) {
	groups := map[int][]int{0: {0, 1, 2, 3, 4, 5, 6, 7, 8, 9}}
	store := NewMemStore()

	first, err := Pick(rand.New(rand.NewSource(1)), store, 0.3, 1, 10, groups, false, false)
	require.NoError(t, err)

	// Force a fresh draw from a generator whose permutation differs.
	var rerun Selection
	var changed bool
	for seed := int64(2); seed < 50 && !changed; seed++ {
		rerun, err = Pick(rand.New(rand.NewSource(seed)), store, 0.3, 1, 10, groups, false, true)
		require.NoError(t, err)
		changed = !assert.ObjectsAreEqual(first.Concepts, rerun.Concepts)
	}
	require.True(t, changed)

	// The overwritten cache now serves the rerun's selection.
	after, err := Pick(rand.New(rand.NewSource(1)), store, 0.3, 1, 10, groups, false, false)
	require.NoError(t, err)
	assert.Equal(t, rerun.Concepts, after.Concepts)
}

func TestPickByGroupsTwoOfThree(t *testing.T) {
	groups := map[int][]int{0: {0, 1, 2}, 1: {3}, 2: {4, 5}}

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			sel, err := Pick(rand.New(rand.NewSource(5)), store, 0.5, 3, 6, groups, true, false)
			require.NoError(t, err)

			// ceil(3 * 0.5) = 2 groups survive, with every member column.
			assert.Len(t, sel.Groups, 2)
			for op, members := range sel.Groups {
				assert.Len(t, members, len(groups[op]))
			}

			// The kept columns remap densely onto [0, NumConcepts).
			var all []int
			for _, members := range sel.Groups {
				all = append(all, members...)
			}
			sort.Ints(all)
			for i, c := range all {
				assert.Equal(t, i, c)
			}
			assert.Equal(t, len(all), sel.NumConcepts)
			assert.Len(t, sel.Concepts, sel.NumConcepts)
		})
	}
}

func TestPickGroupModeCachesGroupIndices(t *testing.T) {
	groups := map[int][]int{0: {0, 1}, 1: {2, 3}}
	store := NewMemStore()

	sel, err := Pick(rand.New(rand.NewSource(7)), store, 0.5, 2, 4, groups, true, false)
	require.NoError(t, err)

	cached, ok, err := store.Get(GroupsKey(0.5, 2))
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, cached, 1)
	assert.Equal(t, groups[cached[0]], originalColumns(sel))
}

func originalColumns(s Selection) []int {
	out := append([]int(nil), s.Concepts...)
	sort.Ints(out)
	return out
}

func TestPickValidatesPercent(t *testing.T) {
	store := NewMemStore()
	_, err := Pick(rand.New(rand.NewSource(1)), store, 0, 1, 4, nil, false, false)
	require.Error(t, err)
	_, err = Pick(rand.New(rand.NewSource(1)), store, 1.5, 1, 4, nil, false, false)
	require.Error(t, err)
}

func TestTransformSelectsColumns(t *testing.T) {
	sel := Selection{Concepts: []int{0, 3}, NumConcepts: 2}

	c, err := tensor.FromData([]float32{
		10, 11, 12, 13,
		20, 21, 22, 23,
	}, 2, 4)
	require.NoError(t, err)

	out, err := sel.Transform()(c)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, out.Shape())
	assert.Equal(t, []float32{10, 13, 20, 23}, out.Data())
}

func TestFullSelectionKeepsEverything(t *testing.T) {
	groups := map[int][]int{0: {0, 1}, 1: {2}}
	store := NewMemStore()

	sel, err := Pick(rand.New(rand.NewSource(3)), store, 1, 2, 3, groups, false, false)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, sel.Concepts)
	assert.Equal(t, groups, sel.Groups)
}
