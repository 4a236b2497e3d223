// Package subsample selects a subset of concept columns, or whole concept
// groups, at a sampling percentage, persisting the selection so repeated
// runs reuse it.
package subsample

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/spf13/afero"

	"github.com/conceptlab/conceptlab/concept-golib/errors"
	"github.com/conceptlab/conceptlab/concept-golib/serialization"
)

// Store persists index selections by key.
type Store interface {
	Get(key string) ([]int, bool, error)
	Put(key string, indices []int) error
}

// GroupsKey names a cached group selection.
func GroupsKey(percent float64, numOperands int) string {
	return fmt.Sprintf("selected_groups_sampling_%s_operands_%d", formatPercent(percent), numOperands)
}

// ConceptsKey names a cached concept selection.
func ConceptsKey(percent float64, numOperands int) string {
	return fmt.Sprintf("selected_concepts_sampling_%s_operands_%d", formatPercent(percent), numOperands)
}

func formatPercent(p float64) string {
	return strconv.FormatFloat(p, 'g', -1, 64)
}

// MemStore keeps selections in memory; it backs tests and one-shot runs.
type MemStore struct {
	mu sync.Mutex
	m  map[string][]int
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{m: make(map[string][]int)}
}

// Get implements Store.
func (s *MemStore) Get(key string) ([]int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	indices, ok := s.m[key]
	if !ok {
		return nil, false, nil
	}
	return append([]int(nil), indices...), true, nil
}

// Put implements Store.
func (s *MemStore) Put(key string, indices []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = append([]int(nil), indices...)
	return nil
}

// FileStore persists one JSON file per key under a root directory.
type FileStore struct {
	fs   afero.Fs
	root string
}

// NewFileStore returns a store writing under root.
func NewFileStore(fs afero.Fs, root string) *FileStore {
	return &FileStore{fs: fs, root: root}
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.root, key+".json")
}

// Get implements Store.
func (s *FileStore) Get(key string) ([]int, bool, error) {
	var indices []int
	err := serialization.Decode(s.fs, s.path(key), &indices)
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return indices, true, nil
}

// Put implements Store.
func (s *FileStore) Put(key string, indices []int) error {
	if err := s.fs.MkdirAll(s.root, 0777); err != nil {
		return errors.Wrapf(err, "creating %s", s.root)
	}
	return serialization.Encode(s.fs, s.path(key), indices)
}
