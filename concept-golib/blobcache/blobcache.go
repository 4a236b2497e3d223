// Package blobcache is a size-bounded blob cache keyed by arbitrary byte
// keys, storing each value as one file named by the key's hash. Older
// entries are evicted by modification time once the cache grows past its
// budget.
package blobcache

import (
	"encoding/binary"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"

	spooky "github.com/dgryski/go-spooky"
	"github.com/spf13/afero"

	"github.com/conceptlab/conceptlab/concept-golib/errors"
)

// ErrNoSuchKey is returned by Get when a key does not exist in the cache.
var ErrNoSuchKey = errors.New("key does not exist in cache")

// Options configures a cache.
type Options struct {
	// MaxSize is the total size budget in bytes. Zero means unbounded.
	MaxSize int64
	// BytesUntilEvict is how many bytes may be written between eviction
	// sweeps.
	BytesUntilEvict int64
}

// Cache stores blobs as files under a single directory of fs.
type Cache struct {
	fs   afero.Fs
	path string
	opts Options

	bytesSinceEvict int64
}

// Open creates a cache rooted at path, creating the directory if needed.
func Open(fs afero.Fs, path string, opts Options) (*Cache, error) {
	if err := fs.MkdirAll(path, 0777); err != nil {
		return nil, errors.Wrapf(err, "creating cache dir %s", path)
	}
	return &Cache{fs: fs, path: path, opts: opts}, nil
}

// Get returns the value stored for key, or ErrNoSuchKey.
func (c *Cache) Get(key []byte) ([]byte, error) {
	data, err := afero.ReadFile(c.fs, c.file(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSuchKey
		}
		return nil, err
	}
	return data, nil
}

// Exists reports whether key has a stored value.
func (c *Cache) Exists(key []byte) bool {
	ok, err := afero.Exists(c.fs, c.file(key))
	return err == nil && ok
}

// Put stores val under key, evicting old entries if the size budget is
// exceeded.
func (c *Cache) Put(key []byte, val []byte) error {
	c.bytesSinceEvict += int64(len(val))
	if c.opts.MaxSize > 0 && c.bytesSinceEvict > c.opts.BytesUntilEvict {
		if err := c.evict(int64(len(val))); err != nil {
			return errors.Wrapf(err, "evicting from cache")
		}
		c.bytesSinceEvict = 0
	}
	return afero.WriteFile(c.fs, c.file(key), val, 0666)
}

func (c *Cache) file(key []byte) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], spooky.Hash64(key))
	return filepath.Join(c.path, hex.EncodeToString(buf[:]))
}

// evict removes oldest entries until at least n bytes fit in the budget.
func (c *Cache) evict(n int64) error {
	files, err := afero.ReadDir(c.fs, c.path)
	if err != nil {
		return err
	}

	var sum int64
	for _, f := range files {
		sum += f.Size()
	}
	if sum+n <= c.opts.MaxSize {
		return nil
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ModTime().Before(files[j].ModTime())
	})

	for _, f := range files {
		if err := c.fs.Remove(filepath.Join(c.path, f.Name())); err != nil {
			return err
		}
		sum -= f.Size()
		if sum+n <= c.opts.MaxSize {
			break
		}
	}
	return nil
}
