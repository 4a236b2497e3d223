package mnist

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conceptlab/conceptlab/concept-golib/blobcache"
)

func gz(t *testing.T, data []byte) []byte {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func testServer(t *testing.T, requests *int64) *httptest.Server {
	files := map[string][]byte{
		"/train-images-idx3-ubyte.gz": gz(t, idxImages(t, 1, 2,
			[]byte{8, 16}, []byte{24, 32}, []byte{40, 48})),
		"/train-labels-idx1-ubyte.gz": gz(t, idxLabels(t, 3, 1, 4)),
		"/t10k-images-idx3-ubyte.gz":  gz(t, idxImages(t, 1, 2, []byte{1, 2})),
		"/t10k-labels-idx1-ubyte.gz":  gz(t, idxLabels(t, 7)),
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(requests, 1)
		data, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
}

func newTestSource(t *testing.T, url string) *HTTPSource {
	cache, err := blobcache.Open(afero.NewMemMapFs(), "/cache", blobcache.Options{})
	require.NoError(t, err)
	return NewHTTPSource(cache, url)
}

func TestLoadTrain(t *testing.T) {
	var requests int64
	srv := testServer(t, &requests)
	defer srv.Close()

	src := newTestSource(t, srv.URL+"/")
	corpus, err := src.Load(context.Background(), TrainSplit)
	require.NoError(t, err)

	assert.Equal(t, 3, corpus.Len())
	assert.Equal(t, []int{3, 1, 2, 1}, corpus.Images.Shape())
	assert.Equal(t, []int{3, 1, 4}, corpus.Labels)
	assert.Equal(t, float32(24), corpus.Images.At(1, 0, 0, 0))
	assert.Equal(t, int64(2), atomic.LoadInt64(&requests))
}

func TestLoadTest(t *testing.T) {
	var requests int64
	srv := testServer(t, &requests)
	defer srv.Close()

	src := newTestSource(t, srv.URL+"/")
	corpus, err := src.Load(context.Background(), TestSplit)
	require.NoError(t, err)

	assert.Equal(t, 1, corpus.Len())
	assert.Equal(t, []int{7}, corpus.Labels)
}

func TestLoadUsesCache(t *testing.T) {
	var requests int64
	srv := testServer(t, &requests)

	src := newTestSource(t, srv.URL+"/")
	_, err := src.Load(context.Background(), TrainSplit)
	require.NoError(t, err)
	require.Equal(t, int64(2), atomic.LoadInt64(&requests))

	// Server gone; the cached downloads must serve the reload.
	srv.Close()
	corpus, err := src.Load(context.Background(), TrainSplit)
	require.NoError(t, err)
	assert.Equal(t, 3, corpus.Len())
	assert.Equal(t, int64(2), atomic.LoadInt64(&requests))
}

func TestLoadMissingFile(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	src := newTestSource(t, srv.URL+"/")
	_, err := src.Load(context.Background(), TrainSplit)
	require.Error(t, err)
}

func TestLoadUnknownSplit(t *testing.T) {
	src := newTestSource(t, "http://unused/")
	_, err := src.Load(context.Background(), Split("validate"))
	require.Error(t, err)
}
