package mnist

import (
	"bytes"
	"compress/gzip"
	"context"
	"io/ioutil"
	"net/http"

	"github.com/conceptlab/conceptlab/concept-golib/blobcache"
	"github.com/conceptlab/conceptlab/concept-golib/errors"
	"github.com/conceptlab/conceptlab/concept-golib/tensor"
	"github.com/conceptlab/conceptlab/concept-golib/workerpool"
)

// DefaultBaseURL is the canonical MNIST mirror.
const DefaultBaseURL = "https://storage.googleapis.com/cvdf-datasets/mnist/"

var splitFiles = map[Split][2]string{
	TrainSplit: {"train-images-idx3-ubyte.gz", "train-labels-idx1-ubyte.gz"},
	TestSplit:  {"t10k-images-idx3-ubyte.gz", "t10k-labels-idx1-ubyte.gz"},
}

// HTTPSource downloads gzipped IDX files over HTTP, keeping the raw
// downloads in a blob cache keyed by URL.
type HTTPSource struct {
	base   string
	cache  *blobcache.Cache
	client *http.Client
}

// NewHTTPSource returns a source fetching from baseURL, or DefaultBaseURL
// when empty.
func NewHTTPSource(cache *blobcache.Cache, baseURL string) *HTTPSource {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &HTTPSource{base: baseURL, cache: cache, client: http.DefaultClient}
}

// Load fetches, decompresses, and parses the split's image and label files.
// The two downloads run concurrently.
func (s *HTTPSource) Load(ctx context.Context, split Split) (Corpus, error) {
	files, ok := splitFiles[split]
	if !ok {
		return Corpus{}, errors.Errorf("unknown split %q", split)
	}

	var payloads [2][]byte
	pool := workerpool.NewWithCtx(ctx, len(files))
	defer pool.Stop()

	var jobs []workerpool.Job
	for i, name := range files {
		i, name := i, name
		jobs = append(jobs, func() error {
			data, err := s.fetch(ctx, s.base+name)
			if err != nil {
				return errors.Wrapf(err, "fetching %s", name)
			}
			payloads[i] = data
			return nil
		})
	}
	pool.Add(jobs)
	if err := pool.Wait(); err != nil {
		return Corpus{}, err
	}

	images, err := gunzipImages(payloads[0])
	if err != nil {
		return Corpus{}, errors.Wrapf(err, "parsing %s images", split)
	}
	labels, err := gunzipLabels(payloads[1])
	if err != nil {
		return Corpus{}, errors.Wrapf(err, "parsing %s labels", split)
	}
	if images.Dim(0) != len(labels) {
		return Corpus{}, errors.Errorf(
			"%s split has %d images but %d labels", split, images.Dim(0), len(labels))
	}
	return Corpus{Images: images, Labels: labels}, nil
}

func (s *HTTPSource) fetch(ctx context.Context, url string) ([]byte, error) {
	key := []byte(url)
	if data, err := s.cache.Get(key); err == nil {
		return data, nil
	} else if err != blobcache.ErrNoSuchKey {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("GET %s: %s", url, resp.Status)
	}

	data, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Put(key, data); err != nil {
		return nil, errors.Wrapf(err, "caching %s", url)
	}
	return data, nil
}

func gunzipImages(data []byte) (*tensor.T, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "decompressing")
	}
	defer r.Close()
	return ParseImages(r)
}

func gunzipLabels(data []byte) ([]int, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "decompressing")
	}
	defer r.Close()
	return ParseLabels(r)
}
