// Package serialization reads and writes objects in the format determined
// by the file extension: .json or .gob, optionally with a .gz suffix for
// gzip compression.
package serialization

import (
	"compress/gzip"
	"encoding/gob"
	"encoding/json"
	"io"
	"strings"

	"github.com/spf13/afero"

	"github.com/conceptlab/conceptlab/concept-golib/errors"
)

// Encoder matches gob.Encoder and json.Encoder.
type Encoder interface {
	Encode(interface{}) error
}

// Decoder matches gob.Decoder and json.Decoder.
type Decoder interface {
	Decode(interface{}) error
}

// Encode writes obj to path on fs, using the format specified by the file
// extension.
func Encode(fs afero.Fs, path string, obj interface{}) error {
	f, err := fs.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}

	var w io.Writer = f
	closers := []io.Closer{f}

	trimmed := path
	if strings.HasSuffix(trimmed, ".gz") {
		trimmed = strings.TrimSuffix(trimmed, ".gz")
		gw := gzip.NewWriter(w)
		w = gw
		closers = append(closers, gw)
	}

	var enc Encoder
	switch {
	case strings.HasSuffix(trimmed, ".json"):
		enc = json.NewEncoder(w)
	case strings.HasSuffix(trimmed, ".gob"):
		enc = gob.NewEncoder(w)
	default:
		closeAll(closers)
		return errors.Errorf("no encoder for %s", path)
	}

	if err := enc.Encode(obj); err != nil {
		closeAll(closers)
		return errors.Wrapf(err, "encoding %s", path)
	}
	if err := closeAll(closers); err != nil {
		return errors.Wrapf(err, "closing %s", path)
	}
	return nil
}

// Decode reads the object stored at path on fs into obj, which must be a
// pointer. Compression and format are determined from the file extension.
func Decode(fs afero.Fs, path string, obj interface{}) error {
	f, err := fs.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	var r io.Reader = f
	trimmed := path
	if strings.HasSuffix(trimmed, ".gz") {
		trimmed = strings.TrimSuffix(trimmed, ".gz")
		gr, err := gzip.NewReader(r)
		if err != nil {
			return errors.Wrapf(err, "decompressing %s", path)
		}
		defer gr.Close()
		r = gr
	}

	var dec Decoder
	switch {
	case strings.HasSuffix(trimmed, ".json"):
		dec = json.NewDecoder(r)
	case strings.HasSuffix(trimmed, ".gob"):
		dec = gob.NewDecoder(r)
	default:
		return errors.Errorf("no decoder for %s", path)
	}

	if err := dec.Decode(obj); err != nil {
		return errors.Wrapf(err, "decoding %s", path)
	}
	return nil
}

// closeAll closes in reverse order so wrappers flush before the file.
func closeAll(closers []io.Closer) error {
	var closeErr error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			closeErr = err
		}
	}
	return closeErr
}
