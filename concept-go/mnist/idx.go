package mnist

import (
	"encoding/binary"
	"io"

	"github.com/conceptlab/conceptlab/concept-golib/errors"
	"github.com/conceptlab/conceptlab/concept-golib/tensor"
)

// IDX magic numbers for unsigned-byte tensors of rank 3 and 1.
const (
	imageMagic = 0x00000803
	labelMagic = 0x00000801
)

// ParseImages reads an IDX image file (magic 0x803) and returns a
// (N, rows, cols, 1) tensor of raw intensities.
func ParseImages(r io.Reader) (*tensor.T, error) {
	var hdr [4]uint32
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return nil, errors.Wrapf(err, "reading image header")
	}
	if hdr[0] != imageMagic {
		return nil, errors.Errorf("bad image magic 0x%08x", hdr[0])
	}

	n, rows, cols := int(hdr[1]), int(hdr[2]), int(hdr[3])
	raw := make([]byte, n*rows*cols)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrapf(err, "reading %d image bytes", len(raw))
	}

	data := make([]float32, len(raw))
	for i, b := range raw {
		data[i] = float32(b)
	}
	return tensor.FromData(data, n, rows, cols, 1)
}

// ParseLabels reads an IDX label file (magic 0x801) and returns the label
// per sample.
func ParseLabels(r io.Reader) ([]int, error) {
	var hdr [2]uint32
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return nil, errors.Wrapf(err, "reading label header")
	}
	if hdr[0] != labelMagic {
		return nil, errors.Errorf("bad label magic 0x%08x", hdr[0])
	}

	raw := make([]byte, int(hdr[1]))
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrapf(err, "reading %d labels", len(raw))
	}

	labels := make([]int, len(raw))
	for i, b := range raw {
		labels[i] = int(b)
	}
	return labels, nil
}
