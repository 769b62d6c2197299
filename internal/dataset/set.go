package dataset

import (
	"fmt"

	"github.com/pkg/errors"
)

// Set is a labelled image set held as raw bytes.
type Set struct {
	Width, Height, Channels int
	Count                   int
	Images                  []byte
	Labels                  []byte
}

// Load reads an image file and its label file.
func Load(imagesPath, labelsPath string) (*Set, error) {
	ir, err := open(imagesPath)
	if err != nil {
		return nil, err
	}
	defer ir.Close()
	count, w, h, pixels, err := ReadImages(ir)
	if err != nil {
		return nil, errors.Wrap(err, imagesPath)
	}

	lr, err := open(labelsPath)
	if err != nil {
		return nil, err
	}
	defer lr.Close()
	labels, err := ReadLabels(lr)
	if err != nil {
		return nil, errors.Wrap(err, labelsPath)
	}
	if len(labels) != count {
		return nil, errors.Errorf("%s has %d images but %s has %d labels", imagesPath, count, labelsPath, len(labels))
	}

	return &Set{Width: w, Height: h, Channels: 1, Count: count, Images: pixels, Labels: labels}, nil
}

// ImageSize is the number of values per image.
func (s *Set) ImageSize() int {
	return s.Channels * s.Width * s.Height
}

// NumBatches is the number of whole batches; a trailing partial batch is dropped.
func (s *Set) NumBatches(batch int) int {
	return s.Count / batch
}

// Normalize writes images [start, start+n) into dst scaled to [0, 1].
func (s *Set) Normalize(dst []float32, start, n int) {
	size := s.ImageSize()
	if len(dst) != n*size || start < 0 || start+n > s.Count {
		panic(fmt.Sprintf("dataset: Normalize(%d, %d) into %d values of a %d image set", start, n, len(dst), s.Count))
	}
	for i, v := range s.Images[start*size : (start+n)*size] {
		dst[i] = float32(v) / 255
	}
}

// LabelValues writes labels [start, start+n) into dst.
func (s *Set) LabelValues(dst []float32, start, n int) {
	if len(dst) != n || start < 0 || start+n > s.Count {
		panic(fmt.Sprintf("dataset: LabelValues(%d, %d) into %d values of a %d image set", start, n, len(dst), s.Count))
	}
	for i, v := range s.Labels[start : start+n] {
		dst[i] = float32(v)
	}
}

// Batch fills images and labels with batch index i of the given size.
func (s *Set) Batch(i, batch int, images, labels []float32) {
	s.Normalize(images, i*batch, batch)
	s.LabelValues(labels, i*batch, batch)
}
