package layer

import (
	"github.com/FlavioCFOliveira/admmnet/internal/shape"
	"github.com/pkg/errors"
)

// MaxPool is a max-pooling stage. It owns no parameters.
type MaxPool struct {
	Size   int
	Stride int
}

// NewMaxPool creates a pooling layer with a square window.
func NewMaxPool(size, stride int) (MaxPool, error) {
	if size <= 0 || stride <= 0 {
		return MaxPool{}, errors.Wrapf(shape.ErrNonPositive, "max pool size %d stride %d", size, stride)
	}
	return MaxPool{Size: size, Stride: stride}, nil
}

// OutShape returns the pooled descriptor of in.
func (p MaxPool) OutShape(in shape.Tensor4D) (shape.Tensor4D, error) {
	return shape.Pool(in, p.Stride)
}
