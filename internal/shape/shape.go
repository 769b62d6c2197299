// Package shape resolves tensor dimensions for the convolution and pooling stages.
package shape

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNonPositive is returned when a derived dimension is zero or negative.
var ErrNonPositive = errors.New("non-positive dimension")

// Tensor4D describes a dense NCHW float32 tensor.
type Tensor4D struct {
	N, C, H, W int
}

// Len returns the number of elements.
func (t Tensor4D) Len() int {
	return t.N * t.C * t.H * t.W
}

// PerSample returns the number of elements of one sample (C*H*W).
func (t Tensor4D) PerSample() int {
	return t.C * t.H * t.W
}

// Spatial returns H*W.
func (t Tensor4D) Spatial() int {
	return t.H * t.W
}

func (t Tensor4D) String() string {
	return fmt.Sprintf("[%d %d %d %d]", t.N, t.C, t.H, t.W)
}

// Validate reports an error if any dimension is not positive.
func (t Tensor4D) Validate() error {
	if t.N <= 0 || t.C <= 0 || t.H <= 0 || t.W <= 0 {
		return errors.Wrapf(ErrNonPositive, "tensor %s", t)
	}
	return nil
}

// ConvOutput computes the output size of a valid-mode, unit-stride
// cross-correlation: input - kernel + 1.
func ConvOutput(input, kernel int) (int, error) {
	if kernel <= 0 {
		return 0, errors.Wrapf(ErrNonPositive, "kernel size %d", kernel)
	}
	out := input - kernel + 1
	if out <= 0 {
		return 0, errors.Wrapf(ErrNonPositive, "convolution output for input %d and kernel %d is %d", input, kernel, out)
	}
	return out, nil
}

// PoolOutput divides a spatial size by the pooling stride.
// Any remainder is truncated; callers size kernels so that none occurs.
func PoolOutput(input, stride int) (int, error) {
	if stride <= 0 {
		return 0, errors.Wrapf(ErrNonPositive, "pool stride %d", stride)
	}
	out := input / stride
	if out <= 0 {
		return 0, errors.Wrapf(ErrNonPositive, "pool output for input %d and stride %d is %d", input, stride, out)
	}
	return out, nil
}

// Conv returns the output descriptor of a convolution with outChannels
// filters of size kernel applied to in.
func Conv(in Tensor4D, outChannels, kernel int) (Tensor4D, error) {
	h, err := ConvOutput(in.H, kernel)
	if err != nil {
		return Tensor4D{}, err
	}
	w, err := ConvOutput(in.W, kernel)
	if err != nil {
		return Tensor4D{}, err
	}
	out := Tensor4D{N: in.N, C: outChannels, H: h, W: w}
	return out, out.Validate()
}

// Pool returns the output descriptor of a pooling stage with the given stride.
func Pool(in Tensor4D, stride int) (Tensor4D, error) {
	h, err := PoolOutput(in.H, stride)
	if err != nil {
		return Tensor4D{}, err
	}
	w, err := PoolOutput(in.W, stride)
	if err != nil {
		return Tensor4D{}, err
	}
	return Tensor4D{N: in.N, C: in.C, H: h, W: w}, nil
}
