package layer

import (
	"github.com/FlavioCFOliveira/admmnet/internal/shape"
	"github.com/pkg/errors"
)

// ConvBias is a convolutional layer with a per-channel bias.
// Convolutions are valid-mode cross-correlations with unit stride.
type ConvBias struct {
	InChannels  int
	OutChannels int
	KernelSize  int

	InWidth, InHeight   int
	OutWidth, OutHeight int

	// Weights: [OutChannels, InChannels, KernelSize, KernelSize]
	Weights []float32
	Bias    []float32
}

// NewConvBias creates a convolutional layer for inputs of inW x inH.
// It fails if the derived output size is not positive.
func NewConvBias(inChannels, outChannels, kernelSize, inW, inH int) (*ConvBias, error) {
	if inChannels <= 0 || outChannels <= 0 {
		return nil, errors.Wrapf(shape.ErrNonPositive, "conv channels %d->%d", inChannels, outChannels)
	}
	outW, err := shape.ConvOutput(inW, kernelSize)
	if err != nil {
		return nil, errors.Wrap(err, "conv width")
	}
	outH, err := shape.ConvOutput(inH, kernelSize)
	if err != nil {
		return nil, errors.Wrap(err, "conv height")
	}

	return &ConvBias{
		InChannels:  inChannels,
		OutChannels: outChannels,
		KernelSize:  kernelSize,
		InWidth:     inW,
		InHeight:    inH,
		OutWidth:    outW,
		OutHeight:   outH,
		Weights:     make([]float32, inChannels*outChannels*kernelSize*kernelSize),
		Bias:        make([]float32, outChannels),
	}, nil
}

// Params returns the weight and bias storage.
func (c *ConvBias) Params() ([]float32, []float32) {
	return c.Weights, c.Bias
}

// FanIn is KernelSize^2 * InChannels.
func (c *ConvBias) FanIn() int {
	return c.KernelSize * c.KernelSize * c.InChannels
}

// InShape returns the input descriptor for a batch of n.
func (c *ConvBias) InShape(n int) shape.Tensor4D {
	return shape.Tensor4D{N: n, C: c.InChannels, H: c.InHeight, W: c.InWidth}
}

// OutShape returns the output descriptor for a batch of n.
func (c *ConvBias) OutShape(n int) shape.Tensor4D {
	return shape.Tensor4D{N: n, C: c.OutChannels, H: c.OutHeight, W: c.OutWidth}
}
