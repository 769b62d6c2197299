package layer

import (
	"github.com/FlavioCFOliveira/admmnet/internal/shape"
	"github.com/pkg/errors"
)

// FullyConnected is a dense layer with bias.
type FullyConnected struct {
	Inputs  int
	Outputs int

	// Weights stored row-major: weight for output o, input i is at Weights[o*Inputs+i]
	Weights []float32
	Bias    []float32
}

// NewFullyConnected creates a dense layer.
func NewFullyConnected(inputs, outputs int) (*FullyConnected, error) {
	if inputs <= 0 || outputs <= 0 {
		return nil, errors.Wrapf(shape.ErrNonPositive, "fully connected %dx%d", inputs, outputs)
	}
	return &FullyConnected{
		Inputs:  inputs,
		Outputs: outputs,
		Weights: make([]float32, inputs*outputs),
		Bias:    make([]float32, outputs),
	}, nil
}

// Params returns the weight and bias storage.
func (f *FullyConnected) Params() ([]float32, []float32) {
	return f.Weights, f.Bias
}

// FanIn is Inputs * Outputs.
func (f *FullyConnected) FanIn() int {
	return f.Inputs * f.Outputs
}

// OutShape returns the output descriptor for a batch of n.
func (f *FullyConnected) OutShape(n int) shape.Tensor4D {
	return shape.Tensor4D{N: n, C: f.Outputs, H: 1, W: 1}
}
