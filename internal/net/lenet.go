// Package net defines the fixed LeNet layer set trained by the system.
package net

import (
	"fmt"
	"io"
	"math/rand"

	"github.com/FlavioCFOliveira/admmnet/internal/layer"
	"github.com/pkg/errors"
)

// Arch holds the hyper-parameters of the layer set.
type Arch struct {
	Conv1Channels int
	Conv2Channels int
	KernelSize    int
	PoolSize      int
	PoolStride    int
	Hidden        int
	Classes       int
}

// DefaultArch is the classic LeNet configuration for 28x28 digits.
var DefaultArch = Arch{
	Conv1Channels: 20,
	Conv2Channels: 50,
	KernelSize:    5,
	PoolSize:      2,
	PoolStride:    2,
	Hidden:        500,
	Classes:       10,
}

// LeNet is conv1 -> pool1 -> conv2 -> pool2 -> fc1 -> ReLU -> fc2 -> softmax.
type LeNet struct {
	Channels, Width, Height int

	Conv1 *layer.ConvBias
	Pool1 layer.MaxPool
	Conv2 *layer.ConvBias
	Pool2 layer.MaxPool
	FC1   *layer.FullyConnected
	FC2   *layer.FullyConnected
}

// New builds the layer set for images of channels x width x height.
func New(arch Arch, channels, width, height int) (*LeNet, error) {
	conv1, err := layer.NewConvBias(channels, arch.Conv1Channels, arch.KernelSize, width, height)
	if err != nil {
		return nil, errors.Wrap(err, "conv1")
	}
	pool1, err := layer.NewMaxPool(arch.PoolSize, arch.PoolStride)
	if err != nil {
		return nil, errors.Wrap(err, "pool1")
	}
	p1, err := pool1.OutShape(conv1.OutShape(1))
	if err != nil {
		return nil, errors.Wrap(err, "pool1")
	}
	conv2, err := layer.NewConvBias(p1.C, arch.Conv2Channels, arch.KernelSize, p1.W, p1.H)
	if err != nil {
		return nil, errors.Wrap(err, "conv2")
	}
	pool2, err := layer.NewMaxPool(arch.PoolSize, arch.PoolStride)
	if err != nil {
		return nil, errors.Wrap(err, "pool2")
	}
	p2, err := pool2.OutShape(conv2.OutShape(1))
	if err != nil {
		return nil, errors.Wrap(err, "pool2")
	}
	fc1, err := layer.NewFullyConnected(p2.PerSample(), arch.Hidden)
	if err != nil {
		return nil, errors.Wrap(err, "fc1")
	}
	fc2, err := layer.NewFullyConnected(fc1.Outputs, arch.Classes)
	if err != nil {
		return nil, errors.Wrap(err, "fc2")
	}

	return &LeNet{
		Channels: channels,
		Width:    width,
		Height:   height,
		Conv1:    conv1,
		Pool1:    pool1,
		Conv2:    conv2,
		Pool2:    pool2,
		FC1:      fc1,
		FC2:      fc2,
	}, nil
}

// Params returns a ParamSet aliasing the layers' own storage.
func (n *LeNet) Params() ParamSet {
	var p ParamSet
	p[Conv1], p[Conv1Bias] = n.Conv1.Params()
	p[Conv2], p[Conv2Bias] = n.Conv2.Params()
	p[FC1], p[FC1Bias] = n.FC1.Params()
	p[FC2], p[FC2Bias] = n.FC2.Params()
	return p
}

// Classes returns the number of output classes.
func (n *LeNet) Classes() int {
	return n.FC2.Outputs
}

// Randomize fills every layer with Xavier-uniform values drawn from rng.
func (n *LeNet) Randomize(rng *rand.Rand) {
	for _, l := range n.parametric() {
		layer.XavierFill(l, rng)
	}
}

func (n *LeNet) parametric() []layer.Parametric {
	return []layer.Parametric{n.Conv1, n.Conv2, n.FC1, n.FC2}
}

// Summary prints a summary of the network architecture.
func (n *LeNet) Summary(w io.Writer) {
	fmt.Fprintln(w, "Model: LeNet")
	fmt.Fprintln(w, "_________________________________________________________________")
	fmt.Fprintf(w, "%-25s %-20s %-10s\n", "Layer (type)", "Output Shape", "Param #")
	fmt.Fprintln(w, "=================================================================")

	row := func(name, out string, params int) {
		fmt.Fprintf(w, "%-25s %-20s %-10d\n", name, out, params)
	}
	row("conv1 (ConvBias)", fmt.Sprintf("(%d, %d, %d)", n.Conv1.OutChannels, n.Conv1.OutHeight, n.Conv1.OutWidth),
		len(n.Conv1.Weights)+len(n.Conv1.Bias))
	row("pool1 (MaxPool)", fmt.Sprintf("(%d, %d, %d)", n.Conv1.OutChannels, n.Conv2.InHeight, n.Conv2.InWidth), 0)
	row("conv2 (ConvBias)", fmt.Sprintf("(%d, %d, %d)", n.Conv2.OutChannels, n.Conv2.OutHeight, n.Conv2.OutWidth),
		len(n.Conv2.Weights)+len(n.Conv2.Bias))
	row("pool2 (MaxPool)", fmt.Sprintf("(%d)", n.FC1.Inputs), 0)
	row("fc1 (FullyConnected)", fmt.Sprintf("(%d)", n.FC1.Outputs), len(n.FC1.Weights)+len(n.FC1.Bias))
	row("fc2 (FullyConnected)", fmt.Sprintf("(%d)", n.FC2.Outputs), len(n.FC2.Weights)+len(n.FC2.Bias))

	fmt.Fprintln(w, "=================================================================")
	fmt.Fprintf(w, "Total params: %d\n", n.Params().Len())
	fmt.Fprintln(w, "_________________________________________________________________")
}
