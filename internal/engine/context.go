// Package engine runs the LeNet forward and backward passes on one device.
package engine

import (
	"github.com/FlavioCFOliveira/admmnet/internal/device"
	"github.com/FlavioCFOliveira/admmnet/internal/net"
	"github.com/FlavioCFOliveira/admmnet/internal/shape"
	"github.com/pkg/errors"
)

// Options tune context construction.
type Options struct {
	ConvAlgo AlgoMode
}

// Context owns the descriptors, buffers and stream used to run one layer
// set at one batch size. A process typically holds a training context and,
// on the root, a batch-1 evaluation context sharing the same workspace.
type Context struct {
	Device *device.Device
	Model  *net.LeNet
	Batch  int

	Shapes [numBuffers]shape.Tensor4D
	Conv1  ConvAlgos
	Conv2  ConvAlgos

	// Grads holds the parameter gradients of the last Backward.
	Grads net.ParamSet

	buf       *Buffers
	stages    []Stage
	workspace *Workspace
	peak      int
	stream    *device.Stream
}

// NewContext derives every descriptor, chooses the convolution algorithms,
// grows ws to the peak workspace requirement and allocates buffers.
func NewContext(dev *device.Device, ws *Workspace, model *net.LeNet, batch int, opts Options) (*Context, error) {
	if batch <= 0 {
		return nil, errors.Wrapf(shape.ErrNonPositive, "batch size %d", batch)
	}

	var shapes [numBuffers]shape.Tensor4D
	shapes[Data] = model.Conv1.InShape(batch)
	if err := shapes[Data].Validate(); err != nil {
		return nil, errors.Wrap(err, "data")
	}
	var err error
	if shapes[Conv1Out], err = shape.Conv(shapes[Data], model.Conv1.OutChannels, model.Conv1.KernelSize); err != nil {
		return nil, errors.Wrap(err, "conv1")
	}
	if shapes[Pool1Out], err = model.Pool1.OutShape(shapes[Conv1Out]); err != nil {
		return nil, errors.Wrap(err, "pool1")
	}
	if shapes[Conv2Out], err = shape.Conv(shapes[Pool1Out], model.Conv2.OutChannels, model.Conv2.KernelSize); err != nil {
		return nil, errors.Wrap(err, "conv2")
	}
	if shapes[Pool2Out], err = model.Pool2.OutShape(shapes[Conv2Out]); err != nil {
		return nil, errors.Wrap(err, "pool2")
	}
	if shapes[Pool2Out].PerSample() != model.FC1.Inputs {
		return nil, errors.Errorf("pool2 yields %d features per sample, fc1 expects %d",
			shapes[Pool2Out].PerSample(), model.FC1.Inputs)
	}
	shapes[FC1Out] = model.FC1.OutShape(batch)
	shapes[FC1Relu] = shapes[FC1Out]
	shapes[FC2Out] = model.FC2.OutShape(batch)
	shapes[SoftmaxOut] = shapes[FC2Out]

	c := &Context{
		Device:    dev,
		Model:     model,
		Batch:     batch,
		Shapes:    shapes,
		Conv1:     chooseConvAlgos(dev, opts.ConvAlgo, model.Conv1.InChannels, model.Conv1.OutChannels, model.Conv1.KernelSize, false),
		Conv2:     chooseConvAlgos(dev, opts.ConvAlgo, model.Conv2.InChannels, model.Conv2.OutChannels, model.Conv2.KernelSize, true),
		Grads:     net.NewParamSetLike(model.Params()),
		buf:       newBuffers(shapes),
		workspace: ws,
	}
	c.stages = c.buildStages()
	for _, s := range c.stages {
		c.peak = max(c.peak, s.WorkspaceSize())
	}
	ws.Ensure(c.peak)
	c.stream = dev.NewStream()
	return c, nil
}

func (c *Context) buildStages() []Stage {
	b, s, m := c.buf, c.Shapes, c.Model
	return []Stage{
		&convStage{name: "conv1", in: s[Data], out: s[Conv1Out], k: m.Conv1.KernelSize,
			w: net.Conv1, b: net.Conv1Bias, algos: c.Conv1,
			x: b.Act[Data], y: b.Act[Conv1Out], dy: b.Grad[Conv1Out]},
		&poolStage{name: "pool1", in: s[Conv1Out], out: s[Pool1Out], size: m.Pool1.Size, stride: m.Pool1.Stride,
			x: b.Act[Conv1Out], y: b.Act[Pool1Out], dx: b.Grad[Conv1Out], dy: b.Grad[Pool1Out]},
		&convStage{name: "conv2", in: s[Pool1Out], out: s[Conv2Out], k: m.Conv2.KernelSize,
			w: net.Conv2, b: net.Conv2Bias, algos: c.Conv2,
			x: b.Act[Pool1Out], y: b.Act[Conv2Out], dx: b.Grad[Pool1Out], dy: b.Grad[Conv2Out]},
		&poolStage{name: "pool2", in: s[Conv2Out], out: s[Pool2Out], size: m.Pool2.Size, stride: m.Pool2.Stride,
			x: b.Act[Conv2Out], y: b.Act[Pool2Out], dx: b.Grad[Conv2Out], dy: b.Grad[Pool2Out]},
		&denseStage{name: "fc1", batch: c.Batch, inputs: m.FC1.Inputs, outputs: m.FC1.Outputs,
			w: net.FC1, b: net.FC1Bias,
			x: b.Act[Pool2Out], y: b.Act[FC1Out], dx: b.Grad[Pool2Out], dy: b.Grad[FC1Out], ones: b.Ones},
		&reluStage{name: "relu1",
			x: b.Act[FC1Out], y: b.Act[FC1Relu], dx: b.Grad[FC1Out], dy: b.Grad[FC1Relu]},
		&denseStage{name: "fc2", batch: c.Batch, inputs: m.FC2.Inputs, outputs: m.FC2.Outputs,
			w: net.FC2, b: net.FC2Bias,
			x: b.Act[FC1Relu], y: b.Act[FC2Out], dx: b.Grad[FC1Relu], dy: b.Grad[FC2Out], ones: b.Ones},
		&softmaxStage{name: "softmax", classes: m.FC2.Outputs,
			x: b.Act[FC2Out], y: b.Act[SoftmaxOut]},
	}
}

// WorkspaceSize is the peak scratch requirement over every stage.
func (c *Context) WorkspaceSize() int { return c.peak }

// Stream returns the ordered command stream of the context.
func (c *Context) Stream() *device.Stream { return c.stream }

// LoadBatch queues the copy of a normalized batch and its labels to the device.
func (c *Context) LoadBatch(images, labels []float32) {
	c.stream.CopyToDevice(c.buf.Act[Data], images)
	c.stream.CopyToDevice(c.buf.Labels, labels)
}

// Forward queues the forward pass with parameters p.
func (c *Context) Forward(p net.ParamSet) {
	c.stream.Launch(func() {
		for _, s := range c.stages {
			s.Forward(p, c.workspace)
		}
	})
}

// Backward queues the loss seed and the backward pass. Gradients land in
// c.Grads, overwriting the previous iteration's.
func (c *Context) Backward(p net.ParamSet) {
	c.stream.Launch(func() {
		LossSeed(c.buf.Seed, c.buf.Act[SoftmaxOut], c.buf.Labels, c.Model.Classes())
		for i := len(c.stages) - 1; i >= 0; i-- {
			c.stages[i].Backward(p, c.Grads, c.workspace)
		}
	})
}

// Synchronize waits for every queued pass.
func (c *Context) Synchronize() { c.stream.Synchronize() }

// Probabilities synchronizes and copies the softmax output to the host.
func (c *Context) Probabilities() []float32 {
	out := make([]float32, len(c.buf.Act[SoftmaxOut]))
	c.stream.CopyToHost(out, c.buf.Act[SoftmaxOut])
	return out
}

// Loss synchronizes and returns the mean cross-entropy of the last batch.
func (c *Context) Loss() float64 {
	c.stream.Synchronize()
	return CrossEntropy(c.buf.Act[SoftmaxOut], c.buf.Labels, c.Model.Classes())
}

// Predict runs a forward pass over one batch of images and returns the
// predicted class per sample.
func (c *Context) Predict(p net.ParamSet, images []float32) []int {
	c.stream.CopyToDevice(c.buf.Act[Data], images)
	c.Forward(p)
	return Argmax(c.Probabilities(), c.Model.Classes())
}

// Close stops the stream. The shared workspace stays with its owner.
func (c *Context) Close() error {
	c.stream.Close()
	return nil
}
