package engine

import (
	"fmt"

	"github.com/FlavioCFOliveira/admmnet/internal/shape"
)

// Buffer names one activation slot.
type Buffer int

const (
	Data Buffer = iota
	Conv1Out
	Pool1Out
	Conv2Out
	Pool2Out
	FC1Out
	FC1Relu
	FC2Out
	SoftmaxOut

	numBuffers
)

var bufferNames = [numBuffers]string{
	"data", "conv1", "pool1", "conv2", "pool2", "fc1", "fc1relu", "fc2", "softmax",
}

func (b Buffer) String() string {
	if b < 0 || b >= numBuffers {
		return "unknown"
	}
	return bufferNames[b]
}

// Buffers is the per-context device memory, allocated once.
// Grad mirrors Act; the data and softmax slots have no gradient and the
// fc2 slot aliases Seed.
type Buffers struct {
	Act    [numBuffers][]float32
	Grad   [numBuffers][]float32
	Ones   []float32
	Seed   []float32
	Labels []float32
}

func newBuffers(shapes [numBuffers]shape.Tensor4D) *Buffers {
	b := &Buffers{}
	for i, s := range shapes {
		b.Act[i] = make([]float32, s.Len())
	}
	for i := Conv1Out; i < FC2Out; i++ {
		b.Grad[i] = make([]float32, shapes[i].Len())
	}
	b.Seed = make([]float32, shapes[FC2Out].Len())
	b.Grad[FC2Out] = b.Seed

	batch := shapes[Data].N
	b.Ones = make([]float32, batch)
	for i := range b.Ones {
		b.Ones[i] = 1
	}
	b.Labels = make([]float32, batch)
	return b
}

func checkLen(stage, what string, buf []float32, want int) {
	if len(buf) != want {
		panic(fmt.Sprintf("engine: %s %s has %d elements, want %d", stage, what, len(buf), want))
	}
}
