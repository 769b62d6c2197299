package net

// Tensor identifies one of the eight parameter tensors of the network.
type Tensor int

const (
	Conv1 Tensor = iota
	Conv1Bias
	Conv2
	Conv2Bias
	FC1
	FC1Bias
	FC2
	FC2Bias

	NumTensors
)

var tensorNames = [NumTensors]string{
	Conv1:     "conv1",
	Conv1Bias: "conv1.bias",
	Conv2:     "conv2",
	Conv2Bias: "conv2.bias",
	FC1:       "fc1",
	FC1Bias:   "fc1.bias",
	FC2:       "fc2",
	FC2Bias:   "fc2.bias",
}

func (t Tensor) String() string {
	if t < 0 || t >= NumTensors {
		return "unknown"
	}
	return tensorNames[t]
}

// ParamSet holds one buffer per parameter tensor.
// Every process keeps four of them: local, global, gradient and residual.
type ParamSet [NumTensors][]float32

// NewParamSetLike allocates a zeroed set with the same sizes as p.
func NewParamSetLike(p ParamSet) ParamSet {
	var out ParamSet
	for i := range p {
		out[i] = make([]float32, len(p[i]))
	}
	return out
}

// Clone returns a deep copy.
func (p ParamSet) Clone() ParamSet {
	out := NewParamSetLike(p)
	out.CopyFrom(p)
	return out
}

// CopyFrom copies src into p. Sizes must match.
func (p ParamSet) CopyFrom(src ParamSet) {
	for i := range p {
		if len(p[i]) != len(src[i]) {
			panic("net: ParamSet size mismatch for " + Tensor(i).String())
		}
		copy(p[i], src[i])
	}
}

// Zero clears every tensor.
func (p ParamSet) Zero() {
	for i := range p {
		clear(p[i])
	}
}

// Len returns the total number of parameters.
func (p ParamSet) Len() int {
	n := 0
	for i := range p {
		n += len(p[i])
	}
	return n
}
