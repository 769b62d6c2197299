// Package activations provides the activation functions of the network,
// applied to whole float32 buffers.
package activations

import "math"

// ReLU activation function.
type ReLU struct{}

// Forward computes dst = max(0, x)
func (ReLU) Forward(dst, x []float32) {
	for i, v := range x {
		if v > 0 {
			dst[i] = v
		} else {
			dst[i] = 0
		}
	}
}

// Backward passes dy through where the pre-activation x is positive and
// writes zero elsewhere.
func (ReLU) Backward(dx, x, dy []float32) {
	for i, v := range x {
		if v > 0 {
			dx[i] = dy[i]
		} else {
			dx[i] = 0
		}
	}
}

// Softmax activation function for the output layer.
type Softmax struct{}

// Forward computes softmax over each row of width classes.
// The row maximum is subtracted first for numerical stability.
func (Softmax) Forward(dst, x []float32, classes int) {
	for off := 0; off < len(x); off += classes {
		softmaxRow(dst[off:off+classes], x[off:off+classes])
	}
}

func softmaxRow(dst, x []float32) {
	maxVal := x[0]
	for _, v := range x[1:] {
		if v > maxVal {
			maxVal = v
		}
	}

	sum := 0.0
	for i, v := range x {
		e := math.Exp(float64(v - maxVal))
		dst[i] = float32(e)
		sum += e
	}

	for i := range dst {
		dst[i] = float32(float64(dst[i]) / sum)
	}
}
