// Package loss provides the classification loss and its gradient.
package loss

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas/blas32"
)

// CrossEntropy loss for classification over softmax probabilities, with
// targets given as class indices.
type CrossEntropy struct{}

// Forward computes the mean of -log(p[label]) over the batch.
func (CrossEntropy) Forward(probs, labels []float32, classes int) float64 {
	checkSizes(probs, labels, classes)

	const eps = 1e-10
	var sum float64
	for n, l := range labels {
		// Clip prediction to avoid log(0)
		pred := float64(probs[n*classes+index(l, classes)])
		if pred < eps {
			pred = eps
		}
		sum -= math.Log(pred)
	}
	return sum / float64(len(labels))
}

// BackwardInPlace writes the gradient of Forward with respect to the
// logits into grad. For cross entropy + softmax this simplifies to
// (probs - onehot(label)) / batch.
func (CrossEntropy) BackwardInPlace(probs, labels, grad []float32, classes int) {
	checkSizes(probs, labels, classes)
	if len(grad) != len(probs) {
		panic(fmt.Sprintf("CrossEntropy: grad has %d values, want %d", len(grad), len(probs)))
	}

	copy(grad, probs)
	for n, l := range labels {
		grad[n*classes+index(l, classes)] -= 1
	}
	blas32.Scal(1/float32(len(labels)), blas32.Vector{N: len(grad), Inc: 1, Data: grad})
}

func checkSizes(probs, labels []float32, classes int) {
	if len(probs) != len(labels)*classes {
		panic(fmt.Sprintf("CrossEntropy: %d probabilities for %d labels of %d classes", len(probs), len(labels), classes))
	}
}

func index(l float32, classes int) int {
	idx := int(l)
	if idx < 0 || idx >= classes {
		panic(fmt.Sprintf("CrossEntropy: label %v outside [0, %d)", l, classes))
	}
	return idx
}
