// Package opt provides the optimization steps applied to parameter sets.
package opt

import (
	"github.com/FlavioCFOliveira/admmnet/internal/net"
	"gonum.org/v1/gonum/blas/blas32"
)

// Optimizer updates parameters in place from their gradients.
type Optimizer interface {
	// StepInPlace updates params in-place: params = params - lr * gradients
	StepInPlace(lr float32, params, gradients net.ParamSet)
}

// SGD (Stochastic Gradient Descent) optimizer.
type SGD struct{}

// StepInPlace updates params in-place: params = params - lr * gradients
func (SGD) StepInPlace(lr float32, params, gradients net.ParamSet) {
	for i := range params {
		axpy(-lr, gradients[i], params[i])
	}
}

// axpy computes y += alpha*x.
func axpy(alpha float32, x, y []float32) {
	if len(x) != len(y) {
		panic("opt: axpy size mismatch")
	}
	blas32.Axpy(alpha, vec(x), vec(y))
}

func vec(x []float32) blas32.Vector {
	return blas32.Vector{N: len(x), Inc: 1, Data: x}
}
