// Package layer provides the layer entities of the network: their shape
// metadata and the parameter tensors they own.
package layer

import (
	"math"
	"math/rand"
)

// Parametric is a layer that owns a weight tensor and a bias vector.
type Parametric interface {
	Params() (weights, bias []float32)
	// FanIn is the fan used for Xavier initialisation.
	FanIn() int
}

// XavierFill draws every weight and bias of l from U(-s, s) with
// s = sqrt(3 / fan).
func XavierFill(l Parametric, rng *rand.Rand) {
	scale := float32(math.Sqrt(3.0 / float64(l.FanIn())))
	weights, bias := l.Params()
	for i := range weights {
		weights[i] = rng.Float32()*2*scale - scale
	}
	for i := range bias {
		bias[i] = rng.Float32()*2*scale - scale
	}
}
