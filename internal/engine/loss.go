package engine

import "github.com/FlavioCFOliveira/admmnet/internal/loss"

// LossSeed writes the gradient of the mean cross-entropy with respect to
// the logits: (softmax - onehot(label)) / batch.
func LossSeed(seed, probs, labels []float32, classes int) {
	loss.CrossEntropy{}.BackwardInPlace(probs, labels, seed, classes)
}

// CrossEntropy returns the mean negative log-likelihood of the labels.
func CrossEntropy(probs, labels []float32, classes int) float64 {
	return loss.CrossEntropy{}.Forward(probs, labels, classes)
}

// Argmax returns the index of the largest value per row.
func Argmax(probs []float32, classes int) []int {
	out := make([]int, len(probs)/classes)
	for n := range out {
		row := probs[n*classes : (n+1)*classes]
		best := 0
		for i, v := range row {
			if v > row[best] {
				best = i
			}
		}
		out[n] = best
	}
	return out
}
